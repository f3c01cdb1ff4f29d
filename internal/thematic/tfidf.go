package thematic

import (
	"math"
	"sort"
	"strings"
)

// Vectorizer parameters.
const (
	maxFeatures = 500
	minDF       = 2
	maxDFRatio  = 0.8
)

// vectorize builds TF-IDF rows over unigrams and bigrams. Terms must appear
// in at least minDF documents and at most maxDFRatio of them; the vocabulary
// keeps the maxFeatures highest-document-frequency survivors. Rows are
// L2-normalized so centroid distances behave like cosine distances.
func vectorize(docs []string) (vocab []string, rows [][]float64) {
	n := len(docs)
	if n == 0 {
		return nil, nil
	}

	docTerms := make([]map[string]int, n)
	df := make(map[string]int)
	for i, doc := range docs {
		counts := make(map[string]int)
		for _, term := range ngrams(doc) {
			counts[term]++
		}
		docTerms[i] = counts
		for term := range counts {
			df[term]++
		}
	}

	maxDF := int(maxDFRatio * float64(n))
	if maxDF < minDF {
		maxDF = minDF
	}
	type termDF struct {
		term string
		df   int
	}
	candidates := make([]termDF, 0, len(df))
	for term, count := range df {
		if count >= minDF && count <= maxDF {
			candidates = append(candidates, termDF{term, count})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].df != candidates[j].df {
			return candidates[i].df > candidates[j].df
		}
		return candidates[i].term < candidates[j].term
	})
	if len(candidates) > maxFeatures {
		candidates = candidates[:maxFeatures]
	}

	vocab = make([]string, len(candidates))
	index := make(map[string]int, len(candidates))
	idf := make([]float64, len(candidates))
	for i, c := range candidates {
		vocab[i] = c.term
		index[c.term] = i
		idf[i] = math.Log(float64(1+n)/float64(1+c.df)) + 1
	}

	rows = make([][]float64, n)
	for i, counts := range docTerms {
		row := make([]float64, len(vocab))
		for term, count := range counts {
			if j, ok := index[term]; ok {
				row[j] = float64(count) * idf[j]
			}
		}
		normalize(row)
		rows[i] = row
	}
	return vocab, rows
}

func normalize(row []float64) {
	var sum float64
	for _, v := range row {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range row {
		row[i] /= norm
	}
}

// ngrams emits stopword-filtered unigrams and bigrams.
func ngrams(text string) []string {
	tokens := tokenizeWords(text)
	out := make([]string, 0, len(tokens)*2)
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

func tokenizeWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		isLower := 'a' <= r && r <= 'z'
		isDigit := '0' <= r && r <= '9'
		return !isLower && !isDigit && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if len(f) > 1 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopwords = func() map[string]bool {
	words := []string{
		"a", "about", "above", "after", "again", "against", "all", "am", "an",
		"and", "any", "are", "aren't", "as", "at", "be", "because", "been",
		"before", "being", "below", "between", "both", "but", "by", "can't",
		"cannot", "could", "couldn't", "did", "didn't", "do", "does", "doesn't",
		"doing", "don't", "down", "during", "each", "few", "for", "from",
		"further", "had", "hadn't", "has", "hasn't", "have", "haven't",
		"having", "he", "he'd", "he'll", "he's", "her", "here", "here's",
		"hers", "herself", "him", "himself", "his", "how", "how's", "i", "i'd",
		"i'll", "i'm", "i've", "if", "in", "into", "is", "isn't", "it", "it's",
		"its", "itself", "let's", "me", "more", "most", "mustn't", "my",
		"myself", "no", "nor", "not", "of", "off", "on", "once", "only", "or",
		"other", "ought", "our", "ours", "ourselves", "out", "over", "own",
		"same", "shan't", "she", "she'd", "she'll", "she's", "should",
		"shouldn't", "so", "some", "such", "than", "that", "that's", "the",
		"their", "theirs", "them", "themselves", "then", "there", "there's",
		"these", "they", "they'd", "they'll", "they're", "they've", "this",
		"those", "through", "to", "too", "under", "until", "up", "very", "was",
		"wasn't", "we", "we'd", "we'll", "we're", "we've", "were", "weren't",
		"what", "what's", "when", "when's", "where", "where's", "which",
		"while", "who", "who's", "whom", "why", "why's", "with", "won't",
		"would", "wouldn't", "you", "you'd", "you'll", "you're", "you've",
		"your", "yours", "yourself", "yourselves",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
