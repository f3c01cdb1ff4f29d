package retrieval

import (
	"sort"
	"strings"
)

// Blend weights. The fused score from the vector index keeps a minority
// stake so lexically irrelevant but semantically close hits are demoted,
// not dropped.
const (
	DefaultRerankWeight = 0.6
	rerankOversample    = 2
)

// TermOverlapReranker scores candidates by the fraction of query terms
// present in the candidate preview, then blends that with the normalized
// fusion score.
type TermOverlapReranker struct {
	// Weight of the overlap score; the fusion score gets 1-Weight.
	Weight float32
}

// NewTermOverlapReranker builds a reranker; a non-positive weight takes the
// default.
func NewTermOverlapReranker(weight float32) *TermOverlapReranker {
	if weight <= 0 || weight > 1 {
		weight = DefaultRerankWeight
	}
	return &TermOverlapReranker{Weight: weight}
}

// Rerank reorders results in place by blended score and truncates to topK.
// Fusion scores are normalized by the best candidate so reciprocal-rank
// magnitudes compare with the [0,1] overlap score.
func (r *TermOverlapReranker) Rerank(query string, results []Result, topK int) []Result {
	if len(results) == 0 {
		return results
	}
	queryTerms := rerankTerms(query)
	if len(queryTerms) == 0 {
		if topK > 0 && len(results) > topK {
			results = results[:topK]
		}
		return results
	}

	var maxFusion float32
	for _, res := range results {
		if res.FusionScore > maxFusion {
			maxFusion = res.FusionScore
		}
	}

	for i := range results {
		overlap := termOverlap(queryTerms, results[i].Preview)
		normalized := float32(0)
		if maxFusion > 0 {
			normalized = results[i].FusionScore / maxFusion
		}
		results[i].RerankScore = overlap
		results[i].Score = r.Weight*overlap + (1-r.Weight)*normalized
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

var rerankStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "have": true, "has": true, "had": true, "do": true,
	"does": true, "did": true, "will": true, "would": true, "can": true,
	"this": true, "that": true, "these": true, "those": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "about": true,
}

func rerankTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, tok := range tokenizeAlnum(text) {
		if len(tok) > 2 && !rerankStopwords[tok] {
			terms[tok] = true
		}
	}
	return terms
}

func termOverlap(queryTerms map[string]bool, text string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, tok := range tokenizeAlnum(text) {
		if queryTerms[tok] {
			present[tok] = true
		}
	}
	return float32(len(present)) / float32(len(queryTerms))
}

func tokenizeAlnum(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		isLower := 'a' <= r && r <= 'z'
		isDigit := '0' <= r && r <= '9'
		return !isLower && !isDigit && r != '_'
	})
}
