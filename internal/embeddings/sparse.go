package embeddings

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// SparseVector is a BM25-style term-weight vector for the hybrid
// collection's sparse side. Indices are stable token hashes, so documents
// and queries encoded by the same encoder land in the same space.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// BM25 parameters. avgLen matches the corpus-free normalization the sparse
// models shipped with common vector databases use.
const (
	bm25K1     = 1.2
	bm25B      = 0.75
	bm25AvgLen = 256.0
)

// SparseEncoder turns text into BM25 term weights. Stateless and safe for
// concurrent use.
type SparseEncoder struct{}

// NewSparseEncoder returns the encoder.
func NewSparseEncoder() *SparseEncoder {
	return &SparseEncoder{}
}

// Encode tokenizes, hashes, and BM25-weights the text. Returns an empty
// vector for texts with no usable tokens.
func (e *SparseEncoder) Encode(text string) SparseVector {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return SparseVector{}
	}

	counts := make(map[uint32]int, len(tokens))
	for _, tok := range tokens {
		counts[tokenHash(tok)]++
	}

	docLen := float64(len(tokens))
	norm := bm25K1 * (1 - bm25B + bm25B*docLen/bm25AvgLen)

	sv := SparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx, count := range counts {
		tf := float64(count)
		sv.Indices = append(sv.Indices, idx)
		sv.Values = append(sv.Values, float32(tf*(bm25K1+1)/(tf+norm)))
	}
	return sv
}

func tokenHash(token string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return h.Sum32()
}

// tokenize lowercases, splits on non-alphanumeric runes, and drops
// stopwords and single characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := sparseStopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

var sparseStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"he": {}, "her": {}, "his": {}, "i": {}, "if": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {},
	"she": {}, "so": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {},
	"will": {}, "with": {}, "you": {}, "your": {},
}
