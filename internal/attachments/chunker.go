package attachments

import (
	"strings"
	"unicode/utf8"
)

// Chunking defaults, sized for the embedding model's useful context.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk is one indexable slice of a document.
type Chunk struct {
	Index int
	Text  string
	// HeadingContext is the heading path for markdown chunks, empty
	// otherwise.
	HeadingContext string
}

// Chunker splits extracted text with overlap, preferring paragraph breaks,
// then sentence breaks, then a hard character split.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker builds a chunker; non-positive values take the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap <= 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split chunks text. Pieces are packed greedily up to Size runes; each
// chunk after the first starts with the tail of its predecessor so context
// straddling a boundary is searchable from both sides.
func (c *Chunker) Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.Size {
		return []Chunk{{Index: 0, Text: text}}
	}

	pieces := c.pieces(text)
	chunks := make([]Chunk, 0, len(pieces))
	var current []rune
	flush := func() {
		if len(current) == 0 {
			return
		}
		body := strings.TrimSpace(string(current))
		if body != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: body})
		}
		// Carry the overlap tail into the next chunk.
		if len(current) > c.Overlap {
			current = append([]rune(nil), current[len(current)-c.Overlap:]...)
		}
	}

	for _, piece := range pieces {
		runes := []rune(piece)
		if len(current)+len(runes)+1 > c.Size && len(current) > 0 {
			flush()
		}
		// Shrink the carried tail when a near-Size piece follows, so the
		// overlap never pushes a chunk past Size.
		if keep := c.Size - len(runes) - 1; len(current) > keep {
			if keep <= 0 {
				current = current[:0]
			} else {
				current = current[len(current)-keep:]
			}
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, runes...)
	}
	if body := strings.TrimSpace(string(current)); body != "" {
		chunks = append(chunks, Chunk{Index: len(chunks), Text: body})
	}
	return chunks
}

// pieces decomposes text into units no larger than Size: paragraphs first,
// oversized paragraphs into sentences, oversized sentences into hard slices.
func (c *Chunker) pieces(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= c.Size {
			out = append(out, para)
			continue
		}
		for _, sentence := range splitSentences(para) {
			if utf8.RuneCountInString(sentence) <= c.Size {
				out = append(out, sentence)
				continue
			}
			out = append(out, hardSplit(sentence, c.Size)...)
		}
	}
	return out
}

// splitSentences breaks on sentence-ending punctuation followed by
// whitespace. Good enough for chat exports and documents; a trailing
// fragment without punctuation is kept.
func splitSentences(s string) []string {
	var out []string
	start := 0
	runes := []rune(s)
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if runes[i+1] == ' ' || runes[i+1] == '\n' {
				out = append(out, strings.TrimSpace(string(runes[start:i+1])))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

func hardSplit(s string, size int) []string {
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
