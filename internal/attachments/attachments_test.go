package attachments

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int64
		wantErr  error
	}{
		{"pdf accepted", "report.pdf", 1024, nil},
		{"uppercase extension", "NOTES.TXT", 10, nil},
		{"exactly at limit", "big.pdf", MaxSizeBytes, nil},
		{"one byte over", "big.pdf", MaxSizeBytes + 1, ErrTooLarge},
		{"executable blocked", "setup.exe", 10, ErrBlockedType},
		{"shell script blocked", "run.sh", 10, ErrBlockedType},
		{"double extension blocked", "notes.txt.exe", 10, ErrBlockedType},
		{"unknown type", "archive.zip", 10, ErrUnsupportedType},
		{"no extension", "README", 10, ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.filename, tt.size)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("photo.PNG"))
	assert.True(t, IsImage("anim.gif"))
	assert.False(t, IsImage("doc.pdf"))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := NewChunker(1000, 200)
	chunks := c.Split("just a short note")
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a short note", chunks[0].Text)
}

func TestSplitEmpty(t *testing.T) {
	c := NewChunker(1000, 200)
	assert.Empty(t, c.Split("   \n\n  "))
}

func TestSplitRespectsSizeAndOverlap(t *testing.T) {
	c := NewChunker(100, 20)
	para := strings.Repeat("word ", 12) // 60 chars, fits whole
	text := strings.Join([]string{para, para, para, para}, "\n\n")

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), 100, "chunk %d", i)
		assert.Equal(t, i, chunk.Index)
	}
	// The overlap tail of chunk 0 reappears at the start of chunk 1.
	tail := chunks[0].Text[len(chunks[0].Text)-10:]
	assert.Contains(t, chunks[1].Text, tail)
}

func TestSplitOversizedSentenceHardSplits(t *testing.T) {
	c := NewChunker(50, 10)
	chunks := c.Split(strings.Repeat("x", 180)) // no spaces, no punctuation
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), 50)
	}
	var joined strings.Builder
	for _, chunk := range chunks {
		joined.WriteString(chunk.Text)
	}
	assert.Contains(t, joined.String(), strings.Repeat("x", 50))
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second here! Third? trailing fragment")
	assert.Equal(t, []string{"First one.", "Second here!", "Third?", "trailing fragment"}, got)
}

func TestSplitMarkdownHeadingContext(t *testing.T) {
	doc := strings.Join([]string{
		"intro before any heading",
		"",
		"# Guide",
		"top level text",
		"",
		"## Setup",
		"setup text",
		"",
		"### Linux",
		"linux text",
		"",
		"## Usage",
		"usage text",
	}, "\n")

	chunks := NewChunker(1000, 200).SplitMarkdown(doc)
	require.Len(t, chunks, 5)

	assert.Equal(t, "", chunks[0].HeadingContext)
	assert.Equal(t, "Guide", chunks[1].HeadingContext)
	assert.Equal(t, "Guide > Setup", chunks[2].HeadingContext)
	assert.Equal(t, "Guide > Setup > Linux", chunks[3].HeadingContext)
	assert.Equal(t, "Guide > Usage", chunks[4].HeadingContext, "sibling heading pops the deeper level")
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestSplitMarkdownIgnoresFencedHashes(t *testing.T) {
	doc := "# Real\ntext\n```\n# not a heading\n```\nmore"
	chunks := NewChunker(1000, 200).SplitMarkdown(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Real", chunks[0].HeadingContext)
	assert.Contains(t, chunks[0].Text, "# not a heading")
}

func TestDecodeTextUTF8Passthrough(t *testing.T) {
	assert.Equal(t, "héllo ✓", DecodeText([]byte("héllo ✓")))
}

func TestDecodeTextLatin1Fallback(t *testing.T) {
	// 0xE9 alone is invalid UTF-8 but is é in Latin-1.
	got := DecodeText([]byte{'c', 'a', 'f', 0xE9})
	assert.Equal(t, "café", got)
	assert.True(t, utf8.ValidString(got))
}

func TestDecodeTextStripsBOM(t *testing.T) {
	assert.Equal(t, "hi", DecodeText([]byte{0xEF, 0xBB, 0xBF, 'h', 'i'}))
}

func TestExtractTextUnsupported(t *testing.T) {
	_, err := ExtractText("data.csv", []byte("a,b"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
