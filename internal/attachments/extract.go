package attachments

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ExtractText returns the indexable text of a non-image attachment.
func ExtractText(filename string, data []byte) (string, error) {
	switch Ext(filename) {
	case "pdf":
		return extractPDF(data)
	case "txt", "md":
		return DecodeText(data), nil
	default:
		return "", fmt.Errorf("%w: .%s", ErrUnsupportedType, Ext(filename))
	}
}

// extractPDF concatenates the plain text of every page. Pages whose
// extraction fails are skipped; a document yielding nothing at all is
// assumed to be scanned and reported as ErrNeedsOCR so the caller can
// defer it rather than index an empty chunk.
func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("attachments: open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(text))
	}
	if sb.Len() == 0 {
		return "", ErrNeedsOCR
	}
	return sb.String(), nil
}

// DecodeText interprets data as UTF-8, falling back to Latin-1 when the
// bytes are not valid UTF-8. Latin-1 maps every byte to the code point of
// the same value, so the fallback never fails.
func DecodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data)
	}
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}
