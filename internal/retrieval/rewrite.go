package retrieval

import (
	"regexp"
	"strings"
)

// attachmentMarkerRe matches the "[Attachments: a.pdf, b.png]" markers that
// ingest appends to message content. They are noise for embedding.
var attachmentMarkerRe = regexp.MustCompile(`\[Attachments?:[^\]]*\]`)

// RewriteQuery strips attachment markers and collapses whitespace so the
// embedded query reflects what the user actually asked.
func RewriteQuery(query string) string {
	query = attachmentMarkerRe.ReplaceAllString(query, " ")
	return strings.Join(strings.Fields(query), " ")
}

// HadAttachmentMarker reports whether the raw query carried an attachment
// marker. Checked before RewriteQuery strips it: a marker means the
// question is about an uploaded file even when no keyword survives.
func HadAttachmentMarker(query string) bool {
	return attachmentMarkerRe.MatchString(query)
}

// documentKeywords signal the user is asking about uploaded files rather
// than conversation.
var documentKeywords = []string{
	"file", "files", "document", "documents", "pdf", "attachment",
	"attachments", "upload", "uploaded", "doc", "docs",
}

// HasDocumentIntent reports whether the query mentions uploaded documents,
// which biases retrieval toward document-sourced points.
func HasDocumentIntent(query string) bool {
	lower := strings.ToLower(query)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, tok := range tokens {
		for _, kw := range documentKeywords {
			if tok == kw {
				return true
			}
		}
	}
	return false
}
