// Package attachments turns uploaded files into indexable document chunks:
// type and size validation, text extraction (plain, markdown, PDF), and
// overlap chunking sized for the embedding model.
package attachments

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrBlockedType indicates an executable or otherwise disallowed extension.
	ErrBlockedType = errors.New("attachments: blocked file type")
	// ErrUnsupportedType indicates a type outside the processing whitelist.
	ErrUnsupportedType = errors.New("attachments: unsupported file type")
	// ErrTooLarge indicates the file exceeds the size ceiling.
	ErrTooLarge = errors.New("attachments: file too large")
	// ErrNeedsOCR indicates a PDF with no extractable text layer.
	ErrNeedsOCR = errors.New("attachments: no text layer, needs OCR")
)

// MaxSizeBytes is the processing ceiling. A file of exactly this size is
// accepted.
const MaxSizeBytes = 10 << 20

var allowedExts = map[string]bool{
	"pdf": true, "txt": true, "md": true,
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true,
}

var blockedExts = map[string]bool{
	"exe": true, "bat": true, "sh": true, "ps1": true,
	"dll": true, "so": true, "bin": true,
}

var imageExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true,
}

// Ext returns the lowercase extension of filename without the dot.
func Ext(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// Validate rejects files that must not be processed. The blocklist wins
// over the whitelist so a double extension like "notes.txt.exe" is refused.
func Validate(filename string, sizeBytes int64) error {
	ext := Ext(filename)
	if blockedExts[ext] {
		return fmt.Errorf("%w: .%s", ErrBlockedType, ext)
	}
	if !allowedExts[ext] {
		return fmt.Errorf("%w: .%s", ErrUnsupportedType, ext)
	}
	if sizeBytes > MaxSizeBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, sizeBytes, MaxSizeBytes)
	}
	return nil
}

// IsImage reports whether the file is handled by vision captioning instead
// of text extraction.
func IsImage(filename string) bool {
	return imageExts[Ext(filename)]
}
