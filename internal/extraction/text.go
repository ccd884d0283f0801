package extraction

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

// TextExtractor handles plain text and markdown. Markdown syntax is kept as
// written; it chunks and embeds well without stripping.
type TextExtractor struct{}

// NewTextExtractor creates a TextExtractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Formats returns the formats handled by this extractor.
func (e *TextExtractor) Formats() []document.Format {
	return []document.Format{document.FormatText, document.FormatMarkdown}
}

// Extract reads the content, rejects invalid UTF-8, and normalizes line
// endings to \n.
func (e *TextExtractor) Extract(_ context.Context, r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrCorruptFile)
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}
