// Package extraction converts stored document content into plain text ahead
// of chunking.
//
// Each supported format has one Extractor; the Registry routes by format.
// Extraction failures are permanent: a corrupt file will not parse better on
// retry.
package extraction

import (
	"context"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

var (
	// ErrUnsupportedFormat indicates no extractor is registered for the format.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", document.ErrPermanent)

	// ErrCorruptFile indicates the content does not parse as its declared format.
	ErrCorruptFile = fmt.Errorf("%w: corrupt file", document.ErrPermanent)

	// ErrNoText indicates the file parsed but yielded no extractable text.
	ErrNoText = fmt.Errorf("%w: document contains no extractable text", document.ErrPermanent)
)

// Extractor converts one document format into plain text.
type Extractor interface {
	// Extract reads the full content and returns its plain text.
	Extract(ctx context.Context, r io.Reader) (string, error)

	// Formats lists the formats this extractor handles.
	Formats() []document.Format
}

// Registry routes extraction requests to the extractor for a format.
type Registry struct {
	byFormat map[document.Format]Extractor
}

// NewRegistry builds a registry from the given extractors. A later extractor
// claiming an already-registered format wins.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byFormat: make(map[document.Format]Extractor)}
	for _, e := range extractors {
		for _, f := range e.Formats() {
			r.byFormat[f] = e
		}
	}
	return r
}

// NewDefaultRegistry returns a registry covering every format corpusd accepts.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewTextExtractor(),
		NewPDFExtractor(),
		NewDocxExtractor(),
		NewPptxExtractor(),
	)
}

// Extract runs the extractor registered for format.
func (r *Registry) Extract(ctx context.Context, format document.Format, reader io.Reader) (string, error) {
	e, ok := r.byFormat[format]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return e.Extract(ctx, reader)
}

// Supports reports whether a format has a registered extractor.
func (r *Registry) Supports(format document.Format) bool {
	_, ok := r.byFormat[format]
	return ok
}
