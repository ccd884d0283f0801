package document

import (
	"fmt"
	"sort"
	"strings"
)

// Format is a supported upload format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatPPTX     Format = "pptx"
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
)

// allowedFormats maps each accepted format to its MIME content type.
var allowedFormats = map[Format]string{
	FormatPDF:      "application/pdf",
	FormatDOCX:     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatPPTX:     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	FormatText:     "text/plain",
	FormatMarkdown: "text/markdown",
}

// ParseFormat normalizes and validates a format string, typically a file
// extension from an upload.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "."))))
	if _, ok := allowedFormats[f]; !ok {
		return "", fmt.Errorf("%w: unsupported format %q (supported: %s)",
			ErrValidation, s, strings.Join(Formats(), ", "))
	}
	return f, nil
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	return allowedFormats[f]
}

// Formats lists the supported format names in sorted order.
func Formats() []string {
	out := make([]string, 0, len(allowedFormats))
	for f := range allowedFormats {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}
