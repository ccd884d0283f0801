package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

// DocxExtractor extracts text from Word documents. OOXML files are zip
// archives; the body text lives in word/document.xml.
type DocxExtractor struct{}

// NewDocxExtractor creates a DocxExtractor.
func NewDocxExtractor() *DocxExtractor {
	return &DocxExtractor{}
}

// Formats returns the formats handled by this extractor.
func (e *DocxExtractor) Formats() []document.Format {
	return []document.Format{document.FormatDOCX}
}

// Extract pulls paragraph text out of the document body.
func (e *DocxExtractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	archive, err := openArchive(r)
	if err != nil {
		return "", err
	}

	body, err := readArchiveFile(archive, "word/document.xml")
	if err != nil {
		return "", fmt.Errorf("%w: missing document body", ErrCorruptFile)
	}

	text, err := xmlText(ctx, body, "p")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

// PptxExtractor extracts text from PowerPoint decks, slide by slide.
type PptxExtractor struct{}

// NewPptxExtractor creates a PptxExtractor.
func NewPptxExtractor() *PptxExtractor {
	return &PptxExtractor{}
}

// Formats returns the formats handled by this extractor.
func (e *PptxExtractor) Formats() []document.Format {
	return []document.Format{document.FormatPPTX}
}

// Extract pulls text from every slide in deck order, slides separated by a
// blank line.
func (e *PptxExtractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	archive, err := openArchive(r)
	if err != nil {
		return "", err
	}

	var slides []string
	for _, f := range archive.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f.Name)
		}
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("%w: no slides", ErrCorruptFile)
	}
	// Deck order is numeric: a lexicographic sort would put slide10 before
	// slide2 and scramble the text.
	sort.Slice(slides, func(i, j int) bool {
		return slideIndex(slides[i]) < slideIndex(slides[j])
	})

	var parts []string
	for _, name := range slides {
		body, err := readArchiveFile(archive, name)
		if err != nil {
			return "", fmt.Errorf("%w: reading %s", ErrCorruptFile, name)
		}
		text, err := xmlText(ctx, body, "a:p")
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, strings.TrimSpace(text))
		}
	}

	out := strings.Join(parts, "\n\n")
	if strings.TrimSpace(out) == "" {
		return "", ErrNoText
	}
	return out, nil
}

// slideIndex parses the numeric index from a slide path such as
// ppt/slides/slide12.xml. Unparseable names sort last.
func slideIndex(name string) int {
	n := strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml")
	idx, err := strconv.Atoi(n)
	if err != nil {
		return math.MaxInt
	}
	return idx
}

func openArchive(r io.Reader) (*zip.Reader, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	return archive, nil
}

func readArchiveFile(archive *zip.Reader, name string) ([]byte, error) {
	f, err := archive.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// xmlText walks an OOXML fragment and collects character data, inserting a
// paragraph break after each closing element named paragraphTag.
func xmlText(ctx context.Context, body []byte, paragraphTag string) (string, error) {
	localTag := paragraphTag
	if i := strings.IndexByte(paragraphTag, ':'); i >= 0 {
		localTag = paragraphTag[i+1:]
	}

	var b strings.Builder
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCorruptFile, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if t.Name.Local == localTag {
				b.WriteString("\n\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
