package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

func TestRegistryRouting(t *testing.T) {
	reg := NewDefaultRegistry()

	for _, f := range []document.Format{
		document.FormatText,
		document.FormatMarkdown,
		document.FormatPDF,
		document.FormatDOCX,
		document.FormatPPTX,
	} {
		assert.True(t, reg.Supports(f), "format %s", f)
	}

	_, err := reg.Extract(context.Background(), document.Format("tiff"), strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, err, document.ErrPermanent)
}

func TestTextExtractor(t *testing.T) {
	e := NewTextExtractor()
	ctx := context.Background()

	t.Run("normalizes line endings", func(t *testing.T) {
		text, err := e.Extract(ctx, strings.NewReader("one\r\ntwo\rthree"))
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\nthree", text)
	})

	t.Run("rejects invalid utf8", func(t *testing.T) {
		_, err := e.Extract(ctx, bytes.NewReader([]byte{0xff, 0xfe, 0x41}))
		assert.ErrorIs(t, err, ErrCorruptFile)
	})

	t.Run("rejects whitespace-only content", func(t *testing.T) {
		_, err := e.Extract(ctx, strings.NewReader("  \n\t "))
		assert.ErrorIs(t, err, ErrNoText)
	})
}

func TestPDFExtractorCorruptInput(t *testing.T) {
	e := NewPDFExtractor()
	_, err := e.Extract(context.Background(), strings.NewReader("not a pdf"))
	assert.ErrorIs(t, err, ErrCorruptFile)
	assert.ErrorIs(t, err, document.ErrPermanent)
}

// buildOOXML writes an in-memory zip with the given entries.
func buildOOXML(t *testing.T, entries map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return bytes.NewReader(buf.Bytes())
}

func TestDocxExtractor(t *testing.T) {
	e := NewDocxExtractor()
	ctx := context.Background()

	t.Run("extracts paragraphs", func(t *testing.T) {
		docXML := `<?xml version="1.0"?>` +
			`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
			`<w:body>` +
			`<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>` +
			`</w:body></w:document>`
		r := buildOOXML(t, map[string]string{"word/document.xml": docXML})

		text, err := e.Extract(ctx, r)
		require.NoError(t, err)
		assert.Contains(t, text, "First paragraph.")
		assert.Contains(t, text, "Second paragraph.")
		assert.Contains(t, text, "\n\n")
	})

	t.Run("missing body is corrupt", func(t *testing.T) {
		r := buildOOXML(t, map[string]string{"other.xml": "<x/>"})
		_, err := e.Extract(ctx, r)
		assert.ErrorIs(t, err, ErrCorruptFile)
	})

	t.Run("not a zip is corrupt", func(t *testing.T) {
		_, err := e.Extract(ctx, strings.NewReader("plain text"))
		assert.ErrorIs(t, err, ErrCorruptFile)
	})
}

func TestPptxExtractor(t *testing.T) {
	e := NewPptxExtractor()
	ctx := context.Background()

	slide := func(text string) string {
		return `<?xml version="1.0"?>` +
			`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
			`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
			`<a:p><a:r><a:t>` + text + `</a:t></a:r></a:p>` +
			`</p:sld>`
	}

	t.Run("extracts slides in order", func(t *testing.T) {
		r := buildOOXML(t, map[string]string{
			"ppt/slides/slide1.xml": slide("Slide one"),
			"ppt/slides/slide2.xml": slide("Slide two"),
		})
		text, err := e.Extract(ctx, r)
		require.NoError(t, err)
		assert.Contains(t, text, "Slide one")
		assert.Contains(t, text, "Slide two")
		assert.Less(t, strings.Index(text, "Slide one"), strings.Index(text, "Slide two"))
	})

	t.Run("double-digit slides keep deck order", func(t *testing.T) {
		entries := make(map[string]string, 12)
		var want []string
		for i := 1; i <= 12; i++ {
			marker := fmt.Sprintf("SLIDE-%02d", i)
			entries[fmt.Sprintf("ppt/slides/slide%d.xml", i)] = slide(marker)
			want = append(want, marker)
		}

		text, err := e.Extract(ctx, buildOOXML(t, entries))
		require.NoError(t, err)

		var got []string
		for _, part := range strings.Split(text, "\n\n") {
			got = append(got, strings.TrimSpace(part))
		}
		assert.Equal(t, want, got)
	})

	t.Run("no slides is corrupt", func(t *testing.T) {
		r := buildOOXML(t, map[string]string{"ppt/other.xml": "<x/>"})
		_, err := e.Extract(ctx, r)
		assert.ErrorIs(t, err, ErrCorruptFile)
	})
}
