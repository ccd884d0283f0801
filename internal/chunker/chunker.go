// Package chunker splits extracted document text into overlapping,
// token-bounded chunks.
//
// Splitting is deterministic: the same text and settings always produce the
// same chunk boundaries. Chunk boundaries prefer paragraph breaks, then
// sentence breaks, and fall back to a hard cut when a single sentence
// exceeds the window.
package chunker

import (
	"fmt"
	"strings"
)

// Config controls chunk sizing.
type Config struct {
	// MaxTokens is the chunk window size in tokens.
	MaxTokens int

	// Overlap is the number of trailing tokens repeated at the start of the
	// next chunk. Must be smaller than MaxTokens.
	Overlap int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxTokens {
		return fmt.Errorf("overlap must be in [0, max_tokens), got %d", c.Overlap)
	}
	return nil
}

// Chunk is one window of the source text.
type Chunk struct {
	// SequenceIndex is the chunk's zero-based position in the document.
	SequenceIndex int

	// Text is the chunk content with original spacing preserved.
	Text string

	// TokenCount is the number of tokens in Text.
	TokenCount int
}

// Chunker splits text according to its Config.
type Chunker struct {
	cfg Config
}

// New creates a Chunker.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// boundary strength at a token position.
const (
	breakNone = iota
	breakSentence
	breakParagraph
)

// token is a word plus the whitespace run that follows it in the source.
type token struct {
	text     string
	trailing string
	brk      int
}

// CountTokens returns the token count of text under the chunker's
// tokenization, for budgeting retrieval context.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Split splits text into chunks. Whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []Chunk {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(tokens) {
		end := c.cutPoint(tokens, start)
		chunks = append(chunks, Chunk{
			SequenceIndex: len(chunks),
			Text:          render(tokens[start:end]),
			TokenCount:    end - start,
		})
		if end == len(tokens) {
			break
		}
		next := end - c.cfg.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// cutPoint returns the exclusive end index of the chunk starting at start,
// preferring the latest paragraph break inside the window, then the latest
// sentence break, then a hard cut.
func (c *Chunker) cutPoint(tokens []token, start int) int {
	limit := start + c.cfg.MaxTokens
	if limit >= len(tokens) {
		return len(tokens)
	}

	bestSentence := -1
	bestParagraph := -1
	for i := start; i < limit; i++ {
		switch tokens[i].brk {
		case breakParagraph:
			bestParagraph = i
		case breakSentence:
			bestSentence = i
		}
	}
	if bestParagraph >= start {
		return bestParagraph + 1
	}
	if bestSentence >= start {
		return bestSentence + 1
	}
	return limit
}

// tokenize splits text into words carrying their trailing whitespace and
// break strength.
func tokenize(text string) []token {
	var tokens []token
	i := 0
	for i < len(text) {
		// Skip leading whitespace before the first word.
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		if i >= len(text) {
			break
		}
		wordStart := i
		for i < len(text) && !isSpace(text[i]) {
			i++
		}
		word := text[wordStart:i]
		wsStart := i
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		trailing := text[wsStart:i]
		tokens = append(tokens, token{
			text:     word,
			trailing: trailing,
			brk:      breakStrength(word, trailing),
		})
	}
	return tokens
}

func breakStrength(word, trailing string) int {
	if strings.Count(trailing, "\n") >= 2 {
		return breakParagraph
	}
	if endsSentence(word) {
		return breakSentence
	}
	return breakNone
}

// endsSentence reports whether the word ends with terminal punctuation,
// ignoring closing quotes and brackets.
func endsSentence(word string) bool {
	trimmed := strings.TrimRightFunc(word, func(r rune) bool {
		return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
	})
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// isSpace matches ASCII whitespace only, so multi-byte runes are never
// split mid-sequence.
func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

// render joins tokens back into text, preserving intra-chunk whitespace and
// dropping the trailing run of the final token.
func render(tokens []token) string {
	var b strings.Builder
	for i, t := range tokens {
		b.WriteString(t.text)
		if i < len(tokens)-1 {
			b.WriteString(t.trailing)
		}
	}
	return b.String()
}
