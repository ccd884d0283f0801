package query

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// ExtractiveSynthesizer builds answers by selecting the context sentences
// most relevant to the question. It needs no external model, which keeps
// the default deployment self-contained; a generative Synthesizer can be
// swapped in without touching the orchestrator.
type ExtractiveSynthesizer struct {
	// MaxSentences bounds the answer length.
	MaxSentences int
}

// NewExtractiveSynthesizer creates a synthesizer returning up to
// maxSentences sentences per answer.
func NewExtractiveSynthesizer(maxSentences int) *ExtractiveSynthesizer {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &ExtractiveSynthesizer{MaxSentences: maxSentences}
}

// Synthesize scores each context sentence by question term overlap and
// returns the best ones in their original order.
func (s *ExtractiveSynthesizer) Synthesize(_ context.Context, question, contextText string) (string, error) {
	sentences := splitSentences(contextText)
	if len(sentences) == 0 {
		return strings.TrimSpace(contextText), nil
	}

	terms := termSet(question)
	type scored struct {
		index int
		score int
	}
	ranked := make([]scored, len(sentences))
	for i, sentence := range sentences {
		n := 0
		for term := range termSet(sentence) {
			if terms[term] {
				n++
			}
		}
		ranked[i] = scored{index: i, score: n}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	limit := s.MaxSentences
	if limit > len(ranked) {
		limit = len(ranked)
	}
	picked := ranked[:limit]
	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })

	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = sentences[p.index]
	}
	return strings.Join(parts, " "), nil
}

// splitSentences breaks text on terminal punctuation, dropping the source
// labels the orchestrator prepends. A period only ends a sentence when
// whitespace follows, so dotted filenames inside labels stay intact.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := cleanSentence(b.String()); s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}
	if s := cleanSentence(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// cleanSentence trims whitespace and any leading "[From file]:" label.
func cleanSentence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[From ") {
		if i := strings.Index(s, "]: "); i >= 0 {
			s = strings.TrimSpace(s[i+3:])
		}
	}
	return s
}

// termSet lowercases and tokenizes text into a set of terms.
func termSet(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) > 2 {
			set[w] = true
		}
	}
	return set
}

var _ Synthesizer = (*ExtractiveSynthesizer)(nil)
