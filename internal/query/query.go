// Package query answers questions against an owner's indexed documents.
//
// A question is embedded, matched against the owner's partition, and the
// best chunks are assembled into a bounded context for synthesis. The
// orchestrator refuses to search when the index was built with a different
// embedding model than the one currently configured, since scores across
// model versions are not comparable.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/document"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

var tracer = otel.Tracer("corpusd.query")

// NoContentAnswer is returned when the owner has no indexed documents.
const NoContentAnswer = "No indexed content is available to answer this question. Upload documents first."

// Config tunes retrieval and context assembly.
type Config struct {
	// TopK is the number of chunks retrieved per question.
	TopK int

	// ContextBudgetTokens bounds the assembled context size.
	ContextBudgetTokens int

	// MaxQuestionChars bounds the question length.
	MaxQuestionChars int

	// Timeout covers the whole ask, retrieval and synthesis included.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.ContextBudgetTokens == 0 {
		c.ContextBudgetTokens = 1000
	}
	if c.MaxQuestionChars == 0 {
		c.MaxQuestionChars = 1000
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
}

// Synthesizer turns a question plus retrieved context into an answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, question, contextText string) (string, error)
}

// Source identifies a document that contributed to an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Score      float32 `json:"score"`
}

// Result is one answered question.
type Result struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`

	// NoContent is set when the owner has nothing indexed; Answer then
	// carries a fixed explanation rather than a synthesized response.
	NoContent bool `json:"no_content,omitempty"`
}

// Service answers questions scoped to one owner.
type Service interface {
	Ask(ctx context.Context, ownerID, question string) (*Result, error)
}

type service struct {
	config   Config
	meta     *metadata.Store
	embedder embeddings.Provider
	vectors  vectorstore.Store
	synth    Synthesizer
	logger   *zap.Logger
}

// NewService creates the query orchestrator.
func NewService(config Config, meta *metadata.Store, embedder embeddings.Provider, vectors vectorstore.Store, synth Synthesizer, logger *zap.Logger) (Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if meta == nil || embedder == nil || vectors == nil || synth == nil {
		return nil, fmt.Errorf("all dependencies are required")
	}
	return &service{
		config:   config,
		meta:     meta,
		embedder: embedder,
		vectors:  vectors,
		synth:    synth,
		logger:   logger,
	}, nil
}

func (s *service) Ask(ctx context.Context, ownerID, question string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "query.Ask")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", document.ErrValidation)
	}
	if n := utf8.RuneCountInString(question); n > s.config.MaxQuestionChars {
		return nil, fmt.Errorf("%w: question is %d characters, maximum is %d",
			document.ErrValidation, n, s.config.MaxQuestionChars)
	}
	owner := vectorstore.Owner{ID: ownerID}
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", document.ErrValidation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	// Scores from different embedding models live in different spaces,
	// so a model change makes the whole index unanswerable until it is
	// re-processed.
	versions, err := s.meta.ModelVersions(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("checking index versions: %w", err)
	}
	if len(versions) == 0 {
		return &Result{Answer: NoContentAnswer, NoContent: true}, nil
	}
	current := s.embedder.ModelVersion()
	for _, v := range versions {
		if v != current {
			return nil, fmt.Errorf("%w: index was built with model %q, current model is %q",
				document.ErrVersionMismatch, v, current)
		}
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	ownerCtx := vectorstore.ContextWithOwner(ctx, &owner)
	matches, err := s.vectors.Query(ownerCtx, vector, s.config.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, fmt.Errorf("searching index: %w", err)
	}
	if len(matches) == 0 {
		return &Result{Answer: NoContentAnswer, NoContent: true}, nil
	}

	selected := assemble(matches, s.config.ContextBudgetTokens)
	contextText := renderContext(selected)

	answer, err := s.synth.Synthesize(ctx, question, contextText)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("synthesizing answer: %w", err)
	}

	sources := collectSources(selected)
	span.SetAttributes(
		attribute.Int("query.matches", len(matches)),
		attribute.Int("query.selected", len(selected)),
		attribute.Int("query.sources", len(sources)),
	)
	s.logger.With(logging.ContextFields(ctx)...).Info("question answered",
		zap.String("owner_id", ownerID),
		zap.Int("matches", len(matches)),
		zap.Int("selected", len(selected)),
	)
	return &Result{Answer: answer, Sources: sources}, nil
}

// assemble picks matches greedily by score until the token budget is spent.
// Equal scores are broken by document order so adjacent chunks read in
// sequence.
func assemble(matches []vectorstore.Match, budget int) []vectorstore.Match {
	ordered := make([]vectorstore.Match, len(matches))
	copy(ordered, matches)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].SequenceIndex() < ordered[j].SequenceIndex()
	})

	var selected []vectorstore.Match
	remaining := budget
	for _, m := range ordered {
		cost := chunker.CountTokens(m.Text())
		if cost > remaining {
			continue
		}
		selected = append(selected, m)
		remaining -= cost
	}

	// Never answer from nothing: an oversized best match is truncated by
	// the synthesizer's own limits rather than dropped.
	if len(selected) == 0 && len(ordered) > 0 {
		selected = ordered[:1]
	}
	return selected
}

// renderContext formats selected chunks for the synthesizer, each labeled
// with its source filename.
func renderContext(selected []vectorstore.Match) string {
	var b strings.Builder
	for i, m := range selected {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[From ")
		b.WriteString(m.Filename())
		b.WriteString("]: ")
		b.WriteString(strings.TrimSpace(m.Text()))
	}
	return b.String()
}

// collectSources dedupes selected chunks by document, keeping each
// document's best score, ordered best first.
func collectSources(selected []vectorstore.Match) []Source {
	best := make(map[string]Source)
	for _, m := range selected {
		id := m.DocumentID()
		if cur, ok := best[id]; !ok || m.Score > cur.Score {
			best[id] = Source{DocumentID: id, Filename: m.Filename(), Score: m.Score}
		}
	}
	sources := make([]Source, 0, len(best))
	for _, s := range best {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Score != sources[j].Score {
			return sources[i].Score > sources[j].Score
		}
		return sources[i].DocumentID < sources[j].DocumentID
	})
	return sources
}
