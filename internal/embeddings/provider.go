package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRateLimited indicates the provider rejected the request for rate;
	// retry after backoff.
	ErrRateLimited = fmt.Errorf("%w: provider rate limited", document.ErrTransient)

	// ErrUnavailable indicates the provider failed or could not be reached;
	// retry after backoff.
	ErrUnavailable = fmt.Errorf("%w: provider unavailable", document.ErrTransient)

	// ErrInvalidInput indicates the provider rejected the input itself;
	// retrying the same input cannot succeed.
	ErrInvalidInput = fmt.Errorf("%w: provider rejected input", document.ErrPermanent)
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedDocuments generates embeddings for a batch of chunk texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single question.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// ModelVersion identifies the model producing the vectors.
	ModelVersion() string

	// Close releases resources held by the provider.
	Close() error
}
