package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds configuration for the TEI embedding service.
type Config struct {
	// BaseURL is the base URL for the embedding API.
	BaseURL string

	// Model is the embedding model name, also used as the model version
	// stamped on chunks.
	Model string

	// Dimension is the embedding dimension the model produces.
	Dimension int

	// BatchSize caps the number of texts per request.
	BatchSize int

	// RequestsPerSecond throttles outbound calls. Zero disables the limiter.
	RequestsPerSecond float64

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service generates embeddings against a TEI-compatible /embed endpoint.
type Service struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	metrics *Metrics
	logger  *zap.Logger
}

// NewService creates a new embedding service.
func NewService(config Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &Service{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: limiter,
		metrics: NewMetrics(logger),
		logger:  logger,
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts, splitting into
// batches of at most BatchSize. Order is preserved.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += s.config.BatchSize {
		end := i + s.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embed(ctx, texts[i:end])
		if err != nil {
			genErr = err
			return nil, err
		}
		if len(batch) != end-i {
			genErr = fmt.Errorf("%w: got %d vectors for %d texts", ErrUnavailable, len(batch), end-i)
			return nil, genErr
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := s.embed(ctx, []string{text})
	if err != nil {
		genErr = err
		return nil, err
	}
	if len(vectors) != 1 {
		genErr = fmt.Errorf("%w: got %d vectors for one text", ErrUnavailable, len(vectors))
		return nil, genErr
	}
	return vectors[0], nil
}

// embed performs one request against the /embed endpoint.
func (s *Service) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	return vectors, nil
}

// classifyStatus maps an HTTP error status onto the retry taxonomy.
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrRateLimited, status, body)
	case status == http.StatusBadRequest,
		status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidInput, status, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, body)
	}
}

// Dimension returns the configured embedding dimension.
func (s *Service) Dimension() int {
	return s.config.Dimension
}

// ModelVersion returns the model name.
func (s *Service) ModelVersion() string {
	return s.config.Model
}

// Close is a no-op; the service holds no long-lived connections.
func (s *Service) Close() error {
	return nil
}

var _ Provider = (*Service)(nil)
