package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, persistence to gob files.
// Each owner partition is a separate chromem collection, so a query
// addressed to one partition never scans another owner's points.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{db: db, config: config, logger: logger}, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbedding is installed as the collection embedding function. Vectors are
// always precomputed by the caller, so any invocation is a bug.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectors are precomputed; embedding function must not be called")
}

// Upsert writes points into the owner's partition, idempotent by point ID.
func (s *ChromemStore) Upsert(ctx context.Context, points []Point) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	owner, partition, err := partitionFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := validatePoints(points); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.String("partition", partition),
		attribute.Int("point_count", len(points)),
	)

	stampOwner(points, owner.ID)

	collection, err := s.db.GetOrCreateCollection(partition, nil, noEmbedding)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting/creating partition %s: %w", partition, err)
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Content:   p.payloadText(),
			Metadata:  metadataToString(p.Payload),
			Embedding: p.Vector,
		}
	}

	// Concurrency 1: embeddings are already attached, nothing to parallelize.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	s.logger.Debug("upserted points",
		zap.String("partition", partition),
		zap.Int("count", len(points)),
	)
	return nil
}

// Query returns up to topK matches from the owner's partition.
func (s *ChromemStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()

	owner, partition, err := partitionFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if len(vector) == 0 {
		return nil, errors.New("query vector cannot be empty")
	}

	span.SetAttributes(
		attribute.String("partition", partition),
		attribute.Int("top_k", topK),
	)

	collection := s.db.GetCollection(partition, noEmbedding)
	if collection == nil {
		// Owner has never indexed anything.
		return []Match{}, nil
	}

	// chromem requires nResults <= stored point count.
	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if topK > count {
		topK = count
	}

	// Owner filter is redundant with per-owner collections; kept as defense
	// in depth.
	where := map[string]string{PayloadOwnerID: owner.ID}
	results, err := collection.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying partition %s: %w", partition, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: metadataFromString(r.Metadata),
		}
	}

	if err := verifyOwnership(matches, owner.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("isolation violation detected",
			zap.String("partition", partition),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int("match_count", len(matches)))
	return matches, nil
}

// Delete removes points by ID from the owner's partition.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()

	_, partition, err := partitionFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	span.SetAttributes(
		attribute.String("partition", partition),
		attribute.Int("id_count", len(ids)),
	)

	collection := s.db.GetCollection(partition, noEmbedding)
	if collection == nil {
		return nil
	}

	if err := collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points from %s: %w", partition, err)
	}
	return nil
}

// Count returns the number of points in the owner's partition.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	_, partition, err := partitionFromContext(ctx)
	if err != nil {
		return 0, err
	}
	collection := s.db.GetCollection(partition, noEmbedding)
	if collection == nil {
		return 0, nil
	}
	return collection.Count(), nil
}

// DropPartition removes the owner's entire partition.
func (s *ChromemStore) DropPartition(ctx context.Context) error {
	_, partition, err := partitionFromContext(ctx)
	if err != nil {
		return err
	}
	if err := s.db.DeleteCollection(partition); err != nil {
		return fmt.Errorf("dropping partition %s: %w", partition, err)
	}
	s.logger.Info("dropped partition", zap.String("partition", partition))
	return nil
}

// Close closes the store. chromem persists on write, nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// payloadText pulls the chunk text out of a point payload for chromem's
// Content field.
func (p Point) payloadText() string {
	v, _ := p.Payload[PayloadText].(string)
	return v
}

// metadataToString converts payload values to chromem's string metadata.
func metadataToString(payload map[string]interface{}) map[string]string {
	if payload == nil {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = fmt.Sprintf("%d", val)
		case int64:
			out[k] = fmt.Sprintf("%d", val)
		case float64:
			out[k] = fmt.Sprintf("%f", val)
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// metadataFromString converts chromem string metadata back to a payload map.
func metadataFromString(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
