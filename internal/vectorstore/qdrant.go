package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("corpusd.vectorstore.qdrant")

// payloadChunkID preserves the caller's chunk identifier; Qdrant point IDs
// must be UUIDs, so the chunk id is mapped through a deterministic UUID and
// kept verbatim in the payload.
const payloadChunkID = "chunk_id"

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 HTTP port).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key for authentication.
	APIKey string

	// VectorSize is the embedding dimension for new partitions.
	VectorSize uint64

	// RequestTimeout bounds individual requests.
	RequestTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size is required", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore implements Store against an external Qdrant instance, one
// collection per owner partition.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore creates a QdrantStore and verifies connectivity.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	qcfg := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
	}
	if !config.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.RequestTimeout)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant connection established",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)

	return &QdrantStore{client: client, config: config, logger: logger}, nil
}

// pointUUID maps a chunk id to a stable Qdrant point UUID.
func pointUUID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// ensurePartition creates the owner's collection if it does not exist yet.
func (s *QdrantStore) ensurePartition(ctx context.Context, partition string) error {
	_, err := s.client.GetCollectionInfo(ctx, partition)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != codes.NotFound {
		return fmt.Errorf("checking partition %s: %w", partition, err)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: partition,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("creating partition %s: %w", partition, err)
	}
	return nil
}

// Upsert writes points into the owner's partition, idempotent by point ID.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	owner, partition, err := partitionFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := validatePoints(points); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if err := s.ensurePartition(ctx, partition); err != nil {
		span.RecordError(err)
		return err
	}

	stampOwner(points, owner.ID)

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = toQdrantValue(v)
		}
		payload[payloadChunkID] = toQdrantValue(p.ID)

		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: partition,
		Points:         qpoints,
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

// Query returns up to topK matches from the owner's partition.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	owner, partition, err := partitionFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: partition,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		// Owner filter is redundant with per-owner collections; kept as
		// defense in depth.
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(PayloadOwnerID, owner.ID),
			},
		},
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return []Match{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("querying partition %s: %w", partition, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		payload := fromQdrantPayload(r.Payload)
		id, _ := payload[payloadChunkID].(string)
		matches[i] = Match{
			ID:      id,
			Score:   r.Score,
			Payload: payload,
		}
	}

	if err := verifyOwnership(matches, owner.ID); err != nil {
		span.RecordError(err)
		s.logger.Error("isolation violation detected",
			zap.String("partition", partition),
			zap.Error(err),
		)
		return nil, err
	}

	return matches, nil
}

// Delete removes points by chunk ID from the owner's partition.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	_, partition, err := partitionFromContext(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointUUID(id))
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: partition,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil
		}
		return fmt.Errorf("deleting points from %s: %w", partition, err)
	}
	return nil
}

// Count returns the number of points in the owner's partition.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	_, partition, err := partitionFromContext(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	info, err := s.client.GetCollectionInfo(ctx, partition)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("counting partition %s: %w", partition, err)
	}
	return int(info.GetPointsCount()), nil
}

// DropPartition removes the owner's entire partition.
func (s *QdrantStore) DropPartition(ctx context.Context) error {
	_, partition, err := partitionFromContext(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if err := s.client.DeleteCollection(ctx, partition); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil
		}
		return fmt.Errorf("dropping partition %s: %w", partition, err)
	}
	return nil
}

// Close closes the client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func toQdrantValue(v interface{}) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
