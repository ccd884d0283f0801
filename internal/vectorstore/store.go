package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fyrsmithlabs/corpusd/internal/document"
)

// Sentinel errors for vector store operations.
var (
	// ErrPartitionNotFound is returned when an owner has no partition yet.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyPoints indicates an empty or nil point batch.
	ErrEmptyPoints = errors.New("empty or nil points")

	// ErrConnectionFailed indicates a connection problem with an external
	// store backend.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// Payload keys stamped on every stored point.
const (
	PayloadOwnerID       = "owner_id"
	PayloadDocumentID    = "document_id"
	PayloadFilename      = "filename"
	PayloadSequenceIndex = "sequence_index"
	PayloadText          = "text"
	PayloadModelVersion  = "model_version"
)

// Point is a vector with its retrieval payload.
type Point struct {
	// ID is the deterministic chunk identifier. Upserts with the same ID
	// replace the previous point, which makes re-processing idempotent.
	ID string

	// Vector is the embedding.
	Vector []float32

	// Payload carries retrieval metadata (document id, filename, sequence
	// index, text, model version). The owner id is injected by the store;
	// any caller-supplied value is overwritten.
	Payload map[string]interface{}
}

// Match is a scored search result.
type Match struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// payloadString reads a string payload field across backend representations.
func (m Match) payloadString(key string) string {
	v, _ := m.Payload[key].(string)
	return v
}

// payloadInt reads an integer payload field. Backends disagree on numeric
// representation (chromem round-trips strings, qdrant returns int64).
func (m Match) payloadInt(key string) int {
	switch v := m.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// DocumentID returns the parent document of the matched chunk.
func (m Match) DocumentID() string { return m.payloadString(PayloadDocumentID) }

// Filename returns the source document's filename.
func (m Match) Filename() string { return m.payloadString(PayloadFilename) }

// Text returns the chunk text stored alongside the vector.
func (m Match) Text() string { return m.payloadString(PayloadText) }

// ModelVersion returns the embedding model that produced the stored vector.
func (m Match) ModelVersion() string { return m.payloadString(PayloadModelVersion) }

// SequenceIndex returns the chunk's position within its document.
func (m Match) SequenceIndex() int { return m.payloadInt(PayloadSequenceIndex) }

// Store is the partition-scoped vector storage contract.
//
// Every method resolves the owner partition from ctx (fail closed,
// ErrMissingOwner when absent). Implementations must guarantee that a query
// can only ever observe points written under the same owner partition, and
// must verify the owner stamp on every returned point, aborting with
// ErrIsolationViolation-class failures rather than returning foreign data.
type Store interface {
	// Upsert writes points into the owner's partition, idempotent by point
	// ID. Concurrent upserts for distinct IDs are independent.
	Upsert(ctx context.Context, points []Point) error

	// Query returns up to topK matches from the owner's partition, ordered
	// by descending similarity.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)

	// Delete removes points by ID from the owner's partition. Missing IDs
	// are not an error.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of points in the owner's partition. A
	// missing partition counts as zero.
	Count(ctx context.Context) (int, error)

	// DropPartition removes the owner's entire partition. Used by the
	// document deletion cascade and by tests.
	DropPartition(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// verifyOwnership checks the owner stamp on returned matches. Shared by the
// store implementations; any mismatch is a fatal integrity fault, never a
// silent filter.
func verifyOwnership(matches []Match, ownerID string) error {
	for _, m := range matches {
		got, _ := m.Payload[PayloadOwnerID].(string)
		if got != ownerID {
			return fmt.Errorf("%w: point %s carries owner %q, partition belongs to %q",
				document.ErrIsolationViolation, m.ID, got, ownerID)
		}
	}
	return nil
}
