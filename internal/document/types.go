package document

import (
	"fmt"
	"time"
)

// Document is one uploaded file and its processing state.
type Document struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Filename       string    `json:"filename"`
	Format         Format    `json:"format"`
	SizeBytes      int64     `json:"size_bytes"`
	ContentPointer string    `json:"-"`
	Status         Status    `json:"status"`
	AttemptCount   int       `json:"attempt_count"`
	ChunkCount     int       `json:"chunk_count"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Chunk is one indexed window of a document's text. The owner id is
// denormalized onto every chunk so isolation checks never need a join.
type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	OwnerID       string    `json:"owner_id"`
	SequenceIndex int       `json:"sequence_index"`
	Text          string    `json:"text"`
	TokenCount    int       `json:"token_count"`
	Embedding     []float32 `json:"-"`
	ModelVersion  string    `json:"model_version"`
}

// Job is a pending unit of processing work for one document. A worker owns
// the job while its lease has not expired.
type Job struct {
	ID          string
	DocumentID  string
	LeaseOwner  string
	LeaseExpiry time.Time
	NotBefore   time.Time
	EnqueuedAt  time.Time
}

// ChunkID derives the stable chunk identifier for a document position.
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, seq)
}
