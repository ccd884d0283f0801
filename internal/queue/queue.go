// Package queue provides the wake-up channel between ingestion and the job
// workers.
//
// The queue is advisory: jobs live in the metadata store, and workers poll
// it regardless. A published document id only shortens the latency between
// enqueue and pickup, so delivery is best effort and duplicates are
// harmless.
package queue

import (
	"context"
	"errors"
)

// ErrClosed indicates the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue wakes workers when a document is ready for processing.
type Queue interface {
	// Publish announces that the document has a ready job.
	Publish(ctx context.Context, documentID string) error

	// Notify returns the channel workers select on. The channel closes when
	// the queue closes.
	Notify() <-chan string

	// Close stops delivery and releases resources.
	Close() error
}
