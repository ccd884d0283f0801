// Package blob stores raw uploaded document content.
//
// Content is written before the document row is created, so a stored blob
// with no metadata row is possible after a crash; the reverse is not.
// Pointers returned by Put are opaque to callers and only meaningful to the
// store that produced them.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound indicates the pointer does not resolve to stored content.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidPointer indicates a malformed or out-of-root pointer.
	ErrInvalidPointer = errors.New("invalid blob pointer")
)

// Store persists raw document content.
type Store interface {
	// Put stores the content and returns a pointer for later retrieval.
	Put(ctx context.Context, ownerID, documentID, filename string, r io.Reader) (string, error)

	// Open returns a reader over previously stored content.
	Open(ctx context.Context, pointer string) (io.ReadCloser, error)

	// Delete removes stored content. Deleting a missing pointer is not an
	// error.
	Delete(ctx context.Context, pointer string) error
}
