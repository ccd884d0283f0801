package document

import "errors"

var (
	// ErrValidation indicates the caller's input was rejected before any
	// state was persisted.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates the document does not exist for the requesting
	// owner.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidTransition indicates a status change outside the state
	// machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTransient marks failures worth retrying, such as a provider
	// timeout or rate limit.
	ErrTransient = errors.New("transient error")

	// ErrPermanent marks failures that will not succeed on retry, such as a
	// corrupt file.
	ErrPermanent = errors.New("permanent error")

	// ErrVersionMismatch indicates indexed content was embedded with a
	// different model version than the current embedder.
	ErrVersionMismatch = errors.New("embedding model version mismatch")

	// ErrIsolationViolation indicates partition isolation was breached. It
	// is never retried and never silently dropped.
	ErrIsolationViolation = errors.New("isolation violation")
)

// Transient reports whether err is marked retryable.
func Transient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Permanent reports whether err is marked non-retryable.
func Permanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
