package vectorstore

import (
	"context"
	"errors"
	"regexp"
)

// Owner isolation errors - fail closed security model.
var (
	// ErrMissingOwner is returned when owner info is missing from context.
	// This triggers "fail closed" behavior - no empty results, just errors.
	ErrMissingOwner = errors.New("owner missing from context")

	// ErrInvalidOwner is returned when the owner identifier is invalid.
	ErrInvalidOwner = errors.New("invalid owner identifier")
)

// ownerIDPattern restricts owner identifiers to characters that are safe in
// collection names and filesystem paths.
var ownerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

// ownerContextKey is the context key for Owner.
type ownerContextKey struct{}

// Owner holds the verified tenant identity for partition scoping.
//
// The identity collaborator verifies the principal per request; this core
// trusts the resulting ID as-is and uses it purely as a partition key.
type Owner struct {
	// ID is the opaque tenant identifier (required).
	ID string
}

// Validate checks that the owner identifier is present and well-formed.
func (o *Owner) Validate() error {
	if o == nil || o.ID == "" {
		return ErrInvalidOwner
	}
	if !ownerIDPattern.MatchString(o.ID) {
		return ErrInvalidOwner
	}
	return nil
}

// ContextWithOwner adds the Owner to a context.
func ContextWithOwner(ctx context.Context, owner *Owner) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFromContext extracts the Owner from a context.
// Returns ErrMissingOwner if not present - fail closed.
func OwnerFromContext(ctx context.Context) (*Owner, error) {
	val := ctx.Value(ownerContextKey{})
	if val == nil {
		return nil, ErrMissingOwner
	}
	owner, ok := val.(*Owner)
	if !ok || owner == nil {
		return nil, ErrMissingOwner
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return owner, nil
}

// HasOwner checks if an Owner is present in context without error.
func HasOwner(ctx context.Context) bool {
	_, err := OwnerFromContext(ctx)
	return err == nil
}
