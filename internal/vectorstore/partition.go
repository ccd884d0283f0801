package vectorstore

import (
	"context"
	"fmt"
)

// partitionPrefix namespaces owner collections inside shared backends.
const partitionPrefix = "owner_"

// PartitionName returns the collection name for an owner's partition.
//
// One collection per owner is the structural isolation boundary: a query
// addressed to one partition physically cannot scan another owner's points,
// independent of any query-time filtering.
func PartitionName(owner *Owner) (string, error) {
	if err := owner.Validate(); err != nil {
		return "", err
	}
	return partitionPrefix + owner.ID + "_chunks", nil
}

// partitionFromContext resolves the caller's partition name, fail closed.
func partitionFromContext(ctx context.Context) (*Owner, string, error) {
	owner, err := OwnerFromContext(ctx)
	if err != nil {
		return nil, "", err
	}
	name, err := PartitionName(owner)
	if err != nil {
		return nil, "", err
	}
	return owner, name, nil
}

// stampOwner injects the owner id into every point payload, overwriting any
// caller-supplied value.
func stampOwner(points []Point, ownerID string) {
	for i := range points {
		if points[i].Payload == nil {
			points[i].Payload = make(map[string]interface{})
		}
		points[i].Payload[PayloadOwnerID] = ownerID
	}
}

// validatePoints rejects empty batches and vectorless points before they
// reach a backend.
func validatePoints(points []Point) error {
	if len(points) == 0 {
		return ErrEmptyPoints
	}
	for i, p := range points {
		if p.ID == "" {
			return fmt.Errorf("%w: point at index %d has no id", ErrEmptyPoints, i)
		}
		if len(p.Vector) == 0 {
			return fmt.Errorf("%w: point %s has no vector", ErrEmptyPoints, p.ID)
		}
	}
	return nil
}
