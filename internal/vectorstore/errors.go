package vectorstore

import (
	"errors"
	"fmt"
	"regexp"

	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Rejects: uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsPermanent reports whether retrying the operation cannot succeed.
//
// Data-shape errors (wrong dimension, bad filter, bad record, unknown or
// un-ensured collection) are permanent. A gRPC status error is permanent
// unless IsTransientError says otherwise; Unknown and Canceled statuses are
// left to the caller's retry budget.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrInvalidFilter),
		errors.Is(err, ErrEmptyFilter),
		errors.Is(err, ErrInvalidRecord),
		errors.Is(err, ErrInvalidCollectionName),
		errors.Is(err, ErrCollectionNotEnsured),
		errors.Is(err, ErrCollectionNotFound):
		return true
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.OK, grpccodes.Unknown, grpccodes.Canceled:
		return false
	default:
		return !IsTransientError(err)
	}
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts and temporary unavailability.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}
