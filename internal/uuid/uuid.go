// Package uuid generates the idempotency keys attached to queued writes.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random (v4) key.
func New() string {
	return uuid.New().String()
}

// Parse parses a v4 key in canonical dashed form.
func Parse(s string) (uuid.UUID, error) {
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("invalid idempotency key %q: want 36 characters", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid idempotency key %q: %w", s, err)
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return uuid.Nil, fmt.Errorf("invalid idempotency key %q: not a random key", s)
	}
	return id, nil
}

// IsValid reports whether s could have been produced by New.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
