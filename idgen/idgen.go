// Package idgen generates the stable identifiers the sync engine deduplicates
// on: draft IDs are minted once at creation time on the client and travel all
// the way to the backend as idempotency keys.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings.
// Time-sortable, so draft IDs enumerate in creation order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// The engine uses "drf_" for drafts and "run_" for sync runs.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the engine default: UUIDv7.
var Default Generator = UUIDv7()

// NewDraftID mints a draft identifier.
func NewDraftID() string {
	return "drf_" + Default()
}

// NewRunID mints a sync-run identifier.
func NewRunID() string {
	return "run_" + Default()
}

// Parse validates a bare UUID string and returns it or an error.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}
