// Package store retains envelopes in an append-only sequence queryable by
// correlation key. Dedupe happens upstream; Append never rejects duplicates.
package store

import (
	"fmt"

	"github.com/blackroadhq/eventmesh/internal/models"
)

// Store is the correlation store contract shared by the in-memory and
// file-backed implementations.
type Store interface {
	// Append adds the envelope to the log. No mutation after append.
	Append(e models.Envelope) error
	// FindByKey returns every envelope whose keyType field equals key, in
	// append order. Equality only; no prefix or fuzzy matching.
	FindByKey(key string, keyType models.KeyType) ([]models.Envelope, error)
}

// IOError reports a file-backed store read or write failure. It propagates to
// the caller of Append/FindByKey; there is no retry layer here, so callers
// needing resilience must wrap it.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
