// Package storage implements the blob capability consumed by the audit chain:
// durable, strongly consistent puts and atomic replaces keyed by path.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = errors.New("blob not found")
)

// Blob is the storage capability the chain writer and verifier consume.
// Implementations must be strongly consistent for a given path.
type Blob interface {
	// Put writes data under path. Implementations that can guarantee
	// durability (fsync or equivalent) must do so before returning.
	Put(ctx context.Context, path string, data []byte) error

	// Get retrieves the blob stored under path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// AtomicReplace replaces the blob under path such that concurrent
	// readers observe either the old or the new content, never a torn write.
	AtomicReplace(ctx context.Context, path string, data []byte) error

	// Delete removes the blob under path. Removing a missing blob is not
	// an error.
	Delete(ctx context.Context, path string) error

	// List returns all paths with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
