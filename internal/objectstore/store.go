// Package objectstore defines the blob storage contract the pipeline depends
// on, plus the canonical key layout for manuscripts, runs, results, and
// status records. Backends live in the local and s3 subpackages.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// ErrImmutableKey is returned when a write-once key is rewritten with
// different bytes. Repeating a write with identical bytes succeeds.
var ErrImmutableKey = errors.New("immutable key already written")

// Store is the blob storage contract. Keys are opaque strings with no
// directory semantics. Writes are read-your-writes consistent within a
// single worker.
type Store interface {
	// Put stores data under key. Keys under manuscripts/ and reports/ are
	// write-once: repeating a put with identical bytes is a no-op, rewriting
	// with different bytes fails with ErrImmutableKey.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Sweeper is implemented by backends that expire status records locally.
// The s3 backend delegates expiry to bucket lifecycle rules instead.
type Sweeper interface {
	// SweepExpired deletes objects under prefix not written within ttl and
	// returns the number removed.
	SweepExpired(ctx context.Context, prefix string, ttl time.Duration) (int, error)
}
