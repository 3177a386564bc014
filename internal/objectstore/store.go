// Package objectstore provides sidecar blob storage for rendered page
// images and oversized seq_blob tensor payloads (spec.md §4.6's
// compression contract: "a payload exceeding the ANN-index's per-record
// metadata cap must be split or further compressed"). The interface is
// narrowed from a general-purpose bucket abstraction down to the four
// operations this repo's two blob kinds actually need.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound     = errors.New("objectstore: object not found")
	ErrAccessDenied = errors.New("objectstore: access denied")
)

// ObjectAttrs describes a stored blob.
type ObjectAttrs struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PutOptions configures a Put call.
type PutOptions struct {
	ContentType string
}

// Store is the sidecar blob storage contract. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get retrieves a blob by key. The caller must close the reader.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error)
	// Put stores a blob, fully consuming r, and returns its ETag.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (etag string, err error)
	// Delete removes a blob. Not an error if the key is already absent.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}
