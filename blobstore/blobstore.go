// Package blobstore defines the blob-store collaborator consumed by the
// depset store, plus an in-memory implementation.
//
// Blobs are addressed by the digest of their uncompressed content, so a
// successful read is implicitly verified. Network- and disk-backed stores
// are owned by the surrounding build tool; implementations wrap their
// retryable I/O failures in transfer-class errors (see the transfer
// package) so that the aggregation layer can classify them.
package blobstore

import (
	"context"
	"errors"

	"github.com/opencontainers/go-digest"
)

// ErrNotFound is returned when no blob exists for the requested digest.
var ErrNotFound = errors.New("blobstore: blob not found")

// ErrDigestMismatch is returned when content does not match the digest it
// was stored under.
var ErrDigestMismatch = errors.New("blobstore: content does not match digest")

// BlobStore provides per-item reads and writes of content-addressed blobs.
//
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Get returns the content stored under dgst, or an error wrapping
	// ErrNotFound if there is none.
	Get(ctx context.Context, dgst digest.Digest) ([]byte, error)

	// Put stores content under dgst. Storing the same digest twice is a
	// no-op; content-addressed blobs are immutable.
	Put(ctx context.Context, dgst digest.Digest, data []byte) error
}
