package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/cradleci/depset/transfer"
)

// Memory is an in-memory BlobStore. It verifies digests on write and
// optionally compresses stored payloads with zstd.
type Memory struct {
	mu    sync.RWMutex
	blobs map[digest.Digest][]byte

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// MemoryOption configures a Memory store.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	compress bool
}

// WithZstd stores payloads zstd-compressed. Transparent to callers; Get
// returns the original bytes.
func WithZstd() MemoryOption {
	return func(c *memoryConfig) {
		c.compress = true
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) (*Memory, error) {
	var cfg memoryConfig
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	m := &Memory{blobs: make(map[digest.Digest][]byte)}
	if cfg.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		m.enc = enc
		m.dec = dec
	}
	return m, nil
}

// Get returns the content stored under dgst.
func (m *Memory) Get(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	stored, ok := m.blobs[dgst]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", dgst, ErrNotFound)
	}
	if m.dec == nil {
		return bytes.Clone(stored), nil
	}
	data, err := m.dec.DecodeAll(stored, nil)
	if err != nil {
		// Corrupted payload: retryable from the caller's point of view, the
		// blob may be refetched from a peer.
		return nil, transfer.NewError("read", fmt.Errorf("%s: %w", dgst, err))
	}
	return data, nil
}

// Put stores content under dgst after verifying that the digest matches.
func (m *Memory) Put(ctx context.Context, dgst digest.Digest, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := dgst.Validate(); err != nil {
		return fmt.Errorf("%s: %w", dgst, err)
	}
	if digest.FromBytes(data) != dgst {
		return fmt.Errorf("%s: %w", dgst, ErrDigestMismatch)
	}
	stored := bytes.Clone(data)
	if m.enc != nil {
		stored = m.enc.EncodeAll(data, nil)
	}
	m.mu.Lock()
	if _, ok := m.blobs[dgst]; !ok {
		m.blobs[dgst] = stored
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
