package depset

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/semaphore"

	"github.com/cradleci/depset/blobstore"
	"github.com/cradleci/depset/transfer"
)

// Store moves shared structures between memory and a blob store, using a
// [SerializationCache] so that each structure is serialized, written, and
// fetched at most once per fingerprint.
//
// Put registers contents and writes their serialized bytes asynchronously;
// the returned [FingerprintResult] carries a write status that settles once
// the bytes of the structure and of every child structure are stored. Get is
// the mirror: it fetches and decodes on first request and attaches every
// concurrent caller to the same in-flight population.
//
// The number of simultaneously in-flight blob operations is bounded; the
// bound gates only the work, never the cache registration, so the
// single-flight guarantee is unaffected.
type Store struct {
	codec       Codec
	blobs       blobstore.BlobStore
	cache       *SerializationCache
	reporter    FaultReporter
	inFlight    *semaphore.Weighted
	context     any
	maxInFlight int
}

// NewStore creates a Store over the given codec and blob store.
func NewStore(codec Codec, blobs blobstore.BlobStore, opts ...StoreOption) (*Store, error) {
	if codec == nil {
		return nil, errors.New("depset: nil codec")
	}
	if blobs == nil {
		return nil, errors.New("depset: nil blob store")
	}
	s := &Store{
		codec:       codec,
		blobs:       blobs,
		reporter:    NopFaultReporter(),
		context:     defaultStoreContext{},
		maxInFlight: defaultMaxInFlight(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	if s.maxInFlight < 1 {
		return nil, errors.New("depset: max in-flight operations must be >= 1")
	}
	if s.cache == nil {
		s.cache = NewSerializationCache(s.reporter)
	}
	s.inFlight = semaphore.NewWeighted(int64(s.maxInFlight))
	return s, nil
}

// defaultStoreContext is the cache context used when none is configured.
type defaultStoreContext struct{}

// Cache returns the serialization cache backing the store.
func (s *Store) Cache() *SerializationCache {
	return s.cache
}

// Put registers contents for storage and returns their fingerprint result.
// If the contents are already known, the existing result is returned and no
// work happens. Otherwise the contents are encoded synchronously, child
// structures are registered recursively, and the blob write proceeds in the
// background; wait on the result's write status for durability.
func (s *Store) Put(ctx context.Context, contents *Contents) (*FingerprintResult, error) {
	if result, ok := s.cache.FingerprintForContents(contents); ok {
		return result, nil
	}

	enc, err := s.codec.Encode(contents)
	if err != nil {
		return nil, fmt.Errorf("encoding contents: %w", err)
	}
	fingerprint := FingerprintOf(enc.Data)

	writeStatus := NewFuture[struct{}]()
	result := NewFingerprintResult(fingerprint, writeStatus)
	if existing := s.cache.PutIfAbsent(contents, result, s.context); existing != nil {
		return existing, nil
	}

	childResults := make([]*FingerprintResult, 0, len(enc.Children))
	for _, child := range enc.Children {
		childResult, err := s.Put(ctx, child)
		if err != nil {
			err = fmt.Errorf("storing child structure: %w", err)
			writeStatus.Fail(err)
			return nil, err
		}
		childResults = append(childResults, childResult)
	}

	// The write outlives the caller's context on purpose: a caller that
	// stops waiting must not cancel a population other waiters share.
	go s.write(context.WithoutCancel(ctx), fingerprint, enc.Data, childResults, writeStatus)
	return result, nil
}

// Get returns the contents for a fingerprint, fetching and decoding them on
// first request. Concurrent calls for the same fingerprint share one fetch.
// Returns an error wrapping [ErrMissing] when the blob store has no such
// fingerprint.
func (s *Store) Get(ctx context.Context, fingerprint digest.Digest) (*Contents, error) {
	fut := NewFuture[*Contents]()
	switch existing := s.cache.PutFutureIfAbsent(fingerprint, fut, s.context).(type) {
	case nil:
		go s.fetch(context.WithoutCancel(ctx), fingerprint, fut)
		return fut.Get(ctx)
	case *Contents:
		return existing, nil
	case *Future[*Contents]:
		return existing.Get(ctx)
	default:
		panic(fmt.Sprintf("depset: unexpected cache entry type %T", existing))
	}
}

// write stores the serialized bytes and joins the child write statuses into
// one outcome through the transfer aggregator.
func (s *Store) write(ctx context.Context, fingerprint digest.Digest, data []byte, children []*FingerprintResult, writeStatus *Future[struct{}]) {
	ops := make([]transfer.Op, 0, len(children)+1)
	ops = append(ops, func(ctx context.Context) error {
		if err := s.inFlight.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.inFlight.Release(1)
		return s.blobs.Put(ctx, fingerprint, data)
	})
	for _, child := range children {
		ops = append(ops, func(ctx context.Context) error {
			_, err := child.WriteStatus().Get(ctx)
			return err
		})
	}

	if err := transfer.Merge(ctx, ops...); err != nil {
		writeStatus.Fail(fmt.Errorf("writing %s: %w", fingerprint, err))
		s.reporter.ReportFault(err)
		return
	}
	writeStatus.Complete(struct{}{})
}

// fetch populates a registered deserialization future.
func (s *Store) fetch(ctx context.Context, fingerprint digest.Digest, fut *Future[*Contents]) {
	if err := s.inFlight.Acquire(ctx, 1); err != nil {
		fut.Fail(err)
		return
	}
	defer s.inFlight.Release(1)

	data, err := s.blobs.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			err = fmt.Errorf("%s: %w", fingerprint, ErrMissing)
		}
		fut.Fail(err)
		return
	}
	contents, err := s.codec.Decode(data)
	if err != nil {
		fut.Fail(fmt.Errorf("decoding %s: %w", fingerprint, err))
		return
	}
	fut.Complete(contents)
}
