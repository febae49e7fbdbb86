// Package depset provides identity-preserving memoization caches for
// structurally shared build-graph data.
//
// Large dependency graphs share substructure aggressively: the same ordered
// set of children appears behind many nodes. Serializing, transferring, or
// transforming such a structure more than once wastes work and, worse, breaks
// the identity guarantees the rest of a build tool relies on. This package
// keeps those guarantees cheap:
//
//   - [SerializationCache] is a bidirectional, content-addressed cache
//     between in-memory contents (compared by identity) and their serialized
//     fingerprint (compared by value). Concurrent requests for the same key
//     attach to a single in-flight computation.
//   - [Store] orchestrates the cache against a blob store: it serializes
//     contents on first sight, writes the blobs asynchronously, and fetches
//     and decodes on the way back, deduplicating concurrent traffic per
//     fingerprint.
//   - Subpackage transfer runs many independent fallible transfers and
//     reduces them to one outcome, collecting expected transfer failures
//     into a single composite error while surfacing unexpected failures
//     immediately and alone.
//   - Subpackage transition interns the outputs of pure transformations so
//     that applying an identical transformation twice returns the same
//     instance.
//
// Cache entries live exactly as long as their referents: the caches hold
// contents through weak references and drop their own bookkeeping once the
// referents are collected. There is no size- or time-based eviction.
//
// # Quick start
//
// Store and reload a shared structure:
//
//	blobs, err := blobstore.NewMemory()
//	if err != nil {
//	    return err
//	}
//	store, err := depset.NewStore(codec, blobs)
//	if err != nil {
//	    return err
//	}
//	result, err := store.Put(ctx, contents)
//	if err != nil {
//	    return err
//	}
//	same, err := store.Get(ctx, result.Fingerprint())
package depset
