package depset

import (
	"runtime"
	"sync"
	"weak"

	"github.com/opencontainers/go-digest"
)

// SerializationCache is a bidirectional, content-addressed cache between
// in-memory contents and their serialized fingerprint. It is the mechanism
// that lets a build tool serialize or deserialize the same shared structure
// at most once per context, no matter how many callers race for it.
//
// The cache is keyed two ways:
//
//   - contents identity -> *FingerprintResult, for serialization
//   - (fingerprint, context) -> contents or an in-flight future, for
//     deserialization
//
// The context token partitions the cache into independent universes: equal
// contexts (by value equality) share entries, unequal contexts never observe
// each other's entries. Contexts must be comparable.
//
// All entries reference contents weakly. Once neither the contents nor an
// in-flight future remains reachable, the entry is reclaimed; there is no
// explicit deletion in normal operation. Lookups never block.
//
// A SerializationCache must be constructed with [NewSerializationCache] and
// is safe for concurrent use.
type SerializationCache struct {
	reporter FaultReporter

	// (fingerprint, context) -> *Future[*Contents] while a deserialization
	// is pending, weak.Pointer[Contents] once resolved.
	fingerprintToContents sync.Map

	// weak contents identity -> *FingerprintResult. Keyed by identity only:
	// a contents array belongs to exactly one universe for its lifetime.
	contentsToResult sync.Map
}

type fingerprintKey struct {
	fingerprint digest.Digest
	context     any
}

// NewSerializationCache creates an empty cache. A nil reporter suppresses
// fault reporting.
func NewSerializationCache(reporter FaultReporter) *SerializationCache {
	if reporter == nil {
		reporter = NopFaultReporter()
	}
	return &SerializationCache{reporter: reporter}
}

// PutFutureIfAbsent registers a pending deserialization for (fingerprint,
// context) and returns nil, unless an entry already exists, in which case
// the existing entry is returned unchanged: either the *Future[*Contents]
// of the in-flight deserialization or the already-resolved *Contents. The
// caller that gets nil back owns settling the future.
//
// fut must still be pending; registering an already-settled future is a
// programmer fault and panics.
//
// When the registered future later resolves, the cache re-indexes the
// resolved contents under the forward mapping with a completed write status
// (the bytes were just read, so they are known to be stored) and swaps the
// reverse entry to a weak reference. If the future fails, the fault reporter
// is notified exactly once and the entry stays failed so that later callers
// observe the same failure; see [SerializationCache.InvalidateFailed].
func (c *SerializationCache) PutFutureIfAbsent(fingerprint digest.Digest, fut *Future[*Contents], context any) any {
	if fut.Resolved() {
		panic("depset: PutFutureIfAbsent called with an already-settled future")
	}
	key := fingerprintKey{fingerprint, context}
	for {
		existing, loaded := c.fingerprintToContents.LoadOrStore(key, fut)
		if !loaded {
			go c.awaitDeserialization(key, fut)
			return nil
		}
		switch v := existing.(type) {
		case *Future[*Contents]:
			// A successfully settled future is unwrapped so callers see the
			// resolved contents even before the promotion goroutine has
			// swapped the entry. Failed futures are returned as is: later
			// callers must observe the same failure.
			if contents, err, resolved := v.Peek(); resolved && err == nil {
				return contents
			}
			return v
		case weak.Pointer[Contents]:
			if contents := v.Value(); contents != nil {
				return contents
			}
			// The referent was collected but its cleanup has not run yet.
			// Remove the dead entry and race for a fresh registration.
			c.fingerprintToContents.CompareAndDelete(key, existing)
		}
	}
}

// PutIfAbsent registers a fingerprint computation result for the given
// contents and returns nil, unless a result is already cached for that
// contents identity, in which case the existing result is returned unchanged
// and the given one is discarded.
//
// On successful registration the reverse mapping (fingerprint, context) ->
// contents is registered opportunistically as well: a still-pending
// deserialization future for the same fingerprint is superseded, since the
// contents are now known locally, but an already-resolved mapping is left
// alone.
func (c *SerializationCache) PutIfAbsent(contents *Contents, result *FingerprintResult, context any) *FingerprintResult {
	existing := c.putResultIfAbsent(contents, result)
	if existing != nil {
		return existing
	}
	c.putContentsIfAbsent(fingerprintKey{result.Fingerprint(), context}, contents, true)
	return nil
}

// FingerprintForContents returns the fingerprint computation result cached
// for the given contents identity. It is a pure lookup and never blocks.
func (c *SerializationCache) FingerprintForContents(contents *Contents) (*FingerprintResult, bool) {
	v, ok := c.contentsToResult.Load(weak.Make(contents))
	if !ok {
		return nil, false
	}
	return v.(*FingerprintResult), true
}

// InvalidateFailed removes the entry for (fingerprint, context) if and only
// if its registered future settled with an error. It is the recovery hook
// for a higher layer that wants to retry a failed population; entries that
// are pending or resolved are never touched.
func (c *SerializationCache) InvalidateFailed(fingerprint digest.Digest, context any) {
	key := fingerprintKey{fingerprint, context}
	v, ok := c.fingerprintToContents.Load(key)
	if !ok {
		return
	}
	fut, ok := v.(*Future[*Contents])
	if !ok {
		return
	}
	if _, err, resolved := fut.Peek(); resolved && err != nil {
		c.fingerprintToContents.CompareAndDelete(key, v)
	}
}

// putResultIfAbsent inserts into the forward table, returning the existing
// result on a lost race.
func (c *SerializationCache) putResultIfAbsent(contents *Contents, result *FingerprintResult) *FingerprintResult {
	wp := weak.Make(contents)
	existing, loaded := c.contentsToResult.LoadOrStore(wp, result)
	if loaded {
		return existing.(*FingerprintResult)
	}
	runtime.AddCleanup(contents, func(arg forwardCleanup) {
		c.contentsToResult.CompareAndDelete(arg.key, arg.result)
	}, forwardCleanup{wp, result})
	return nil
}

type forwardCleanup struct {
	key    weak.Pointer[Contents]
	result *FingerprintResult
}

// putContentsIfAbsent inserts a weak contents reference into the reverse
// table. When supersedePending is set, a still-pending future for the key is
// replaced; resolution of that future then loses its compare-and-swap and
// the locally known contents win. Dead weak entries are replaced in either
// mode.
func (c *SerializationCache) putContentsIfAbsent(key fingerprintKey, contents *Contents, supersedePending bool) {
	wp := weak.Make(contents)
	for {
		existing, loaded := c.fingerprintToContents.LoadOrStore(key, wp)
		if !loaded {
			c.addReverseCleanup(key, contents, wp)
			return
		}
		switch v := existing.(type) {
		case *Future[*Contents]:
			if !supersedePending || v.Resolved() {
				return
			}
			if c.fingerprintToContents.CompareAndSwap(key, existing, wp) {
				c.addReverseCleanup(key, contents, wp)
				return
			}
		case weak.Pointer[Contents]:
			if v.Value() != nil {
				return
			}
			if c.fingerprintToContents.CompareAndSwap(key, existing, wp) {
				c.addReverseCleanup(key, contents, wp)
				return
			}
		}
	}
}

func (c *SerializationCache) addReverseCleanup(key fingerprintKey, contents *Contents, wp weak.Pointer[Contents]) {
	runtime.AddCleanup(contents, func(arg reverseCleanup) {
		c.fingerprintToContents.CompareAndDelete(arg.key, arg.wp)
	}, reverseCleanup{key, wp})
}

type reverseCleanup struct {
	key fingerprintKey
	wp  weak.Pointer[Contents]
}

// awaitDeserialization promotes a registered future once it settles. The
// goroutine holds the only reference the cache keeps to the future, so a
// pending entry stays reachable exactly until it settles.
func (c *SerializationCache) awaitDeserialization(key fingerprintKey, fut *Future[*Contents]) {
	<-fut.Done()
	contents, err, _ := fut.Peek()
	if err != nil {
		c.reporter.ReportFault(err)
		return
	}
	// The bytes for these contents were just fetched, so a write status is
	// trivially complete. Re-index under the post-resolution identity; the
	// pre-resolution key (the future itself) is not comparable to raw
	// contents lookups.
	c.putResultIfAbsent(contents, NewFingerprintResult(key.fingerprint, CompletedFuture(struct{}{})))
	c.promote(key, fut, contents)
}

// promote swaps the reverse entry from the settled future to a weak contents
// reference. Losing the swap means PutIfAbsent got there first with locally
// known contents; either winner satisfies later lookups.
func (c *SerializationCache) promote(key fingerprintKey, fut *Future[*Contents], contents *Contents) {
	wp := weak.Make(contents)
	if c.fingerprintToContents.CompareAndSwap(key, fut, wp) {
		c.addReverseCleanup(key, contents, wp)
	}
}
