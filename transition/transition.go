// Package transition memoizes the outputs of pure, deterministic
// transformations so that applying the same transformation to the same input
// always returns the same instance.
//
// The motivating case is a build configuration layer: the same configuration
// transition applies to thousands of nodes, and every application must yield
// not just an equal result but the identical one, or downstream identity
// checks degrade into deep comparisons. Outputs are held weakly; an entry
// lives exactly as long as some caller holds its output, so the cache never
// pins data the build no longer uses.
package transition

import (
	"runtime"
	"sync"
	"weak"

	"github.com/opencontainers/go-digest"
)

// Func is a deterministic, pure transformation of (input, context). It may
// fail synchronously on malformed input; failures are returned to the caller
// and never memoized, so the next call retries.
type Func[I any, C comparable, O any] func(input I, context C) (*O, error)

// Cache interns transformation outputs keyed by (input checksum, context).
// Equal checksums under equal contexts always observe the same output
// instance while the entry survives; unequal contexts are fully independent
// even for identical inputs.
//
// A Cache is safe for concurrent use. At most one computation per key runs
// at a time; racing callers wait for the winner and receive its output.
type Cache[I any, C comparable, O any] struct {
	transform Func[I, C, O]
	checksum  func(I) digest.Digest
	entries   sync.Map // transitionKey[C] -> *entry[O]
}

type transitionKey[C comparable] struct {
	checksum digest.Digest
	context  C
}

type entry[O any] struct {
	mu   sync.Mutex
	val  weak.Pointer[O]
	dead bool // entry removed from the table; repopulating it would orphan the result
}

// New creates a Cache. checksum must be a stable hash of the input's value:
// inputs with equal checksums are treated as identical.
func New[I any, C comparable, O any](transform Func[I, C, O], checksum func(I) digest.Digest) *Cache[I, C, O] {
	if transform == nil {
		panic("transition: nil transform")
	}
	if checksum == nil {
		panic("transition: nil checksum")
	}
	return &Cache[I, C, O]{transform: transform, checksum: checksum}
}

// Apply returns the memoized output for (input, context), computing it via
// the transform on first use. The per-key lock is held across the transform,
// which gives the single-flight guarantee; callers for other keys are not
// serialized against it.
func (c *Cache[I, C, O]) Apply(input I, context C) (*O, error) {
	key := transitionKey[C]{c.checksum(input), context}
	for {
		v, _ := c.entries.LoadOrStore(key, &entry[O]{})
		e := v.(*entry[O])

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		out, err := c.compute(key, e, input, context)
		e.mu.Unlock()
		return out, err
	}
}

// compute runs under e.mu.
func (c *Cache[I, C, O]) compute(key transitionKey[C], e *entry[O], input I, context C) (*O, error) {
	if out := e.val.Value(); out != nil {
		return out, nil
	}
	out, err := c.transform(input, context)
	if err != nil {
		return nil, err
	}
	wp := weak.Make(out)
	e.val = wp
	runtime.AddCleanup(out, func(arg cleanupArg[C, O]) {
		c.dropIfStale(arg.key, arg.wp)
	}, cleanupArg[C, O]{key: key, wp: wp})
	return out, nil
}

type cleanupArg[C comparable, O any] struct {
	key transitionKey[C]
	wp  weak.Pointer[O]
}

// dropIfStale removes the bookkeeping entry once its output is collected,
// unless the entry has been repopulated since.
func (c *Cache[I, C, O]) dropIfStale(key transitionKey[C], wp weak.Pointer[O]) {
	v, ok := c.entries.Load(key)
	if !ok {
		return
	}
	e := v.(*entry[O])
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.val != wp {
		return
	}
	e.dead = true
	c.entries.CompareAndDelete(key, v)
}
