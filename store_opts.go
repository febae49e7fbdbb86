package depset

import "runtime"

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCache uses an existing serialization cache instead of creating one.
// Stores sharing a cache must use distinct cache contexts unless they really
// do share a universe of fingerprints.
func WithCache(cache *SerializationCache) StoreOption {
	return func(s *Store) {
		s.cache = cache
	}
}

// WithFaultReporter sets the sink for unexpected population failures.
func WithFaultReporter(reporter FaultReporter) StoreOption {
	return func(s *Store) {
		if reporter != nil {
			s.reporter = reporter
		}
	}
}

// WithCacheContext sets the context token under which this store's entries
// live. The token must be comparable; value equality defines which stores
// share entries.
func WithCacheContext(context any) StoreOption {
	return func(s *Store) {
		s.context = context
	}
}

// WithMaxInFlight bounds the number of simultaneous blob operations.
// Defaults to twice GOMAXPROCS.
func WithMaxInFlight(n int) StoreOption {
	return func(s *Store) {
		s.maxInFlight = n
	}
}

func defaultMaxInFlight() int {
	return 2 * runtime.GOMAXPROCS(0)
}
