package depset

import "github.com/opencontainers/go-digest"

// Contents is the ordered children array of a shared structure. Elements are
// opaque to this package: a child may be a leaf value or a *Contents shared
// with other structures.
//
// Contents are always handled through a *Contents and compared by pointer
// identity, never by structural equality. The caches reference contents
// weakly; ownership stays with the build graph that created them.
type Contents []any

// FingerprintOf returns the fingerprint of a serialized representation: the
// canonical digest of its bytes. Equal serialized bytes always yield equal
// fingerprints, which is what makes fingerprints usable as value-compared
// cache and storage keys.
func FingerprintOf(serialized []byte) digest.Digest {
	return digest.FromBytes(serialized)
}
