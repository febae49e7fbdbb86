package depset

import "github.com/opencontainers/go-digest"

// FingerprintResult pairs the fingerprint of a serialized structure with the
// write status of its blob: the write status settles once the serialized
// bytes (and those of any child structures) have been stored.
type FingerprintResult struct {
	fingerprint digest.Digest
	writeStatus *Future[struct{}]
}

// NewFingerprintResult creates a FingerprintResult. The write status must be
// non-nil; use a completed future for contents that are already stored.
func NewFingerprintResult(fingerprint digest.Digest, writeStatus *Future[struct{}]) *FingerprintResult {
	if writeStatus == nil {
		panic("depset: nil write status")
	}
	return &FingerprintResult{fingerprint: fingerprint, writeStatus: writeStatus}
}

// Fingerprint returns the content fingerprint.
func (r *FingerprintResult) Fingerprint() digest.Digest {
	return r.fingerprint
}

// WriteStatus returns the write-completion handle.
func (r *FingerprintResult) WriteStatus() *Future[struct{}] {
	return r.writeStatus
}

// Done reports whether the write has completed successfully.
func (r *FingerprintResult) Done() bool {
	_, err, resolved := r.writeStatus.Peek()
	return resolved && err == nil
}
