package depset

import "errors"

// ErrMissing is returned when no serialized representation exists for a
// requested fingerprint.
var ErrMissing = errors.New("no serialized representation for fingerprint")
