package depset

// Encoded is the serialized form of one contents array. Children lists the
// shared substructures referenced by the encoding that must be stored in
// their own right; the write status of the parent does not complete until
// theirs do.
type Encoded struct {
	Data     []byte
	Children []*Contents
}

// Codec translates between in-memory contents and their serialized
// representation. The wire format is owned by the surrounding build tool;
// this package only requires that encoding is deterministic, so that equal
// serialized bytes imply an equal fingerprint.
type Codec interface {
	Encode(contents *Contents) (Encoded, error)
	Decode(data []byte) (*Contents, error)
}
