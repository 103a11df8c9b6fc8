package rhash

import "errors"

var (
	// ErrCorruptHeader is returned when a primary file's magic doesn't
	// match.
	ErrCorruptHeader = errors.New("rhash: corrupt header")

	// ErrCorruptEntry is returned when a stored entry's disposition byte
	// or prefix code is not recognized.
	ErrCorruptEntry = errors.New("rhash: corrupt entry")

	// ErrCollision is returned by Put when an existing entry for the same
	// RID decodes to a different lex or attr, rather than silently
	// overwriting it.
	ErrCollision = errors.New("rhash: rid already present with different value")

	// ErrNotFound is returned by Get when the probe window is exhausted
	// without a match.
	ErrNotFound = errors.New("rhash: resource not found")

	// ErrCodec is returned when an external payload fails to decode (for
	// example corrupt zlib data).
	ErrCodec = errors.New("rhash: codec error")
)
