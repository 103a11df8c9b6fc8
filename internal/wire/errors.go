package wire

import "errors"

var (
	// ErrTruncated indicates a buffer lacked the bytes a structure required.
	ErrTruncated = errors.New("wire: truncated buffer")
	// ErrSignatureMismatch indicates a structure had an unexpected magic.
	ErrSignatureMismatch = errors.New("wire: signature mismatch")
)
