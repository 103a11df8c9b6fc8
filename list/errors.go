package list

import "errors"

var (
	// ErrBadWidth is returned by Open when width does not divide ChunkSize.
	ErrBadWidth = errors.New("list: chunk size not divisible by width")

	// ErrRecordWidth is returned when a caller passes a record or buffer
	// that does not match the list's fixed width.
	ErrRecordWidth = errors.New("list: record has wrong width")

	// ErrOutOfRange is returned by Get/GetR for an index at or beyond the
	// list's current length.
	ErrOutOfRange = errors.New("list: index out of range")
)
