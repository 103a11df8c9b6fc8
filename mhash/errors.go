package mhash

import "errors"

var (
	// ErrCorruptHeader is returned when a header's magic does not match.
	ErrCorruptHeader = errors.New("mhash: corrupt header")

	// ErrNullRID is returned by Put for the reserved zero RID, which the
	// free-slot sentinel (rid=0, val=0) depends on staying unused.
	ErrNullRID = errors.New("mhash: rid 0 is reserved")
)
