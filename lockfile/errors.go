package lockfile

import "errors"

var (
	// ErrBadLockTransition is returned when a caller attempts to upgrade
	// shared→exclusive or downgrade exclusive→shared without first
	// unlocking.
	ErrBadLockTransition = errors.New("lockfile: cannot transition lock level without unlocking first")

	// ErrDoubleLock is returned when a caller attempts to take a lock
	// already held at the requested level, or unlock an already-unlocked
	// handle.
	ErrDoubleLock = errors.New("lockfile: lock already held at requested level")
)
