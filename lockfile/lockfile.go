// Package lockfile is the Lockable substrate shared by list, mhash and
// rhash: a file descriptor, advisory lock state, an mtime gate that
// triggers reloading cached header state, and the read-metadata/
// write-metadata callback pair invoked around lock transitions.
package lockfile

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/4store-go/storekit/internal/durable"
)

// LockState is the process-local advisory lock level held on a File.
type LockState int

const (
	Unlocked LockState = iota
	Shared
	Exclusive
)

func (s LockState) String() string {
	switch s {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return "unlocked"
	}
}

// LockOp names the operation passed to Lock.
type LockOp int

const (
	OpShared LockOp = iota
	OpExclusive
	OpUnlock
)

// Metadata is the capability set a concrete file type (list, mhash, rhash)
// implements to hook header load/store into the lock lifecycle.
type Metadata interface {
	// ReadMetadata re-loads any in-memory cache from the file's current
	// contents. Invoked on Init, and on any lock acquisition where the
	// file's mtime has advanced since this handle last observed it.
	ReadMetadata(f *os.File) error

	// WriteMetadata persists in-memory state (typically just the header)
	// to the file. Invoked once during Init for a fresh/truncated file,
	// and again every time an exclusive lock is released.
	WriteMetadata(f *os.File) error
}

// OpenFlags mirror the caller-supplied open mode.
type OpenFlags uint8

const (
	ReadOnly OpenFlags = 1 << iota
	ReadWrite
	Create
	Truncate
)

// File is a Lockable handle: one open file descriptor, its advisory lock
// state, and the mtime gate protecting the owner's in-memory caches.
type File struct {
	f    *os.File
	path string
	meta Metadata

	state               LockState
	mtimeSec, mtimeNsec int64
}

// Open opens (and, per flags, creates/truncates) path, then runs Init
// before returning the handle unlocked.
func Open(path string, flags OpenFlags, meta Metadata) (*File, error) {
	osFlags := os.O_RDWR
	if flags&ReadOnly != 0 {
		osFlags = os.O_RDONLY
	}
	if flags&Create != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&Truncate != 0 {
		osFlags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, osFlags, 0o644)
	if err != nil {
		logger.Error("lockfile: open failed", "path", path, "err", err)
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	lf := &File{f: f, path: path, meta: meta, state: Unlocked}
	if flags&Truncate != 0 {
		if err := lf.initTruncate(); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else if err := lf.initExisting(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return lf, nil
}

// initTruncate implements the §4.1 "opened with truncate" branch: take
// exclusive, write-metadata, flush, downgrade to shared, read-metadata,
// record mtime, release.
func (lf *File) initTruncate() error {
	if err := lf.flockAcquire(Exclusive); err != nil {
		return err
	}
	if err := lf.meta.WriteMetadata(lf.f); err != nil {
		_ = lf.flockRelease()
		return err
	}
	if err := durable.Fsync(int(lf.f.Fd())); err != nil {
		_ = lf.flockRelease()
		logger.Error("lockfile: flush after write-metadata failed", "path", lf.path, "err", err)
		return fmt.Errorf("lockfile: flush after write-metadata: %w", err)
	}
	if err := lf.flockRelease(); err != nil {
		return err
	}
	if err := lf.flockAcquire(Shared); err != nil {
		return err
	}
	if err := lf.meta.ReadMetadata(lf.f); err != nil {
		_ = lf.flockRelease()
		return err
	}
	if err := lf.recordMtime(); err != nil {
		_ = lf.flockRelease()
		return err
	}
	return lf.flockRelease()
}

// initExisting implements the §4.1 non-truncate branch: shared lock; if
// empty, upgrade to exclusive, re-check emptiness, write header if still
// empty, flush, downgrade; then read-metadata, record mtime, release.
func (lf *File) initExisting() error {
	if err := lf.flockAcquire(Shared); err != nil {
		return err
	}
	empty, err := lf.isEmpty()
	if err != nil {
		_ = lf.flockRelease()
		return err
	}
	if empty {
		if err := lf.flockRelease(); err != nil {
			return err
		}
		if err := lf.flockAcquire(Exclusive); err != nil {
			return err
		}
		stillEmpty, err := lf.isEmpty()
		if err != nil {
			_ = lf.flockRelease()
			return err
		}
		if stillEmpty {
			if err := lf.meta.WriteMetadata(lf.f); err != nil {
				_ = lf.flockRelease()
				return err
			}
			if err := durable.Fsync(int(lf.f.Fd())); err != nil {
				_ = lf.flockRelease()
				logger.Error("lockfile: flush after write-metadata failed", "path", lf.path, "err", err)
				return fmt.Errorf("lockfile: flush after write-metadata: %w", err)
			}
		}
		if err := lf.flockRelease(); err != nil {
			return err
		}
		if err := lf.flockAcquire(Shared); err != nil {
			return err
		}
	}
	if err := lf.meta.ReadMetadata(lf.f); err != nil {
		_ = lf.flockRelease()
		return err
	}
	if err := lf.recordMtime(); err != nil {
		_ = lf.flockRelease()
		return err
	}
	return lf.flockRelease()
}

// Lock takes or releases the process-local advisory lock. Upgrade and
// downgrade without unlocking fail with ErrBadLockTransition; locking at
// the level already held, or unlocking an unlocked handle, fails with
// ErrDoubleLock.
func (lf *File) Lock(op LockOp) error {
	switch op {
	case OpShared:
		if lf.state == Shared {
			return ErrDoubleLock
		}
		if lf.state == Exclusive {
			return ErrBadLockTransition
		}
		if err := lf.flockAcquire(Shared); err != nil {
			return err
		}
		lf.state = Shared
		return lf.reloadIfStale()
	case OpExclusive:
		if lf.state == Exclusive {
			return ErrDoubleLock
		}
		if lf.state == Shared {
			return ErrBadLockTransition
		}
		if err := lf.flockAcquire(Exclusive); err != nil {
			return err
		}
		lf.state = Exclusive
		return lf.reloadIfStale()
	case OpUnlock:
		if lf.state == Unlocked {
			return ErrDoubleLock
		}
		if lf.state == Exclusive {
			if err := lf.meta.WriteMetadata(lf.f); err != nil {
				return err
			}
			if err := durable.Fsync(int(lf.f.Fd())); err != nil {
				logger.Error("lockfile: flush on unlock failed", "path", lf.path, "err", err)
				return fmt.Errorf("lockfile: flush on unlock: %w", err)
			}
			if err := lf.recordMtime(); err != nil {
				return err
			}
		}
		if err := lf.flockRelease(); err != nil {
			return err
		}
		lf.state = Unlocked
		return nil
	default:
		return fmt.Errorf("lockfile: unknown lock op %d", op)
	}
}

// Test reports whether the handle currently holds op (OpUnlock means "is
// currently unlocked").
func (lf *File) Test(op LockOp) bool {
	switch op {
	case OpShared:
		return lf.state == Shared
	case OpExclusive:
		return lf.state == Exclusive
	case OpUnlock:
		return lf.state == Unlocked
	default:
		return false
	}
}

// State returns the current lock level.
func (lf *File) State() LockState { return lf.state }

// File returns the underlying *os.File for positional I/O by the owner.
func (lf *File) File() *os.File { return lf.f }

// Fd returns the raw file descriptor.
func (lf *File) Fd() int { return int(lf.f.Fd()) }

// Path returns the absolute-or-as-given path this handle was opened with.
func (lf *File) Path() string { return lf.path }

// Close releases the file descriptor. The caller must not hold a lock.
func (lf *File) Close() error {
	return lf.f.Close()
}

func (lf *File) flockAcquire(level LockState) error {
	how := unix.LOCK_SH
	if level == Exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(lf.Fd(), how); err != nil {
		logger.Error("lockfile: flock acquire failed", "path", lf.path, "level", level, "err", err)
		return fmt.Errorf("lockfile: flock %s: %w", level, err)
	}
	return nil
}

func (lf *File) flockRelease() error {
	if err := unix.Flock(lf.Fd(), unix.LOCK_UN); err != nil {
		logger.Error("lockfile: flock release failed", "path", lf.path, "err", err)
		return fmt.Errorf("lockfile: flock unlock: %w", err)
	}
	return nil
}

func (lf *File) isEmpty() (bool, error) {
	st, err := lf.f.Stat()
	if err != nil {
		logger.Error("lockfile: stat failed", "path", lf.path, "err", err)
		return false, fmt.Errorf("lockfile: stat: %w", err)
	}
	return st.Size() == 0, nil
}

func (lf *File) recordMtime() error {
	st, err := lf.f.Stat()
	if err != nil {
		logger.Error("lockfile: stat failed", "path", lf.path, "err", err)
		return fmt.Errorf("lockfile: stat: %w", err)
	}
	mt := st.ModTime()
	lf.mtimeSec = mt.Unix()
	lf.mtimeNsec = int64(mt.Nanosecond())
	return nil
}

// reloadIfStale invokes ReadMetadata when the file's mtime has advanced
// past what this handle last observed (the "mtime gate").
func (lf *File) reloadIfStale() error {
	st, err := lf.f.Stat()
	if err != nil {
		logger.Error("lockfile: stat failed", "path", lf.path, "err", err)
		return fmt.Errorf("lockfile: stat: %w", err)
	}
	mt := st.ModTime()
	if mt.Unix() == lf.mtimeSec && int64(mt.Nanosecond()) == lf.mtimeNsec {
		return nil
	}
	if mt.After(time.Unix(lf.mtimeSec, lf.mtimeNsec)) {
		if err := lf.meta.ReadMetadata(lf.f); err != nil {
			return err
		}
	}
	lf.mtimeSec = mt.Unix()
	lf.mtimeNsec = int64(mt.Nanosecond())
	return nil
}
