// Package mhash implements the model hash: an open-addressed,
// linear-probed disk table mapping 64-bit RIDs to 32-bit index-node
// values, with in-place doubling when the probe window overflows. All
// I/O here is positional read/write rather than mmap.
package mhash

import (
	"fmt"
	"os"

	"github.com/4store-go/storekit/internal/wire"
	"github.com/4store-go/storekit/lockfile"
)

const (
	// Magic identifies a model-hash file.
	Magic = 0x4a584d30

	headerSize = 512
	entrySize  = 12

	// DefaultSize is the initial slot count used when no prior header
	// exists.
	DefaultSize = 1024
	// DefaultSearchDist is the initial probe bound for a freshly created
	// table.
	DefaultSearchDist = 8
)

type entry struct {
	rid uint64
	val uint32
}

func (e entry) free() bool { return e.rid == 0 && e.val == 0 }

// Hash is an open handle on a model-hash file.
type Hash struct {
	lf *lockfile.File

	size       int64
	count      int64
	searchDist int64
}

// Open opens or creates a model-hash file.
func Open(path string, flags lockfile.OpenFlags) (*Hash, error) {
	h := &Hash{
		size:       DefaultSize,
		searchDist: DefaultSearchDist,
	}
	lf, err := lockfile.Open(path, flags, h)
	if err != nil {
		return nil, err
	}
	h.lf = lf
	return h, nil
}

// ReadMetadata implements lockfile.Metadata.
func (h *Hash) ReadMetadata(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		logger.Error("mhash: stat failed", "path", f.Name(), "err", err)
		return fmt.Errorf("mhash: stat: %w", err)
	}
	if st.Size() == 0 {
		return nil
	}
	buf := make([]byte, 16)
	if _, err := f.ReadAt(buf, 0); err != nil {
		logger.Error("mhash: read header failed", "path", f.Name(), "err", err)
		return fmt.Errorf("mhash: read header: %w", err)
	}
	magic := wire.ReadU32(buf, 0)
	if magic != Magic {
		logger.Error("mhash: corrupt header", "path", f.Name(), "got", magic, "want", uint32(Magic))
		return fmt.Errorf("%w: got %#x want %#x", ErrCorruptHeader, magic, uint32(Magic))
	}
	h.size = int64(int32(wire.ReadU32(buf, 4)))
	h.count = int64(int32(wire.ReadU32(buf, 8)))
	h.searchDist = int64(int32(wire.ReadU32(buf, 12)))
	return nil
}

// WriteMetadata implements lockfile.Metadata.
func (h *Hash) WriteMetadata(f *os.File) error {
	buf := make([]byte, headerSize)
	wire.PutU32(buf, 0, Magic)
	wire.PutU32(buf, 4, uint32(h.size))
	wire.PutU32(buf, 8, uint32(h.count))
	wire.PutU32(buf, 12, uint32(h.searchDist))
	if _, err := f.WriteAt(buf, 0); err != nil {
		logger.Error("mhash: write header failed", "path", f.Name(), "err", err)
		return fmt.Errorf("mhash: write header: %w", err)
	}
	want := headerSize + h.size*entrySize
	if st, err := f.Stat(); err == nil && st.Size() < want {
		if err := f.Truncate(want); err != nil {
			logger.Error("mhash: extend failed", "path", f.Name(), "err", err)
			return fmt.Errorf("mhash: extend: %w", err)
		}
	}
	return nil
}

// Size returns the current slot count.
func (h *Hash) Size() int64 { return h.size }

// Count returns the number of non-free slots.
func (h *Hash) Count() int64 { return h.count }

func (h *Hash) homeSlot(rid uint64) int64 {
	return int64((rid >> 10) & uint64(h.size-1))
}

func (h *Hash) entryOffset(idx int64) int64 {
	return headerSize + idx*entrySize
}

func (h *Hash) readEntry(idx int64) (entry, error) {
	buf := make([]byte, entrySize)
	if _, err := h.lf.File().ReadAt(buf, h.entryOffset(idx)); err != nil {
		logger.Error("mhash: read entry failed", "idx", idx, "err", err)
		return entry{}, fmt.Errorf("mhash: read entry %d: %w", idx, err)
	}
	return entry{
		rid: wire.ReadU64(buf, 0),
		val: wire.ReadU32(buf, 8),
	}, nil
}

func (h *Hash) writeEntry(idx int64, e entry) error {
	buf := make([]byte, entrySize)
	wire.PutU64(buf, 0, e.rid)
	wire.PutU32(buf, 8, e.val)
	if _, err := h.lf.File().WriteAt(buf, h.entryOffset(idx)); err != nil {
		logger.Error("mhash: write entry failed", "idx", idx, "err", err)
		return fmt.Errorf("mhash: write entry %d: %w", idx, err)
	}
	return nil
}

// Put sets rid's value, taking the exclusive lock itself.
func (h *Hash) Put(rid uint64, val uint32) error {
	if err := h.lf.Lock(lockfile.OpExclusive); err != nil {
		return err
	}
	defer h.lf.Lock(lockfile.OpUnlock)
	return h.PutR(rid, val)
}

// PutR is Put without lock management; caller must hold exclusive.
func (h *Hash) PutR(rid uint64, val uint32) error {
	if rid == 0 {
		return ErrNullRID
	}
	for {
		overfull, err := h.tryPut(rid, val)
		if err != nil {
			return err
		}
		if !overfull {
			return nil
		}
		if err := h.doubleR(); err != nil {
			return err
		}
	}
}

func (h *Hash) tryPut(rid uint64, val uint32) (overfull bool, err error) {
	home := h.homeSlot(rid)
	limit := h.searchDist
	if limit > h.size {
		limit = h.size
	}
	candidate := int64(-1)
	for i := int64(0); i < limit; i++ {
		idx := (home + i) & (h.size - 1)
		if i > 0 && idx == 0 {
			break
		}
		e, err := h.readEntry(idx)
		if err != nil {
			return false, err
		}
		if e.rid == rid {
			wasOccupied := e.val != 0
			nowOccupied := val != 0
			if err := h.writeEntry(idx, entry{rid: rid, val: val}); err != nil {
				return false, err
			}
			switch {
			case wasOccupied && !nowOccupied:
				h.count--
			case !wasOccupied && nowOccupied:
				h.count++
			}
			return false, nil
		}
		if e.free() && candidate < 0 {
			candidate = idx
		}
	}
	if candidate >= 0 {
		if err := h.writeEntry(candidate, entry{rid: rid, val: val}); err != nil {
			return false, err
		}
		if val != 0 {
			h.count++
		}
		return false, nil
	}
	return true, nil
}

// Get returns rid's value, taking a shared lock itself. Absent keys
// yield 0.
func (h *Hash) Get(rid uint64) (uint32, error) {
	if err := h.lf.Lock(lockfile.OpShared); err != nil {
		return 0, err
	}
	defer h.lf.Lock(lockfile.OpUnlock)
	return h.GetR(rid)
}

// GetR is Get without lock management.
func (h *Hash) GetR(rid uint64) (uint32, error) {
	home := h.homeSlot(rid)
	limit := h.searchDist
	if limit > h.size {
		limit = h.size
	}
	for i := int64(0); i < limit; i++ {
		idx := (home + i) & (h.size - 1)
		if i > 0 && idx == 0 {
			break
		}
		e, err := h.readEntry(idx)
		if err != nil {
			return 0, err
		}
		if e.rid == rid {
			return e.val, nil
		}
	}
	return 0, nil
}

// Double grows the table in place, taking the exclusive lock itself.
func (h *Hash) Double() error {
	if err := h.lf.Lock(lockfile.OpExclusive); err != nil {
		return err
	}
	defer h.lf.Lock(lockfile.OpUnlock)
	return h.doubleR()
}

func (h *Hash) doubleR() error {
	oldSize := h.size
	newSize := oldSize * 2

	want := headerSize + newSize*entrySize
	if st, err := h.lf.File().Stat(); err != nil {
		logger.Error("mhash: stat failed", "path", h.lf.Path(), "err", err)
		return fmt.Errorf("mhash: stat: %w", err)
	} else if st.Size() < want {
		if _, err := h.lf.File().WriteAt([]byte{0}, want-1); err != nil {
			logger.Error("mhash: extend failed", "path", h.lf.Path(), "err", err)
			return fmt.Errorf("mhash: extend: %w", err)
		}
	}

	h.size = newSize
	for i := int64(0); i < oldSize; i++ {
		e, err := h.readEntry(i)
		if err != nil {
			return err
		}
		if e.free() {
			continue
		}
		newHome := h.homeSlot(e.rid)
		if newHome >= oldSize {
			if err := h.writeEntry(oldSize+i, e); err != nil {
				return err
			}
			if err := h.writeEntry(i, entry{}); err != nil {
				return err
			}
		}
	}
	h.searchDist = h.searchDist*2 + 1
	return nil
}

// EnumerateKeys scans the table sequentially and invokes fn for every
// non-free entry, taking a shared lock itself.
func (h *Hash) EnumerateKeys(fn func(rid uint64, val uint32) error) error {
	if err := h.lf.Lock(lockfile.OpShared); err != nil {
		return err
	}
	defer h.lf.Lock(lockfile.OpUnlock)
	return h.EnumerateKeysR(fn)
}

// EnumerateKeysR is EnumerateKeys without lock management.
func (h *Hash) EnumerateKeysR(fn func(rid uint64, val uint32) error) error {
	for i := int64(0); i < h.size; i++ {
		e, err := h.readEntry(i)
		if err != nil {
			return err
		}
		if e.val == 0 {
			continue
		}
		if err := fn(e.rid, e.val); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the handle.
func (h *Hash) Close() error { return h.lf.Close() }
