// Package rhash implements the resource hash: a bucketed, open-addressed,
// memory-mapped table from 64-bit RIDs to variable-length resource
// records, backed by a sequential "lex" overflow file and a URI-prefix
// dictionary.
package rhash

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/4store-go/storekit/internal/codec"
	"github.com/4store-go/storekit/internal/wire"
	"github.com/4store-go/storekit/list"
	"github.com/4store-go/storekit/lockfile"
)

const (
	// Magic identifies a resource-hash primary file.
	Magic = 0x4a585230

	headerSize = 512
	entrySize  = 32

	// DefaultSize is the initial bucket count.
	DefaultSize = 65536
	// DefaultBucketSize is the number of entries per bucket.
	DefaultBucketSize = 16
	// DefaultSearchDist is the initial probe bound, in slots.
	DefaultSearchDist = 32

	revision = 1

	prefixListWidth = 512
	maxPrefixes     = 256
	learnerTopN     = 32
)

// Resource is the caller-facing record: an opaque 64-bit identifier, an
// opaque 64-bit attribute (language/datatype tag), and its lexical form.
type Resource struct {
	RID  uint64
	Attr uint64
	Lex  string
}

// Hash is an open handle on a resource-hash primary file, its lex
// overflow file, and its prefix dictionary.
type Hash struct {
	lf  *lockfile.File
	lex *os.File

	prefixList     *list.List
	prefixes       *prefixTable
	prefixesLoaded int64
	learner        *prefixLearner

	zscratch codec.ZlibScratch

	data       []byte
	lexOffset  int64
	size       int64
	count      int64
	searchDist int64
	bucketSize int64
}

// Open opens or creates a resource hash rooted at path, alongside its
// "<path>.lex" overflow file and "<path>.prefix" dictionary list.
func Open(path string, flags lockfile.OpenFlags) (*Hash, error) {
	h := &Hash{
		size:       DefaultSize,
		bucketSize: DefaultBucketSize,
		searchDist: DefaultSearchDist,
		prefixes:   newPrefixTable(),
		learner:    newPrefixLearner(),
	}

	lexFlags := os.O_RDWR
	if flags&lockfile.ReadOnly != 0 {
		lexFlags = os.O_RDONLY
	}
	if flags&lockfile.Create != 0 {
		lexFlags |= os.O_CREATE
	}
	if flags&lockfile.Truncate != 0 {
		lexFlags |= os.O_TRUNC
	}
	lexFile, err := os.OpenFile(path+".lex", lexFlags, 0o644)
	if err != nil {
		logger.Error("rhash: open lex file failed", "path", path, "err", err)
		return nil, fmt.Errorf("rhash: open lex file: %w", err)
	}
	st, err := lexFile.Stat()
	if err != nil {
		_ = lexFile.Close()
		logger.Error("rhash: stat lex file failed", "path", path, "err", err)
		return nil, fmt.Errorf("rhash: stat lex file: %w", err)
	}
	h.lex = lexFile
	h.lexOffset = st.Size()

	pl, err := list.Open(path+".prefix", prefixListWidth, flags)
	if err != nil {
		_ = lexFile.Close()
		return nil, err
	}
	h.prefixList = pl

	lf, err := lockfile.Open(path, flags, h)
	if err != nil {
		_ = lexFile.Close()
		_ = pl.Close()
		return nil, err
	}
	h.lf = lf

	if err := h.rebuildPrefixesR(); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// ReadMetadata implements lockfile.Metadata: reloads the header and, if
// the bucket count changed, re-establishes the memory mapping.
func (h *Hash) ReadMetadata(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		logger.Error("rhash: stat failed", "path", f.Name(), "err", err)
		return fmt.Errorf("rhash: stat: %w", err)
	}
	if st.Size() == 0 {
		return nil
	}
	buf := make([]byte, 24)
	if _, err := f.ReadAt(buf, 0); err != nil {
		logger.Error("rhash: read header failed", "path", f.Name(), "err", err)
		return fmt.Errorf("rhash: read header: %w", err)
	}
	magic := wire.ReadU32(buf, 0)
	if magic != Magic {
		logger.Error("rhash: corrupt header", "path", f.Name(), "got", magic, "want", uint32(Magic))
		return fmt.Errorf("%w: got %#x want %#x", ErrCorruptHeader, magic, uint32(Magic))
	}
	newSize := int64(wire.ReadU32(buf, 4))
	h.count = int64(wire.ReadU32(buf, 8))
	h.searchDist = int64(wire.ReadU32(buf, 12))
	h.bucketSize = int64(wire.ReadU32(buf, 16))

	if h.data == nil || newSize != h.size {
		h.size = newSize
		if err := h.remap(f, newSize); err != nil {
			return err
		}
	} else {
		h.size = newSize
	}
	return nil
}

// WriteMetadata implements lockfile.Metadata.
func (h *Hash) WriteMetadata(f *os.File) error {
	buf := make([]byte, headerSize)
	wire.PutU32(buf, 0, Magic)
	wire.PutU32(buf, 4, uint32(h.size))
	wire.PutU32(buf, 8, uint32(h.count))
	wire.PutU32(buf, 12, uint32(h.searchDist))
	wire.PutU32(buf, 16, uint32(h.bucketSize))
	wire.PutU32(buf, 20, revision)
	if _, err := f.WriteAt(buf, 0); err != nil {
		logger.Error("rhash: write header failed", "path", f.Name(), "err", err)
		return fmt.Errorf("rhash: write header: %w", err)
	}
	if err := h.lex.Sync(); err != nil {
		logger.Error("rhash: sync lex file failed", "err", err)
		return fmt.Errorf("rhash: sync lex file: %w", err)
	}
	if h.data == nil {
		return h.remap(f, h.size)
	}
	return nil
}

func (h *Hash) remap(f *os.File, newSize int64) error {
	if h.data != nil {
		if err := unix.Munmap(h.data); err != nil {
			logger.Error("rhash: munmap failed", "path", f.Name(), "err", err)
			return fmt.Errorf("rhash: munmap: %w", err)
		}
		h.data = nil
	}
	want := headerSize + newSize*h.bucketSize*entrySize
	st, err := f.Stat()
	if err != nil {
		logger.Error("rhash: stat failed", "path", f.Name(), "err", err)
		return fmt.Errorf("rhash: stat: %w", err)
	}
	if st.Size() < want {
		if _, err := f.WriteAt([]byte{0}, want-1); err != nil {
			logger.Error("rhash: extend failed", "path", f.Name(), "err", err)
			return fmt.Errorf("rhash: extend: %w", err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(want), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		logger.Error("rhash: mmap failed", "path", f.Name(), "err", err)
		return fmt.Errorf("rhash: mmap: %w", err)
	}
	h.data = data
	return nil
}

// Size returns the current bucket count.
func (h *Hash) Size() int64 { return h.size }

// Count returns the number of occupied entries.
func (h *Hash) Count() int64 { return h.count }

// SearchDist returns the current probe bound.
func (h *Hash) SearchDist() int64 { return h.searchDist }

func (h *Hash) homeSlot(rid uint64) int64 {
	return int64((rid>>10)&uint64(h.size-1)) * h.bucketSize
}

func (h *Hash) newHomeSlot(rid uint64, size int64) int64 {
	return int64((rid>>10)&uint64(size-1)) * h.bucketSize
}

func (h *Hash) probeWindow(rid uint64) (start, end int64) {
	start = h.homeSlot(rid)
	total := h.size * h.bucketSize
	end = start + h.searchDist
	if end > total {
		end = total
	}
	return start, end
}

func (h *Hash) entrySlice(idx int64) []byte {
	off := headerSize + idx*entrySize
	return h.data[off : off+entrySize]
}

// Lock acquires (or releases) the hash's lock together with its prefix
// dictionary's lock, so the two always move as one unit. On acquisition
// it also folds in any newly-appended prefix records.
func (h *Hash) Lock(op lockfile.LockOp) error {
	if op == lockfile.OpUnlock {
		err1 := h.lf.Lock(lockfile.OpUnlock)
		err2 := h.prefixList.LockHandle().Lock(lockfile.OpUnlock)
		if err1 != nil {
			return err1
		}
		return err2
	}
	if err := h.prefixList.LockHandle().Lock(op); err != nil {
		return err
	}
	if err := h.lf.Lock(op); err != nil {
		_ = h.prefixList.LockHandle().Lock(lockfile.OpUnlock)
		return err
	}
	if err := h.rebuildPrefixesR(); err != nil {
		_ = h.Lock(lockfile.OpUnlock)
		return err
	}
	return nil
}

func (h *Hash) rebuildPrefixesR() error {
	n := h.prefixList.LengthR()
	if n == h.prefixesLoaded {
		return nil
	}
	buf := make([]byte, prefixListWidth)
	for i := h.prefixesLoaded; i < n; i++ {
		if err := h.prefixList.GetR(i, buf); err != nil {
			return err
		}
		code, prefix := decodePrefixRecord(buf)
		h.prefixes.register(byte(code), prefix)
	}
	h.prefixesLoaded = n
	return nil
}

// Put inserts or idempotently confirms a resource, taking the lock
// itself.
func (h *Hash) Put(r Resource) error {
	if err := h.Lock(lockfile.OpExclusive); err != nil {
		return err
	}
	defer h.Lock(lockfile.OpUnlock)
	return h.PutR(r)
}

// PutR is Put without lock management; caller must hold exclusive.
func (h *Hash) PutR(r Resource) error {
	for {
		done, overfull, err := h.tryPut(r)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !overfull {
			return nil
		}
		if err := h.doubleR(); err != nil {
			return err
		}
	}
}

func (h *Hash) tryPut(r Resource) (done, overfull bool, err error) {
	start, end := h.probeWindow(r.RID)
	freeIdx := int64(-1)
	for idx := start; idx < end; idx++ {
		e := readRaw(h.entrySlice(idx))
		if e.rid == r.RID {
			exLex, exAttr, derr := h.decode(e)
			if derr != nil {
				return false, false, derr
			}
			if exLex == r.Lex && exAttr == r.Attr {
				return true, false, nil
			}
			return false, false, fmt.Errorf("%w: rid %d", ErrCollision, r.RID)
		}
		if e.rid == 0 && freeIdx < 0 {
			freeIdx = idx
		}
	}
	if freeIdx < 0 {
		return false, true, nil
	}
	newEntry, err := h.selectAndEncode(r.RID, r.Attr, r.Lex)
	if err != nil {
		return false, false, err
	}
	writeRaw(h.entrySlice(freeIdx), newEntry)
	h.count++
	return true, false, nil
}

// Get returns the resource stored for rid, taking the lock itself.
func (h *Hash) Get(rid uint64) (Resource, error) {
	if err := h.Lock(lockfile.OpShared); err != nil {
		return Resource{}, err
	}
	defer h.Lock(lockfile.OpUnlock)
	return h.GetR(rid)
}

// GetR is Get without lock management.
func (h *Hash) GetR(rid uint64) (Resource, error) {
	start, end := h.probeWindow(rid)
	for idx := start; idx < end; idx++ {
		e := readRaw(h.entrySlice(idx))
		if e.rid == rid {
			lex, attr, err := h.decode(e)
			if err != nil {
				return Resource{}, err
			}
			return Resource{RID: rid, Attr: attr, Lex: lex}, nil
		}
	}
	logger.Warn("rhash: probe exhausted", "rid", rid, "start", start, "end", end)
	return Resource{RID: rid, Lex: fmt.Sprintf("(resource %d not found)", rid)}, ErrNotFound
}

// MultiPut sorts items by home slot and puts each, taking the lock once
// for the whole batch.
func (h *Hash) MultiPut(items []Resource) error {
	sorted := sortedByHome(h, items)
	if err := h.Lock(lockfile.OpExclusive); err != nil {
		return err
	}
	defer h.Lock(lockfile.OpUnlock)
	for _, r := range sorted {
		if err := h.PutR(r); err != nil {
			return err
		}
	}
	return nil
}

// MultiGet sorts rids by home slot and gets each, taking the lock once
// for the whole batch. Results are returned in the caller's original
// order.
func (h *Hash) MultiGet(rids []uint64) ([]Resource, error) {
	order := make([]int, len(rids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		hi, hj := h.homeSlot(rids[order[i]]), h.homeSlot(rids[order[j]])
		if hi != hj {
			return hi < hj
		}
		return rids[order[i]] < rids[order[j]]
	})

	if err := h.Lock(lockfile.OpShared); err != nil {
		return nil, err
	}
	defer h.Lock(lockfile.OpUnlock)

	out := make([]Resource, len(rids))
	for _, i := range order {
		r, err := h.GetR(rids[i])
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func sortedByHome(h *Hash, items []Resource) []Resource {
	sorted := append([]Resource(nil), items...)
	sort.Slice(sorted, func(i, j int) bool {
		hi, hj := h.homeSlot(sorted[i].RID), h.homeSlot(sorted[j].RID)
		if hi != hj {
			return hi < hj
		}
		return sorted[i].RID < sorted[j].RID
	})
	return sorted
}

func (h *Hash) doubleR() error {
	oldSize := h.size
	newSize := oldSize * 2
	oldTotal := oldSize * h.bucketSize

	if err := h.remap(h.lf.File(), newSize); err != nil {
		return err
	}
	for i := int64(0); i < oldTotal; i++ {
		e := readRaw(h.entrySlice(i))
		if e.rid == 0 {
			continue
		}
		if h.newHomeSlot(e.rid, newSize) >= oldTotal {
			writeRaw(h.entrySlice(oldTotal+i), e)
			writeRaw(h.entrySlice(i), rawEntry{})
		}
	}
	h.size = newSize
	return nil
}

// Close releases the primary handle, lex file and prefix dictionary. The
// caller must not hold a lock.
func (h *Hash) Close() error {
	var firstErr error
	if h.data != nil {
		if err := unix.Munmap(h.data); err != nil && firstErr == nil {
			logger.Error("rhash: munmap failed", "path", h.lf.Path(), "err", err)
			firstErr = fmt.Errorf("rhash: munmap: %w", err)
		}
		h.data = nil
	}
	if err := h.lex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := h.prefixList.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := h.lf.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
