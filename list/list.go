// Package list implements an append-only, fixed-width record file:
// buffered appends, random and sequential reads, in-place chunked
// external sort via mmap, and a merge-dedup sorted iterator.
package list

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/4store-go/storekit/internal/durable"
	"github.com/4store-go/storekit/lockfile"
)

// ChunkSize is the 512MiB aligned window external sort operates over.
const ChunkSize int64 = 131072 * 4096

// bufferCapacity is the number of records buffered in memory before a
// flush to disk.
const bufferCapacity = 256

// State is the list's sortedness, tracked in memory only — list files
// carry no header, so this resets to Unsorted on every open.
type State int

const (
	Unsorted State = iota
	ChunkSorted
	Sorted
)

// Comparator orders two width-byte records; used by Sort, SortChunked and
// NextSortUniqed.
type Comparator func(a, b []byte) int

// List is an open, lockable append list of fixed-width records.
type List struct {
	lf    *lockfile.File
	width int

	offset int64 // on-disk record count
	buf    []byte
	bufPos int

	readPos int64
	state   State
	sortCmp Comparator

	merge *mergeState
}

// Open opens (creating if flags has lockfile.Create) a list file of the
// given record width. ChunkSize must be a multiple of width.
func Open(path string, width int, flags lockfile.OpenFlags) (*List, error) {
	if width <= 0 {
		return nil, fmt.Errorf("list: width must be positive, got %d", width)
	}
	if ChunkSize%int64(width) != 0 {
		return nil, fmt.Errorf("%w: width %d does not divide chunk size %d", ErrBadWidth, width, ChunkSize)
	}

	l := &List{
		width: width,
		buf:   make([]byte, bufferCapacity*width),
		state: Unsorted,
	}
	lf, err := lockfile.Open(path, flags, l)
	if err != nil {
		return nil, err
	}
	l.lf = lf
	return l, nil
}

// ReadMetadata implements lockfile.Metadata. List files have no header;
// the only cached state derived from the file is the on-disk record
// count, rebuilt from its length.
func (l *List) ReadMetadata(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		logger.Error("list: stat failed", "path", f.Name(), "err", err)
		return fmt.Errorf("list: stat: %w", err)
	}
	l.offset = st.Size() / int64(l.width)
	return nil
}

// WriteMetadata implements lockfile.Metadata. There is no header to
// persist.
func (l *List) WriteMetadata(*os.File) error { return nil }

// Width returns the fixed record width this list was opened with.
func (l *List) Width() int { return l.width }

// LockHandle exposes the underlying lockable file so an owner composing a
// list into a larger handle (e.g. rhash's prefix dictionary) can fold its
// lock acquisition into its own.
func (l *List) LockHandle() *lockfile.File { return l.lf }

// State returns the current sortedness.
func (l *List) State() State { return l.state }

// Add appends rec, taking the exclusive lock itself.
func (l *List) Add(rec []byte) (int64, error) {
	if err := l.lf.Lock(lockfile.OpExclusive); err != nil {
		return 0, err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.AddR(rec)
}

// AddR appends rec; the caller must already hold the exclusive lock.
// Buffers up to bufferCapacity records before flushing to disk, and
// returns the logical index assigned to rec.
func (l *List) AddR(rec []byte) (int64, error) {
	if len(rec) != l.width {
		return 0, fmt.Errorf("%w: got %d want %d", ErrRecordWidth, len(rec), l.width)
	}
	if l.bufPos >= bufferCapacity {
		if err := l.flushR(); err != nil {
			return 0, err
		}
	}
	copy(l.buf[l.bufPos*l.width:], rec)
	l.bufPos++
	l.state = Unsorted
	return l.offset + int64(l.bufPos) - 1, nil
}

// Flush persists buffered records to disk, taking the exclusive lock
// itself.
func (l *List) Flush() error {
	if err := l.lf.Lock(lockfile.OpExclusive); err != nil {
		return err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.flushR()
}

func (l *List) flushR() error {
	if l.bufPos == 0 {
		return nil
	}
	n := l.bufPos * l.width
	if _, err := l.lf.File().WriteAt(l.buf[:n], l.offset*int64(l.width)); err != nil {
		logger.Error("list: flush failed", "path", l.lf.Path(), "err", err)
		return fmt.Errorf("list: flush: %w", err)
	}
	st, err := l.lf.File().Stat()
	if err != nil {
		logger.Error("list: flush stat failed", "path", l.lf.Path(), "err", err)
		return fmt.Errorf("list: flush stat: %w", err)
	}
	l.offset = st.Size() / int64(l.width)
	l.bufPos = 0
	return nil
}

// Get reads the record at logical index i into out, taking a shared lock.
func (l *List) Get(i int64, out []byte) error {
	if err := l.lf.Lock(lockfile.OpShared); err != nil {
		return err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.GetR(i, out)
}

// GetR is Get without lock management; the caller must hold shared or
// exclusive.
func (l *List) GetR(i int64, out []byte) error {
	if len(out) != l.width {
		return fmt.Errorf("%w: got %d want %d", ErrRecordWidth, len(out), l.width)
	}
	if i < 0 {
		return fmt.Errorf("%w: negative index %d", ErrOutOfRange, i)
	}
	if i < l.offset {
		if _, err := l.lf.File().ReadAt(out, i*int64(l.width)); err != nil {
			logger.Error("list: get failed", "index", i, "path", l.lf.Path(), "err", err)
			return fmt.Errorf("list: get %d: %w", i, err)
		}
		return nil
	}
	bufIdx := int(i - l.offset)
	if bufIdx >= l.bufPos {
		return fmt.Errorf("%w: index %d >= length %d", ErrOutOfRange, i, l.LengthR())
	}
	copy(out, l.buf[bufIdx*l.width:(bufIdx+1)*l.width])
	return nil
}

// Length returns the logical record count, taking a shared lock.
func (l *List) Length() int64 {
	_ = l.lf.Lock(lockfile.OpShared)
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.LengthR()
}

// LengthR is Length without lock management.
func (l *List) LengthR() int64 {
	return l.offset + int64(l.bufPos)
}

// Rewind resets the sequential read cursor, taking a shared lock.
func (l *List) Rewind() error {
	if err := l.lf.Lock(lockfile.OpShared); err != nil {
		return err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	l.RewindR()
	return nil
}

// RewindR resets the sequential cursor without lock management.
func (l *List) RewindR() { l.readPos = 0 }

// NextValue reads the next record sequentially, taking a shared lock.
func (l *List) NextValue(out []byte) (bool, error) {
	if err := l.lf.Lock(lockfile.OpShared); err != nil {
		return false, err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.NextValueR(out)
}

// NextValueR reads the next sequential record into out. Returns
// (false, nil) at true EOF and (false, err) on any I/O error, so callers
// can distinguish the two.
func (l *List) NextValueR(out []byte) (bool, error) {
	if l.readPos >= l.LengthR() {
		return false, nil
	}
	if err := l.GetR(l.readPos, out); err != nil {
		return false, err
	}
	l.readPos++
	return true, nil
}

// Truncate resets the list to empty, taking the exclusive lock itself.
func (l *List) Truncate() error {
	if err := l.lf.Lock(lockfile.OpExclusive); err != nil {
		return err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.TruncateR()
}

// TruncateR is Truncate without lock management; caller must hold
// exclusive.
func (l *List) TruncateR() error {
	if err := l.lf.File().Truncate(0); err != nil {
		logger.Error("list: truncate failed", "path", l.lf.Path(), "err", err)
		return fmt.Errorf("list: truncate: %w", err)
	}
	l.offset = 0
	l.bufPos = 0
	l.readPos = 0
	l.state = Unsorted
	l.endMerge()
	return nil
}

// Unlink closes and removes the backing file.
func (l *List) Unlink() error {
	path := l.lf.Path()
	if err := l.lf.Close(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		logger.Error("list: unlink failed", "path", path, "err", err)
		return fmt.Errorf("list: unlink: %w", err)
	}
	return nil
}

// Close releases the handle. The caller must not hold a lock.
func (l *List) Close() error {
	l.endMerge()
	return l.lf.Close()
}

func (l *List) mmapRW(offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	data, err := unix.Mmap(l.lf.Fd(), offset, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		logger.Error("list: mmap failed", "path", l.lf.Path(), "offset", offset, "length", length, "err", err)
		return nil, fmt.Errorf("list: mmap: %w", err)
	}
	return data, nil
}

func (l *List) mmapRO(offset, length int64) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	data, err := unix.Mmap(l.lf.Fd(), offset, int(length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		logger.Error("list: mmap failed", "path", l.lf.Path(), "offset", offset, "length", length, "err", err)
		return nil, fmt.Errorf("list: mmap: %w", err)
	}
	return data, nil
}

func munmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		logger.Error("list: munmap failed", "err", err)
		return fmt.Errorf("list: munmap: %w", err)
	}
	return nil
}

// recSlice adapts a flat mmap'd byte region into sort.Interface so the
// stdlib's introsort can sort fixed-width records in place.
type recSlice struct {
	data  []byte
	width int
	cmp   Comparator
	tmp   []byte
}

func (r *recSlice) Len() int { return len(r.data) / r.width }

func (r *recSlice) Less(i, j int) bool {
	a := r.data[i*r.width : (i+1)*r.width]
	b := r.data[j*r.width : (j+1)*r.width]
	return r.cmp(a, b) < 0
}

func (r *recSlice) Swap(i, j int) {
	if i == j {
		return
	}
	a := r.data[i*r.width : (i+1)*r.width]
	b := r.data[j*r.width : (j+1)*r.width]
	copy(r.tmp, a)
	copy(a, b)
	copy(b, r.tmp)
}

// Sort performs a full in-place sort of the list, taking the exclusive
// lock itself.
func (l *List) Sort(cmp Comparator) error {
	if err := l.lf.Lock(lockfile.OpExclusive); err != nil {
		return err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.SortR(cmp)
}

// SortR is Sort without lock management; caller must hold exclusive.
func (l *List) SortR(cmp Comparator) error {
	if err := l.flushR(); err != nil {
		return err
	}
	l.endMerge()
	n := l.offset
	l.sortCmp = cmp
	if n == 0 {
		l.state = Sorted
		return nil
	}
	size := n * int64(l.width)
	data, err := l.mmapRW(0, size)
	if err != nil {
		return err
	}
	sort.Sort(&recSlice{data: data, width: l.width, cmp: cmp, tmp: make([]byte, l.width)})
	syncErr := durable.Msync(data)
	if syncErr != nil {
		logger.Error("list: msync failed", "path", l.lf.Path(), "err", syncErr)
	}
	unmapErr := munmap(data)
	if syncErr != nil {
		return syncErr
	}
	if unmapErr != nil {
		return unmapErr
	}
	l.state = Sorted
	return nil
}

// SortChunked sorts each ChunkSize-aligned window independently, taking
// the exclusive lock itself.
func (l *List) SortChunked(cmp Comparator) error {
	if err := l.lf.Lock(lockfile.OpExclusive); err != nil {
		return err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.SortChunkedR(cmp)
}

// SortChunkedR is SortChunked without lock management; caller must hold
// exclusive.
func (l *List) SortChunkedR(cmp Comparator) error {
	if err := l.flushR(); err != nil {
		return err
	}
	l.endMerge()
	l.sortCmp = cmp
	totalBytes := l.offset * int64(l.width)
	if totalBytes == 0 {
		l.state = Sorted
		return nil
	}
	numChunks := (totalBytes + ChunkSize - 1) / ChunkSize
	for c := int64(0); c < numChunks; c++ {
		start := c * ChunkSize
		end := start + ChunkSize
		if end > totalBytes {
			end = totalBytes
		}
		data, err := l.mmapRW(start, end-start)
		if err != nil {
			return err
		}
		sort.Sort(&recSlice{data: data, width: l.width, cmp: cmp, tmp: make([]byte, l.width)})
		syncErr := durable.Msync(data)
		if syncErr != nil {
			logger.Error("list: msync failed", "path", l.lf.Path(), "chunk", c, "err", syncErr)
		}
		unmapErr := munmap(data)
		if syncErr != nil {
			return syncErr
		}
		if unmapErr != nil {
			return unmapErr
		}
	}
	if numChunks <= 1 {
		l.state = Sorted
	} else {
		l.state = ChunkSorted
	}
	return nil
}
