package list

import (
	"bytes"

	"github.com/4store-go/storekit/lockfile"
)

// mergeState holds the read-only mmap and per-chunk cursors used by
// NextSortUniqed to stream a k-way merge across chunk_sorted chunks,
// dropping adjacent duplicates as it goes.
type mergeState struct {
	data     []byte
	chunkPos []int64
	chunkEnd []int64
	last     []byte
	haveLast bool
}

func (l *List) startMerge() error {
	totalBytes := l.offset * int64(l.width)
	data, err := l.mmapRO(0, totalBytes)
	if err != nil {
		return err
	}

	numChunks := int64(1)
	if totalBytes > 0 {
		numChunks = (totalBytes + ChunkSize - 1) / ChunkSize
	}

	m := &mergeState{
		data:     data,
		chunkPos: make([]int64, numChunks),
		chunkEnd: make([]int64, numChunks),
	}
	for c := int64(0); c < numChunks; c++ {
		start := c * ChunkSize
		end := start + ChunkSize
		if end > totalBytes {
			end = totalBytes
		}
		m.chunkPos[c] = start
		m.chunkEnd[c] = end
	}
	l.merge = m
	return nil
}

func (l *List) endMerge() {
	if l.merge == nil {
		return
	}
	_ = munmap(l.merge.data)
	l.merge = nil
}

func (m *mergeState) selectMin(width int, cmp Comparator) (int, bool) {
	best := -1
	for c := range m.chunkPos {
		if m.chunkPos[c] >= m.chunkEnd[c] {
			continue
		}
		if best == -1 {
			best = c
			continue
		}
		a := m.data[m.chunkPos[c] : m.chunkPos[c]+int64(width)]
		b := m.data[m.chunkPos[best] : m.chunkPos[best]+int64(width)]
		if cmp(a, b) < 0 {
			best = c
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// NextSortUniqed streams the list in sorted, deduplicated order, taking a
// shared lock itself. The list must already be sorted or chunk_sorted.
func (l *List) NextSortUniqed(out []byte) (bool, error) {
	if err := l.lf.Lock(lockfile.OpShared); err != nil {
		return false, err
	}
	defer l.lf.Lock(lockfile.OpUnlock)
	return l.NextSortUniqedR(out)
}

// NextSortUniqedR is NextSortUniqed without lock management.
func (l *List) NextSortUniqedR(out []byte) (bool, error) {
	if l.state == Unsorted {
		logger.Warn("list: next_sort_uniqed called on an unsorted list, falling back to next_value")
		return l.NextValueR(out)
	}
	if l.merge == nil {
		if err := l.startMerge(); err != nil {
			return false, err
		}
	}
	for {
		c, ok := l.merge.selectMin(l.width, l.sortCmp)
		if !ok {
			l.endMerge()
			return false, nil
		}
		rec := l.merge.data[l.merge.chunkPos[c] : l.merge.chunkPos[c]+int64(l.width)]
		l.merge.chunkPos[c] += int64(l.width)
		if l.merge.haveLast && bytes.Equal(rec, l.merge.last) {
			continue
		}
		copy(out, rec)
		l.merge.last = append(l.merge.last[:0], rec...)
		l.merge.haveLast = true
		return true, nil
	}
}
