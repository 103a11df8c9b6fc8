package list

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4store-go/storekit/lockfile"
)

const testWidth = 8

func u64rec(v uint64) []byte {
	b := make([]byte, testWidth)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func u64val(rec []byte) uint64 {
	return binary.LittleEndian.Uint64(rec)
}

func cmpU64(a, b []byte) int {
	av, bv := u64val(a), u64val(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func openTestList(t *testing.T, width int) *List {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "l.dat"), width, lockfile.Create|lockfile.ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestOpenRejectsWidthNotDividingChunkSize(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "l.dat"), 7, lockfile.Create|lockfile.ReadWrite)
	require.ErrorIs(t, err, ErrBadWidth)
}

func TestAddAndGetAcrossBufferAndDisk(t *testing.T) {
	l := openTestList(t, testWidth)

	n := bufferCapacity + 10
	for i := 0; i < n; i++ {
		idx, err := l.Add(u64rec(uint64(i)))
		require.NoError(t, err)
		require.EqualValues(t, i, idx)
	}
	require.EqualValues(t, n, l.Length())

	out := make([]byte, testWidth)
	for i := 0; i < n; i++ {
		require.NoError(t, l.Get(int64(i), out))
		require.EqualValues(t, i, u64val(out))
	}
}

func TestGetOutOfRange(t *testing.T) {
	l := openTestList(t, testWidth)
	_, err := l.Add(u64rec(1))
	require.NoError(t, err)

	out := make([]byte, testWidth)
	require.ErrorIs(t, l.Get(5, out), ErrOutOfRange)
}

func TestNextValueReportsNilErrorAtEOF(t *testing.T) {
	l := openTestList(t, testWidth)
	for i := 0; i < 3; i++ {
		_, err := l.Add(u64rec(uint64(i)))
		require.NoError(t, err)
	}

	require.NoError(t, l.Rewind())
	out := make([]byte, testWidth)
	for i := 0; i < 3; i++ {
		ok, err := l.NextValue(out)
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, i, u64val(out))
	}
	ok, err := l.NextValue(out)
	require.False(t, ok)
	require.NoError(t, err, "true EOF must report nil error, not just ok=false")
}

func TestTruncateResetsLengthAndState(t *testing.T) {
	l := openTestList(t, testWidth)
	for i := 0; i < 5; i++ {
		_, err := l.Add(u64rec(uint64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, l.Sort(cmpU64))
	require.Equal(t, Sorted, l.State())

	require.NoError(t, l.Truncate())
	require.EqualValues(t, 0, l.Length())
	require.Equal(t, Unsorted, l.State())
}

func TestSortOrdersRecords(t *testing.T) {
	l := openTestList(t, testWidth)
	values := []uint64{5, 1, 4, 2, 3}
	for _, v := range values {
		_, err := l.Add(u64rec(v))
		require.NoError(t, err)
	}
	require.NoError(t, l.Sort(cmpU64))
	require.Equal(t, Sorted, l.State())

	out := make([]byte, testWidth)
	var prev uint64
	for i := 0; i < len(values); i++ {
		require.NoError(t, l.Get(int64(i), out))
		v := u64val(out)
		if i > 0 {
			require.GreaterOrEqual(t, v, prev)
		}
		prev = v
	}
}

func TestSortChunkedSingleChunkMarksSorted(t *testing.T) {
	l := openTestList(t, testWidth)
	for _, v := range []uint64{3, 1, 2} {
		_, err := l.Add(u64rec(v))
		require.NoError(t, err)
	}
	require.NoError(t, l.SortChunked(cmpU64))
	require.Equal(t, Sorted, l.State())
}

func TestNextSortUniqedDropsDuplicates(t *testing.T) {
	l := openTestList(t, testWidth)
	for _, v := range []uint64{3, 1, 2, 1, 3, 2, 1} {
		_, err := l.Add(u64rec(v))
		require.NoError(t, err)
	}
	require.NoError(t, l.Sort(cmpU64))

	var got []uint64
	out := make([]byte, testWidth)
	for {
		ok, err := l.NextSortUniqed(out)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, u64val(out))
	}
	require.Equal(t, []uint64{1, 2, 3}, got)
}

func TestNextSortUniqedOnUnsortedFallsBackToNextValue(t *testing.T) {
	l := openTestList(t, testWidth)
	_, err := l.Add(u64rec(42))
	require.NoError(t, err)
	require.NoError(t, l.Rewind())

	out := make([]byte, testWidth)
	ok, err := l.NextSortUniqed(out)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 42, u64val(out))
}

func TestUnlinkRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "l.dat")
	l, err := Open(path, testWidth, lockfile.Create|lockfile.ReadWrite)
	require.NoError(t, err)
	_, err = l.Add(u64rec(1))
	require.NoError(t, err)
	require.NoError(t, l.Flush())
	require.NoError(t, l.Unlink())

	_, err = Open(path, testWidth, lockfile.ReadWrite)
	require.Error(t, err)
}

func TestAddRejectsWrongWidth(t *testing.T) {
	l := openTestList(t, testWidth)
	_, err := l.Add(bytes.Repeat([]byte{0}, testWidth+1))
	require.ErrorIs(t, err, ErrRecordWidth)
}
