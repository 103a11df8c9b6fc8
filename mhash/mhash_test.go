package mhash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4store-go/storekit/lockfile"
)

func openTestHash(t *testing.T) *Hash {
	t.Helper()
	dir := t.TempDir()
	h, err := Open(filepath.Join(dir, "m.dat"), lockfile.Create|lockfile.ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestPutGetRoundTrip(t *testing.T) {
	h := openTestHash(t)
	require.NoError(t, h.Put(42, 7))
	v, err := h.Get(42)
	require.NoError(t, err)
	require.EqualValues(t, 7, v)
}

func TestGetAbsentReturnsZero(t *testing.T) {
	h := openTestHash(t)
	v, err := h.Get(99)
	require.NoError(t, err)
	require.EqualValues(t, 0, v)
}

func TestPutRejectsNullRID(t *testing.T) {
	h := openTestHash(t)
	require.ErrorIs(t, h.Put(0, 1), ErrNullRID)
}

func TestCountTracksOccupancy(t *testing.T) {
	h := openTestHash(t)
	require.EqualValues(t, 0, h.Count())

	require.NoError(t, h.Put(1, 5))
	require.EqualValues(t, 1, h.Count())

	require.NoError(t, h.Put(2, 6))
	require.EqualValues(t, 2, h.Count())

	// Setting val to 0 is a logical delete: count drops but the slot
	// keeps its rid (tombstone), distinct from a truly free slot.
	require.NoError(t, h.Put(1, 0))
	require.EqualValues(t, 1, h.Count())

	v, err := h.Get(1)
	require.NoError(t, err)
	require.EqualValues(t, 0, v)

	require.NoError(t, h.Put(1, 9))
	require.EqualValues(t, 2, h.Count())
}

func TestPutReplacesExistingKey(t *testing.T) {
	h := openTestHash(t)
	require.NoError(t, h.Put(10, 1))
	require.NoError(t, h.Put(10, 2))
	require.EqualValues(t, 1, h.Count())
	v, err := h.Get(10)
	require.NoError(t, err)
	require.EqualValues(t, 2, v)
}

func TestDoublingPreservesAllEntries(t *testing.T) {
	h := openTestHash(t)
	// Only rid>>10 selects the home slot, so pinning i%4 to those bits
	// and spreading i across the low bits concentrates every insert into
	// one of 4 home slots, overflowing search_dist quickly.
	n := 400
	inserted := make(map[uint64]uint32)
	for i := 1; i <= n; i++ {
		rid := (uint64(i%4) << 10) | uint64(i)
		val := uint32(i)
		require.NoError(t, h.Put(rid, val))
		inserted[rid] = val
	}
	require.True(t, h.Size() > DefaultSize, "table should have doubled at least once")
	require.EqualValues(t, len(inserted), h.Count())

	for rid, val := range inserted {
		v, err := h.Get(rid)
		require.NoError(t, err)
		require.Equal(t, val, v, "rid %d", rid)
	}
}

func TestEnumerateKeysVisitsOnlyOccupied(t *testing.T) {
	h := openTestHash(t)
	require.NoError(t, h.Put(1, 10))
	require.NoError(t, h.Put(2, 20))
	require.NoError(t, h.Put(3, 0)) // never occupied, stays free-ish

	seen := map[uint64]uint32{}
	require.NoError(t, h.EnumerateKeys(func(rid uint64, val uint32) error {
		seen[rid] = val
		return nil
	}))
	require.Equal(t, map[uint64]uint32{1: 10, 2: 20}, seen)
}
