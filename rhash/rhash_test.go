package rhash

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4store-go/storekit/lockfile"
)

func openTestHash(t *testing.T) *Hash {
	t.Helper()
	dir := t.TempDir()
	h, err := Open(filepath.Join(dir, "r.dat"), lockfile.Create|lockfile.ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func registerPrefix(t *testing.T, h *Hash, code byte, prefix string) {
	t.Helper()
	require.NoError(t, h.Lock(lockfile.OpExclusive))
	require.NoError(t, h.prefixList.AddR(encodePrefixRecord(uint32(code), prefix)))
	h.prefixes.register(code, prefix)
	h.prefixesLoaded++
	require.NoError(t, h.Lock(lockfile.OpUnlock))
}

func TestPutGetInlineDisposition(t *testing.T) {
	h := openTestHash(t)
	require.NoError(t, h.Put(Resource{RID: 1, Attr: 9, Lex: "hello"}))
	r, err := h.Get(1)
	require.NoError(t, err)
	require.Equal(t, "hello", r.Lex)
	require.EqualValues(t, 9, r.Attr)
}

func TestPutGetBCDNumericDisposition(t *testing.T) {
	h := openTestHash(t)
	lex := "123456789012345678" // 18 digits, > 15 bytes, numeric alphabet
	require.NoError(t, h.Put(Resource{RID: 2, Attr: 3, Lex: lex}))
	r, err := h.Get(2)
	require.NoError(t, err)
	require.Equal(t, lex, r.Lex)
	require.EqualValues(t, 3, r.Attr)
}

func TestPutGetBCDDateDisposition(t *testing.T) {
	h := openTestHash(t)
	lex := "2024-01-02T03:04:05Z"
	require.NoError(t, h.Put(Resource{RID: 3, Lex: lex}))
	r, err := h.Get(3)
	require.NoError(t, err)
	require.Equal(t, lex, r.Lex)
}

func TestPutGetInlinePrefixDisposition(t *testing.T) {
	h := openTestHash(t)
	registerPrefix(t, h, 1, "http://example.org/resource/")
	lex := "http://example.org/resource/abc" // short suffix, fits 'p'
	require.NoError(t, h.Put(Resource{RID: 4, Lex: lex}))
	r, err := h.Get(4)
	require.NoError(t, err)
	require.Equal(t, lex, r.Lex)
}

func TestPutGetExternalPrefixDisposition(t *testing.T) {
	h := openTestHash(t)
	registerPrefix(t, h, 1, "http://example.org/resource/")
	lex := "http://example.org/resource/" + strings.Repeat("x", 40) // long suffix -> 'P'
	require.NoError(t, h.Put(Resource{RID: 5, Lex: lex}))
	r, err := h.Get(5)
	require.NoError(t, err)
	require.Equal(t, lex, r.Lex)
}

func TestPutGetExternalPlainDisposition(t *testing.T) {
	h := openTestHash(t)
	lex := strings.Repeat("q", 50) // no numeric/date/prefix match, short enough to skip zlib attempt
	require.NoError(t, h.Put(Resource{RID: 6, Attr: 1, Lex: lex}))
	r, err := h.Get(6)
	require.NoError(t, err)
	require.Equal(t, lex, r.Lex)
	require.EqualValues(t, 1, r.Attr)
}

func TestPutGetExternalZlibDisposition(t *testing.T) {
	h := openTestHash(t)
	lex := strings.Repeat("abcdefgh", 30) // 240 bytes, highly compressible
	require.NoError(t, h.Put(Resource{RID: 7, Lex: lex}))
	r, err := h.Get(7)
	require.NoError(t, err)
	require.Equal(t, lex, r.Lex)
}

func TestGetAbsentReturnsNotFound(t *testing.T) {
	h := openTestHash(t)
	_, err := h.Get(999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutSameResourceTwiceIsIdempotent(t *testing.T) {
	h := openTestHash(t)
	require.NoError(t, h.Put(Resource{RID: 1, Attr: 2, Lex: "same"}))
	require.NoError(t, h.Put(Resource{RID: 1, Attr: 2, Lex: "same"}))
	require.EqualValues(t, 1, h.Count())
}

func TestPutConflictingResourceReturnsCollision(t *testing.T) {
	h := openTestHash(t)
	require.NoError(t, h.Put(Resource{RID: 1, Lex: "first"}))
	err := h.Put(Resource{RID: 1, Lex: "second"})
	require.ErrorIs(t, err, ErrCollision)
}

func TestDoublingPreservesAllEntries(t *testing.T) {
	h := openTestHash(t)
	// rhash doubling never grows search_dist, so an
	// overflow only resolves if the colliding keys differ in the bit a
	// doubling newly unmasks. home_target + k*DefaultSize collides every
	// k into the same bucket pre-double, then each doubling peels off
	// the half whose next bit is set — the scenario doubling exists for.
	const homeTarget = 5
	n := 300
	rids := make([]uint64, 0, n)
	for k := 1; k <= n; k++ {
		rid := (uint64(homeTarget+k*DefaultSize) << 10) | uint64(k)
		rids = append(rids, rid)
		require.NoError(t, h.Put(Resource{RID: rid, Attr: uint64(k), Lex: fmt.Sprintf("v%d", k)}))
	}
	require.True(t, h.Size() > DefaultSize, "table should have doubled")
	require.EqualValues(t, n, h.Count())

	for idx, rid := range rids {
		k := idx + 1
		r, err := h.Get(rid)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("v%d", k), r.Lex)
		require.EqualValues(t, k, r.Attr)
	}
}

func TestAutomaticPrefixLearningSwitchesDisposition(t *testing.T) {
	h := openTestHash(t)
	const prefix = "http://example.org/resource/"

	findDisp := func(rid uint64) byte {
		start, end := h.probeWindow(rid)
		for idx := start; idx < end; idx++ {
			e := readRaw(h.entrySlice(idx))
			if e.rid == rid {
				return e.disp
			}
		}
		t.Fatalf("rid %d not found in probe window", rid)
		return 0
	}

	for i := 1; i <= 100; i++ {
		rid := uint64(i) << 10
		lex := fmt.Sprintf("%sitem-%d", prefix, i)
		require.NoError(t, h.Put(Resource{RID: rid, Lex: lex}))
		if i <= learnerThreshold {
			require.Equal(t, byte('f'), findDisp(rid), "put %d: learner has not crossed its threshold yet", i)
		}
	}

	_, _, ok := h.prefixes.longestMatch(prefix + "item-1")
	require.True(t, ok, "repeatedly observing one dominant prefix must register it without any manual registerPrefix call")

	lastRID := uint64(100) << 10
	disp := findDisp(lastRID)
	require.Contains(t, []byte{'p', 'P'}, disp, "puts after learning should use the prefix-compressed disposition")

	r, err := h.Get(lastRID)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%sitem-100", prefix), r.Lex)
}

func TestMultiPutMultiGetRoundTrip(t *testing.T) {
	h := openTestHash(t)
	items := make([]Resource, 0, 50)
	for i := 1; i <= 50; i++ {
		items = append(items, Resource{RID: uint64(i) << 10, Attr: uint64(i), Lex: fmt.Sprintf("item-%d", i)})
	}
	require.NoError(t, h.MultiPut(items))

	rids := make([]uint64, len(items))
	for i, it := range items {
		rids[i] = it.RID
	}
	got, err := h.MultiGet(rids)
	require.NoError(t, err)
	require.Len(t, got, len(items))
	for i, r := range got {
		require.Equal(t, items[i].Lex, r.Lex)
		require.EqualValues(t, items[i].Attr, r.Attr)
	}
}
