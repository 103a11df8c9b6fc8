package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingMeta struct {
	reads, writes int
	onRead        func(f *os.File) error
	onWrite       func(f *os.File) error
}

func (m *countingMeta) ReadMetadata(f *os.File) error {
	m.reads++
	if m.onRead != nil {
		return m.onRead(f)
	}
	return nil
}

func (m *countingMeta) WriteMetadata(f *os.File) error {
	m.writes++
	if m.onWrite != nil {
		return m.onWrite(f)
	}
	return nil
}

func TestOpenEmptyFileInitializesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")

	meta := &countingMeta{
		onWrite: func(f *os.File) error {
			_, err := f.WriteAt([]byte("HDR1"), 0)
			return err
		},
	}
	lf, err := Open(path, Create|ReadWrite, meta)
	require.NoError(t, err)
	defer lf.Close()

	require.Equal(t, 1, meta.writes)
	require.Equal(t, 1, meta.reads)
	require.True(t, lf.Test(OpUnlock))

	st, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 4, st.Size())
}

func TestOpenNonEmptyFileSkipsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	require.NoError(t, os.WriteFile(path, []byte("EXISTING"), 0o644))

	meta := &countingMeta{}
	lf, err := Open(path, ReadWrite, meta)
	require.NoError(t, err)
	defer lf.Close()

	require.Equal(t, 0, meta.writes)
	require.Equal(t, 1, meta.reads)
}

func TestLockTransitionsRequireUnlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	lf, err := Open(path, Create|ReadWrite, &countingMeta{})
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, lf.Lock(OpShared))
	require.ErrorIs(t, lf.Lock(OpExclusive), ErrBadLockTransition)
	require.ErrorIs(t, lf.Lock(OpShared), ErrDoubleLock)
	require.NoError(t, lf.Lock(OpUnlock))
	require.ErrorIs(t, lf.Lock(OpUnlock), ErrDoubleLock)

	require.NoError(t, lf.Lock(OpExclusive))
	require.ErrorIs(t, lf.Lock(OpShared), ErrBadLockTransition)
	require.NoError(t, lf.Lock(OpUnlock))
}

func TestExclusiveUnlockWritesMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	meta := &countingMeta{}
	lf, err := Open(path, Create|ReadWrite, meta)
	require.NoError(t, err)
	defer lf.Close()

	before := meta.writes
	require.NoError(t, lf.Lock(OpExclusive))
	require.NoError(t, lf.Lock(OpUnlock))
	require.Equal(t, before+1, meta.writes)
}

func TestMtimeGateSkipsReloadWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	meta := &countingMeta{}
	lf, err := Open(path, Create|ReadWrite, meta)
	require.NoError(t, err)
	defer lf.Close()

	reads := meta.reads
	require.NoError(t, lf.Lock(OpShared))
	require.NoError(t, lf.Lock(OpUnlock))
	require.NoError(t, lf.Lock(OpShared))
	require.NoError(t, lf.Lock(OpUnlock))
	require.Equal(t, reads, meta.reads, "no external writer modified the file; ReadMetadata should not re-run")
}

func TestOpenWithTruncateDiscardsExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	require.NoError(t, os.WriteFile(path, []byte("STALE-DATA-FROM-A-PRIOR-RUN"), 0o644))

	meta := &countingMeta{
		onWrite: func(f *os.File) error {
			_, err := f.WriteAt([]byte("HDR1"), 0)
			return err
		},
	}
	lf, err := Open(path, Create|ReadWrite|Truncate, meta)
	require.NoError(t, err)
	defer lf.Close()

	require.Equal(t, 1, meta.writes)
	st, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 4, st.Size(), "truncate must discard the stale content before write-metadata runs")
}
