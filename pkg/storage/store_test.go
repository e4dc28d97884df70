package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "chains/t1/000001_start.json", []byte(`{"a":1}`)))

	data, err := s.Get(ctx, "chains/t1/000001_start.json")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))

	_, err = s.Get(ctx, "chains/t1/missing.json")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListOrderedByPath(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "chains/t1/000002_b.json", []byte("b")))
	require.NoError(t, s.Put(ctx, "chains/t1/000001_a.json", []byte("a")))
	require.NoError(t, s.Put(ctx, "chains/t2/000001_a.json", []byte("x")))

	paths, err := s.List(ctx, "chains/t1/")
	require.NoError(t, err)
	require.Equal(t, []string{"chains/t1/000001_a.json", "chains/t1/000002_b.json"}, paths)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "chains/c/000001_x.json", []byte("one")))

	data, err := s.Get(ctx, "chains/c/000001_x.json")
	require.NoError(t, err)
	require.Equal(t, "one", string(data))

	require.NoError(t, s.Delete(ctx, "chains/c/000001_x.json"))
	_, err = s.Get(ctx, "chains/c/000001_x.json")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_AtomicReplace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.AtomicReplace(ctx, "chains/c/MANIFEST.json", []byte(`{"length":1}`)))
	require.NoError(t, s.AtomicReplace(ctx, "chains/c/MANIFEST.json", []byte(`{"length":2}`)))

	data, err := s.Get(ctx, "chains/c/MANIFEST.json")
	require.NoError(t, err)
	require.Equal(t, `{"length":2}`, string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "chains", "c"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileStore_RejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.Error(t, s.Put(ctx, "../outside.json", []byte("no")))
	_, err = s.Get(ctx, "/etc/passwd")
	require.Error(t, err)
}

func TestFileStore_ListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "chains/c/000001_x.json", []byte("one")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chains", "c", ".tmp-123"), []byte("junk"), 0o644))

	paths, err := s.List(ctx, "chains/c/")
	require.NoError(t, err)
	require.Equal(t, []string{"chains/c/000001_x.json"}, paths)
}
