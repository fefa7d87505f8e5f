package quota

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSurvivesNewGate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "slidegen", "quota.json")

	g, _ := newGate(t, NewFileStore(path))
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Record(ctx, anon, "paper2ppt"))
	}

	// A later run starts with a fresh store and gate over the same file.
	next, _ := newGate(t, NewFileStore(path))
	st, err := next.Check(ctx, anon)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Used)
	assert.Zero(t, st.Remaining)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.NoFileExists(t, path+".tmp")
}

func TestFileStoreMissingFileCountsZero(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "quota.json"))
	n, err := s.Count(context.Background(), "anon:x", "2026-03-14")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFileStoreKindsAndPrune(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "quota.json"))
	_, _ = s.Increment(ctx, "k", "2026-03-13", "polish")
	_, _ = s.Increment(ctx, "k", "2026-03-14", "paper2ppt")
	n, err := s.Increment(ctx, "k", "2026-03-14", "polish")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	kinds, err := s.Kinds(ctx, "k", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"paper2ppt": 1, "polish": 1}, kinds)

	old, err := s.Count(ctx, "k", "2026-03-13")
	require.NoError(t, err)
	assert.Zero(t, old, "windows before the current day are dropped on write")
}

func TestFileStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quota.json")
	a, b := NewFileStore(path), NewFileStore(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		s := a
		if i%2 == 1 {
			s = b
		}
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "k", "2026-03-14", "paper2ppt")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := a.Count(ctx, "k", "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFileStore(path).Count(context.Background(), "k", "d")
	assert.Error(t, err)
}
