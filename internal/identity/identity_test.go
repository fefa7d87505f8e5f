package identity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymousIsStableAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "fingerprint")

	first, err := NewAnonymous(path).Identity(context.Background())
	require.NoError(t, err)
	assert.False(t, first.Authenticated)
	assert.True(t, strings.HasPrefix(first.Key, "anon:"))

	second, err := NewAnonymous(path).Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAnonymousRegeneratesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerprint")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

	id, err := NewAnonymous(path).Identity(context.Background())
	require.NoError(t, err)
	assert.Greater(t, len(id.Key), len("anon:"))
}

func TestResolvePrefersAccount(t *testing.T) {
	anon := NewAnonymous(filepath.Join(t.TempDir(), "fp"))

	id, err := Resolve("alice", anon).Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Identity{Key: "user:alice", Authenticated: true}, id)

	id, err = Resolve("  ", anon).Identity(context.Background())
	require.NoError(t, err)
	assert.False(t, id.Authenticated)
}

func TestEmptyAccountFails(t *testing.T) {
	_, err := Account("").Identity(context.Background())
	assert.Error(t, err)
}
