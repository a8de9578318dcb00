package file

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewKVStore(dir)
	require.NoError(t, s.Init(ctx))

	_, ok, err := s.Get(ctx, "@pitara_downloads")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "@pitara_downloads", []byte(`[1,2,3]`)))
	require.NoError(t, s.Set(ctx, "@pitara_downloads", []byte(`[3,2,1]`)))

	// a fresh store over the same directory sees the last write
	reopened := NewKVStore(dir)
	got, ok, err := reopened.Get(ctx, "@pitara_downloads")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[3,2,1]`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files should be left behind")
}

func TestKVStore_DeleteMissing(t *testing.T) {
	ctx := context.Background()
	s := NewKVStore(t.TempDir())
	require.NoError(t, s.Init(ctx))
	assert.NoError(t, s.Delete(ctx, "missing"))
}
