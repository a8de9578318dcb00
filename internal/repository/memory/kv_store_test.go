package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitara-engine/internal/repository"
)

func TestKVStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewKVStore()
	require.NoError(t, s.Init(ctx))

	_, ok, err := s.Get(ctx, "downloads")
	require.NoError(t, err)
	assert.False(t, ok)

	value := []byte(`[{"id":"a"}]`)
	require.NoError(t, s.Set(ctx, "downloads", value))
	value[0] = 'X'

	got, ok, err := s.Get(ctx, "downloads")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"id":"a"}]`, string(got), "stored value must not alias caller buffer")

	require.NoError(t, s.Delete(ctx, "downloads"))
	_, ok, err = s.Get(ctx, "downloads")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewKVStore()
	require.NoError(t, s.Close())

	err := s.Set(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, repository.ErrClosed)
	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrClosed)
}
