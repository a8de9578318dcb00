package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("s3://media/series/1/ep_720p.mp4")
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "series/1/ep_720p.mp4", key)

	for _, bad := range []string{"https://cdn/x.mp4", "s3://", "s3://media", "s3://media/", "s3:///key"} {
		_, _, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestProgressWriterAt_CountsOutOfOrderParts(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "obj.part"))
	require.NoError(t, err)
	defer f.Close()

	var calls [][2]int64
	reporter := newProgressReporter(8, func(done, total int64) {
		calls = append(calls, [2]int64{done, total})
	})
	w := &progressWriterAt{f: f, progress: reporter}

	_, err = w.WriteAt([]byte("5678"), 4)
	require.NoError(t, err)
	_, err = w.WriteAt([]byte("1234"), 0)
	require.NoError(t, err)

	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int64{8, 8}, calls[len(calls)-1])

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(data))
}

func TestNewProgressReporter_NilCallback(t *testing.T) {
	assert.Nil(t, newProgressReporter(10, nil))
}
