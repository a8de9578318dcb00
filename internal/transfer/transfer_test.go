package transfer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitara-engine/internal/storage"
)

type recordingTransferer struct {
	name string
	srcs []string
}

func (r *recordingTransferer) Transfer(ctx context.Context, src, dst string, progress ProgressFunc) (Result, error) {
	r.srcs = append(r.srcs, src)
	return Result{Path: dst}, nil
}

func TestRouter_DispatchesByScheme(t *testing.T) {
	web := &recordingTransferer{name: "web"}
	obj := &recordingTransferer{name: "s3"}
	r := NewRouter().Handle(web, "http", "HTTPS").Handle(obj, "s3")

	ctx := context.Background()
	_, err := r.Transfer(ctx, "https://cdn/video.mp4", "/tmp/a", nil)
	require.NoError(t, err)
	_, err = r.Transfer(ctx, "S3://bucket/key.mp4", "/tmp/b", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://cdn/video.mp4"}, web.srcs)
	assert.Equal(t, []string{"S3://bucket/key.mp4"}, obj.srcs)

	_, err = r.Transfer(ctx, "ftp://host/file", "/tmp/c", nil)
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}

func TestHTTPTransferer_DownloadsWithProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("pitara"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "video.mp4", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "s1_e1.mp4")
	var (
		mu      sync.Mutex
		samples [][2]int64
	)
	res, err := NewHTTPTransferer(time.Millisecond).Transfer(context.Background(), srv.URL+"/video.mp4", dst, func(written, expected int64) {
		mu.Lock()
		samples = append(samples, [2]int64{written, expected})
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, dst, res.Path)
	assert.Equal(t, int64(len(payload)), res.Size)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, samples)
	last := samples[len(samples)-1]
	assert.Equal(t, int64(len(payload)), last[0])
	assert.Equal(t, int64(len(payload)), last[1])
	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqual(t, samples[i][0], samples[i-1][0])
	}
}

func TestHTTPTransferer_Cancelled(t *testing.T) {
	const size = 1 << 20
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(size))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(make([]byte, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewHTTPTransferer(5*time.Millisecond).Transfer(ctx, srv.URL+"/slow.mp4", filepath.Join(t.TempDir(), "x.mp4"), nil)
	require.Error(t, err)
	assert.Error(t, ctx.Err())
}

func TestHTTPTransferer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPTransferer(0).Transfer(context.Background(), srv.URL+"/missing.mp4", filepath.Join(t.TempDir(), "m.mp4"), nil)
	assert.Error(t, err)
}

type fakeStorage struct {
	bucket, key, dst string
}

func (f *fakeStorage) DownloadObject(ctx context.Context, bucket, key, dst string, progress storage.ProgressFunc) (int64, error) {
	f.bucket, f.key, f.dst = bucket, key, dst
	if progress != nil {
		progress(5, 10)
		progress(10, 10)
	}
	return 10, nil
}

func (f *fakeStorage) ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStorage) GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	return "", nil
}

func TestS3Transferer(t *testing.T) {
	fs := &fakeStorage{}
	var last int64
	res, err := NewS3Transferer(fs).Transfer(context.Background(), "s3://media/s1/e1_720p.mp4", "/data/s1_e1.mp4", func(written, expected int64) {
		last = written
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Path: "/data/s1_e1.mp4", Size: 10}, res)
	assert.Equal(t, "media", fs.bucket)
	assert.Equal(t, "s1/e1_720p.mp4", fs.key)
	assert.Equal(t, int64(10), last)

	_, err = NewS3Transferer(fs).Transfer(context.Background(), "s3://media", "/data/x", nil)
	assert.Error(t, err)
}
