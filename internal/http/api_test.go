package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitara-engine/internal/domain"
	"pitara-engine/internal/downloader"
	"pitara-engine/internal/repository/memory"
	"pitara-engine/internal/service"
	"pitara-engine/internal/storage"
	"pitara-engine/internal/transfer"
)

type instantTransfer struct{}

func (instantTransfer) Transfer(_ context.Context, _, dst string, progress transfer.ProgressFunc) (transfer.Result, error) {
	progress(3, 6)
	if err := os.WriteFile(dst, []byte("pitara"), 0o644); err != nil {
		return transfer.Result{}, err
	}
	progress(6, 6)
	return transfer.Result{Path: dst, Size: 6}, nil
}

type fakeStorage struct {
	objects []storage.ObjectInfo
}

func (f *fakeStorage) DownloadObject(context.Context, string, string, string, storage.ProgressFunc) (int64, error) {
	return 0, nil
}

func (f *fakeStorage) ListObjects(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	return f.objects, nil
}

func (f *fakeStorage) GetObjectURL(_ context.Context, bucket, key string, expires time.Duration) (string, error) {
	return "https://signed.example/" + bucket + "/" + key + "?ttl=" + expires.String(), nil
}

func newTestRouter(t *testing.T, store storage.Service, secret string) (*gin.Engine, downloader.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mgr := downloader.NewManager(downloader.Config{DataDir: t.TempDir(), Logger: logger},
		service.NewDownloadService(memory.NewKVStore()), instantTransfer{})
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Shutdown)

	router := gin.New()
	NewHandler(mgr, store, "media", secret).RegisterRoutes(router)
	return router, mgr
}

func do(router *gin.Engine, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func episodeBody() map[string]any {
	return map[string]any{
		"title":         "Episode 1",
		"seriesId":      "s1",
		"seriesTitle":   "Series",
		"episodeId":     "e1",
		"episodeNumber": 1,
		"videoUrl":      "https://cdn/series/s1/e1_720p.mp4",
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestDownloadsLifecycle(t *testing.T) {
	router, mgr := newTestRouter(t, nil, "")

	w := do(router, http.MethodPost, "/api/downloads", episodeBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[domain.Download](t, w)
	assert.Equal(t, domain.DownloadStatusPending, created.Status)
	assert.Equal(t, "720p", created.Quality)

	w = do(router, http.MethodGet, "/api/downloads?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Downloads []domain.Download `json:"downloads"`
	}](t, w)
	require.Len(t, list.Downloads, 1)

	w = do(router, http.MethodPost, "/api/downloads/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, mgr.Wait(context.Background(), created.ID))

	w = do(router, http.MethodGet, "/api/downloads/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	done := decode[domain.Download](t, w)
	assert.Equal(t, domain.DownloadStatusCompleted, done.Status)
	assert.Equal(t, float64(100), done.Progress)

	w = do(router, http.MethodGet, "/api/downloads/"+created.ID+"/file", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pitara", w.Body.String())

	w = do(router, http.MethodDelete, "/api/downloads/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NoFileExists(t, done.LocalPath)

	w = do(router, http.MethodDelete, "/api/downloads/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddDownload_Validation(t *testing.T) {
	router, _ := newTestRouter(t, nil, "")

	body := episodeBody()
	delete(body, "videoUrl")
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/downloads", body).Code)

	body = episodeBody()
	body["quality"] = "ultra"
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/downloads", body).Code)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/downloads?status=paused", nil).Code)
}

func TestAddDownload_StartImmediately(t *testing.T) {
	router, mgr := newTestRouter(t, nil, "")

	body := episodeBody()
	body["start"] = true
	body["quality"] = "1080p"
	w := do(router, http.MethodPost, "/api/downloads", body)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[domain.Download](t, w)
	assert.Equal(t, "1080p", created.Quality)
	assert.NotEqual(t, domain.DownloadStatusPending, created.Status)

	require.NoError(t, mgr.Wait(context.Background(), created.ID))
	assert.Len(t, mgr.CompletedDownloads(), 1)
}

func TestClearDownloads(t *testing.T) {
	router, mgr := newTestRouter(t, nil, "")
	do(router, http.MethodPost, "/api/downloads", episodeBody())
	do(router, http.MethodPost, "/api/downloads", episodeBody())

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/api/downloads", nil).Code)
	assert.Empty(t, mgr.Downloads())
	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/api/downloads", nil).Code)
}

func TestServeDownload_NotCompleted(t *testing.T) {
	router, _ := newTestRouter(t, nil, "")
	created := decode[domain.Download](t, do(router, http.MethodPost, "/api/downloads", episodeBody()))

	w := do(router, http.MethodGet, "/api/downloads/"+created.ID+"/file", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPlaybackSource(t *testing.T) {
	router, _ := newTestRouter(t, &fakeStorage{}, "")

	w := do(router, http.MethodGet, "/api/playback/source?uri=https://cdn/hls/x.m3u8&quality=1080p", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]string](t, w)
	assert.Equal(t, "https://cdn/hls/x.m3u8?quality=1080p", got["uri"])

	w = do(router, http.MethodGet, "/api/playback/source?uri=s3://media/s1/e1_720p.mp4&quality=360p", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got = decode[map[string]string](t, w)
	assert.Equal(t, "s3://media/s1/e1_360p.mp4", got["source"])
	assert.Equal(t, "https://signed.example/media/s1/e1_360p.mp4?ttl=15m0s", got["uri"])

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/playback/source", nil).Code)
}

func TestListObjects(t *testing.T) {
	router, _ := newTestRouter(t, nil, "")
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodGet, "/api/storage/objects", nil).Code)

	modified := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	router, _ = newTestRouter(t, &fakeStorage{objects: []storage.ObjectInfo{{Key: "s1/e1.mp4", Size: 10, LastModified: &modified}}}, "")
	w := do(router, http.MethodGet, "/api/storage/objects?prefix=s1/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	objs := decode[[]StorageObjectResponse](t, w)
	require.Len(t, objs, 1)
	assert.Equal(t, "2025-01-02T03:04:05Z", *objs[0].LastModified)
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	router, _ := newTestRouter(t, nil, secret)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/api/downloads", nil).Code)

	sign := func(key string, method jwt.SigningMethod, exp time.Time) string {
		tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		})
		s, err := tok.SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}

	valid := sign(secret, jwt.SigningMethodHS256, time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/downloads", nil, "Authorization", "Bearer "+valid).Code)

	wrongKey := sign("other", jwt.SigningMethodHS256, time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/api/downloads", nil, "Authorization", "Bearer "+wrongKey).Code)

	expired := sign(secret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/api/downloads", nil, "Authorization", "Bearer "+expired).Code)

	otherAlg := sign(secret, jwt.SigningMethodHS512, time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/api/downloads", nil, "Authorization", "Bearer "+otherAlg).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil, "")
	do(router, http.MethodPost, "/api/downloads", episodeBody())

	w := do(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pitara_downloads_added_total")
}
