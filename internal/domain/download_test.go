package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to DownloadStatus
		ok       bool
	}{
		{DownloadStatusPending, DownloadStatusDownloading, true},
		{DownloadStatusPending, DownloadStatusCompleted, false},
		{DownloadStatusPending, DownloadStatusFailed, false},
		{DownloadStatusDownloading, DownloadStatusCompleted, true},
		{DownloadStatusDownloading, DownloadStatusFailed, true},
		{DownloadStatusDownloading, DownloadStatusDownloading, true},
		{DownloadStatusDownloading, DownloadStatusPending, false},
		{DownloadStatusCompleted, DownloadStatusDownloading, false},
		{DownloadStatusFailed, DownloadStatusDownloading, false},
		{DownloadStatusFailed, DownloadStatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestDownload_Lifecycle(t *testing.T) {
	d := NewDownload("id-1", DownloadSpec{SeriesID: "s", EpisodeID: "e", Quality: "720p"})
	assert.Equal(t, DownloadStatusPending, d.Status)
	assert.Zero(t, d.Progress)

	assert.False(t, d.SetProgress(10), "progress is ignored while pending")

	require.NoError(t, d.Transition(DownloadStatusDownloading))
	assert.True(t, d.SetProgress(40))
	assert.False(t, d.SetProgress(30), "progress never decreases")
	assert.True(t, d.SetProgress(250))
	assert.Equal(t, float64(100), d.Progress)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("IST", 19800))
	require.NoError(t, d.Complete("/tmp/s_e.mp4", 2048, at))
	assert.Equal(t, DownloadStatusCompleted, d.Status)
	assert.Equal(t, "/tmp/s_e.mp4", d.LocalPath)
	require.NotNil(t, d.DownloadedAt)
	assert.True(t, d.DownloadedAt.Equal(at))

	err := d.Transition(DownloadStatusDownloading)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(d.Fail(), ErrInvalidTransition))
}

func TestDownload_CloneDoesNotShareTimestamp(t *testing.T) {
	at := time.Now()
	d := Download{ID: "x", Status: DownloadStatusCompleted, DownloadedAt: &at}
	c := d.Clone()
	*c.DownloadedAt = at.Add(time.Hour)
	assert.True(t, d.DownloadedAt.Equal(at))
}

func TestDownloadStatus_JSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		S DownloadStatus `json:"s"`
	}{DownloadStatusFailed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"failed"}`, string(raw))

	var v struct {
		S DownloadStatus `json:"s"`
	}
	err = json.Unmarshal([]byte(`{"s":"uploading"}`), &v)
	assert.True(t, errors.Is(err, ErrUnknownStatus))
}
