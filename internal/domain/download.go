package domain

import (
	"errors"
	"fmt"
	"time"
)

type DownloadStatus string

const (
	DownloadStatusPending     DownloadStatus = "pending"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusFailed      DownloadStatus = "failed"
)

var (
	// ErrInvalidTransition is returned when a status change is not an edge of the download lifecycle.
	ErrInvalidTransition = errors.New("invalid download status transition")
	// ErrUnknownStatus is returned when decoding a status string outside the lifecycle.
	ErrUnknownStatus = errors.New("unknown download status")
)

// Valid reports whether s is one of the lifecycle states.
func (s DownloadStatus) Valid() bool {
	switch s {
	case DownloadStatusPending, DownloadStatusDownloading, DownloadStatusCompleted, DownloadStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s can only be left by deleting the record.
func (s DownloadStatus) Terminal() bool {
	return s == DownloadStatusCompleted || s == DownloadStatusFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// downloading -> downloading is allowed so interrupted transfers can be resumed.
func (s DownloadStatus) CanTransition(next DownloadStatus) bool {
	switch s {
	case DownloadStatusPending:
		return next == DownloadStatusDownloading
	case DownloadStatusDownloading:
		return next == DownloadStatusDownloading || next == DownloadStatusCompleted || next == DownloadStatusFailed
	case DownloadStatusCompleted, DownloadStatusFailed:
		return false
	}
	return false
}

func (s *DownloadStatus) UnmarshalText(text []byte) error {
	v := DownloadStatus(text)
	if !v.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, string(text))
	}
	*s = v
	return nil
}

func (s DownloadStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
	}
	return []byte(s), nil
}

// DownloadSpec carries the immutable fields of a download supplied by the caller.
type DownloadSpec struct {
	Title         string `json:"title"`
	SeriesID      string `json:"seriesId"`
	SeriesTitle   string `json:"seriesTitle"`
	EpisodeID     string `json:"episodeId"`
	EpisodeNumber int    `json:"episodeNumber"`
	VideoURL      string `json:"videoUrl"`
	ThumbnailURL  string `json:"thumbnailUrl,omitempty"`
	Quality       string `json:"quality"`
}

// Download is an offline copy of one episode at one quality.
type Download struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	SeriesID      string         `json:"seriesId"`
	SeriesTitle   string         `json:"seriesTitle"`
	EpisodeID     string         `json:"episodeId"`
	EpisodeNumber int            `json:"episodeNumber"`
	VideoURL      string         `json:"videoUrl"`
	ThumbnailURL  string         `json:"thumbnailUrl,omitempty"`
	LocalPath     string         `json:"localPath,omitempty"`
	Status        DownloadStatus `json:"status"`
	Progress      float64        `json:"progress"`
	Size          int64          `json:"size,omitempty"`
	DownloadedAt  *time.Time     `json:"downloadedAt,omitempty"`
	Quality       string         `json:"quality"`
}

// NewDownload builds a pending record for spec.
func NewDownload(id string, spec DownloadSpec) Download {
	return Download{
		ID:            id,
		Title:         spec.Title,
		SeriesID:      spec.SeriesID,
		SeriesTitle:   spec.SeriesTitle,
		EpisodeID:     spec.EpisodeID,
		EpisodeNumber: spec.EpisodeNumber,
		VideoURL:      spec.VideoURL,
		ThumbnailURL:  spec.ThumbnailURL,
		Quality:       spec.Quality,
		Status:        DownloadStatusPending,
		Progress:      0,
	}
}

// Transition moves d to next, enforcing the lifecycle.
func (d *Download) Transition(next DownloadStatus) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, next)
	}
	d.Status = next
	return nil
}

// SetProgress records a progress sample. Samples outside downloading or lower than the
// current value are ignored; the value is clamped to [0, 100].
func (d *Download) SetProgress(p float64) bool {
	if d.Status != DownloadStatusDownloading {
		return false
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p <= d.Progress {
		return false
	}
	d.Progress = p
	return true
}

// Complete marks d completed at localPath.
func (d *Download) Complete(localPath string, size int64, at time.Time) error {
	if err := d.Transition(DownloadStatusCompleted); err != nil {
		return err
	}
	d.Progress = 100
	d.LocalPath = localPath
	if size > 0 {
		d.Size = size
	}
	t := at.UTC()
	d.DownloadedAt = &t
	return nil
}

// Fail marks d failed.
func (d *Download) Fail() error {
	return d.Transition(DownloadStatusFailed)
}

// Clone returns a copy that shares no pointers with d.
func (d Download) Clone() Download {
	if d.DownloadedAt != nil {
		t := *d.DownloadedAt
		d.DownloadedAt = &t
	}
	return d
}
