package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/cavaliergopher/grab/v3"
)

const defaultUserAgent = "pitara-engine/1.0"

// HTTPTransferer downloads over HTTP(S). Partial files left by an interrupted run are
// resumed with range requests when the origin supports them.
type HTTPTransferer struct {
	client   *grab.Client
	interval time.Duration
}

// NewHTTPTransferer reports progress every interval (200ms when zero).
func NewHTTPTransferer(interval time.Duration) *HTTPTransferer {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	client := grab.NewClient()
	client.UserAgent = defaultUserAgent
	return &HTTPTransferer{
		client:   client,
		interval: interval,
	}
}

func (h *HTTPTransferer) Transfer(ctx context.Context, src, dst string, progress ProgressFunc) (Result, error) {
	req, err := grab.NewRequest(dst, src)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req = req.WithContext(ctx)

	resp := h.client.Do(req)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

Loop:
	for {
		select {
		case <-ticker.C:
			if progress != nil {
				progress(resp.BytesComplete(), resp.Size())
			}
		case <-resp.Done:
			break Loop
		}
	}

	if err := resp.Err(); err != nil {
		return Result{}, fmt.Errorf("download %s: %w", src, err)
	}
	if progress != nil {
		progress(resp.BytesComplete(), resp.Size())
	}

	return Result{Path: resp.Filename, Size: resp.BytesComplete()}, nil
}

var _ Transferer = (*HTTPTransferer)(nil)
