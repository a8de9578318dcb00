package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// ProgressFunc receives cumulative bytes written and the expected total (0 when unknown).
type ProgressFunc func(done, total int64)

// Service fetches episode media from object storage acting as the CDN origin.
type Service interface {
	DownloadObject(ctx context.Context, bucket, key, dst string, progress ProgressFunc) (int64, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("invalid s3 location %q", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("s3 bucket missing in %q", uri)
	}
	if len(parts) == 1 || strings.Trim(parts[1], "/") == "" {
		return "", "", fmt.Errorf("s3 key missing in %q", uri)
	}
	return parts[0], strings.TrimPrefix(parts[1], "/"), nil
}
