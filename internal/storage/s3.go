package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Service reads episode media from Amazon S3 (or compatible APIs).
type S3Service struct {
	client     *s3.Client
	downloader *manager.Downloader
	presigner  *s3.PresignClient
}

func NewS3Service(client *s3.Client) *S3Service {
	return &S3Service{
		client:     client,
		downloader: manager.NewDownloader(client),
		presigner:  s3.NewPresignClient(client),
	}
}

// DownloadObject fetches bucket/key into dst using ranged, concurrent part downloads.
// Data lands in dst+".part" and is renamed into place only after the last part arrives.
func (s *S3Service) DownloadObject(ctx context.Context, bucket, key, dst string, progress ProgressFunc) (int64, error) {
	if bucket == "" {
		return 0, fmt.Errorf("storage bucket is required")
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("head object %s: %w", key, err)
	}
	total := aws.ToInt64(head.ContentLength)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}
	partPath := dst + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}

	reporter := newProgressReporter(total, progress)
	if reporter != nil {
		reporter.report(0)
	}
	w := &progressWriterAt{f: f, progress: reporter}

	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(partPath)
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	if closeErr != nil {
		_ = os.Remove(partPath)
		return 0, fmt.Errorf("close destination: %w", closeErr)
	}
	if err := os.Rename(partPath, dst); err != nil {
		return 0, fmt.Errorf("finalize destination: %w", err)
	}

	if reporter != nil {
		reporter.flush()
	}
	return n, nil
}

func (s *S3Service) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	var objects []ObjectInfo
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	}
	if strings.TrimSpace(prefix) != "" {
		input.Prefix = aws.String(prefix)
	}

	for {
		output, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range output.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}

		if !aws.ToBool(output.IsTruncated) || output.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}

	return objects, nil
}

// GetObjectURL presigns a GET so players can stream bucket/key without credentials.
func (s *S3Service) GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

var _ Service = (*S3Service)(nil)

// progressWriterAt counts bytes as the downloader writes parts out of order.
type progressWriterAt struct {
	f        *os.File
	progress *progressReporter
}

func (w *progressWriterAt) WriteAt(p []byte, off int64) (int, error) {
	n, err := w.f.WriteAt(p, off)
	if w.progress != nil && n > 0 {
		w.progress.add(int64(n))
	}
	return n, err
}

type progressReporter struct {
	total    int64
	done     int64
	cb       ProgressFunc
	mu       sync.Mutex
	lastFire time.Time
}

func newProgressReporter(total int64, cb ProgressFunc) *progressReporter {
	if cb == nil {
		return nil
	}
	return &progressReporter{
		total: total,
		cb:    cb,
	}
}

func (p *progressReporter) add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += n
	now := time.Now()
	if now.Sub(p.lastFire) >= 200*time.Millisecond || p.done == p.total {
		p.lastFire = now
		p.cb(p.done, p.total)
	}
}

func (p *progressReporter) report(done int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = done
	p.lastFire = time.Now()
	p.cb(p.done, p.total)
}

func (p *progressReporter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb(p.done, p.total)
}
