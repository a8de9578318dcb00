package transfer

import (
	"context"
	"fmt"

	"pitara-engine/internal/storage"
)

// S3Transferer downloads s3://bucket/key sources through the object storage service.
type S3Transferer struct {
	storage storage.Service
}

func NewS3Transferer(svc storage.Service) *S3Transferer {
	return &S3Transferer{storage: svc}
}

func (s *S3Transferer) Transfer(ctx context.Context, src, dst string, progress ProgressFunc) (Result, error) {
	bucket, key, err := storage.ParseURI(src)
	if err != nil {
		return Result{}, err
	}
	var cb storage.ProgressFunc
	if progress != nil {
		cb = func(done, total int64) { progress(done, total) }
	}
	n, err := s.storage.DownloadObject(ctx, bucket, key, dst, cb)
	if err != nil {
		return Result{}, fmt.Errorf("fetch object: %w", err)
	}
	return Result{Path: dst, Size: n}, nil
}

var _ Transferer = (*S3Transferer)(nil)
