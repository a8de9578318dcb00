package service

import (
	"context"
	"encoding/json"
	"fmt"

	"pitara-engine/internal/domain"
	"pitara-engine/internal/repository"
)

// DownloadsKey is the store entry holding the JSON array of downloads.
const DownloadsKey = "downloads"

// DownloadService reads and writes the persisted download list.
type DownloadService interface {
	LoadDownloads(ctx context.Context) ([]domain.Download, error)
	SaveDownloads(ctx context.Context, downloads []domain.Download) error
}

type downloadService struct {
	store repository.KVStore
	key   string
}

func NewDownloadService(store repository.KVStore) DownloadService {
	return &downloadService{
		store: store,
		key:   DownloadsKey,
	}
}

func (s *downloadService) LoadDownloads(ctx context.Context) ([]domain.Download, error) {
	raw, ok, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("load downloads: %w", err)
	}
	if !ok || len(raw) == 0 {
		return []domain.Download{}, nil
	}

	var downloads []domain.Download
	if err := json.Unmarshal(raw, &downloads); err != nil {
		return nil, fmt.Errorf("decode downloads: %w", err)
	}
	if downloads == nil {
		downloads = []domain.Download{}
	}
	return downloads, nil
}

func (s *downloadService) SaveDownloads(ctx context.Context, downloads []domain.Download) error {
	if downloads == nil {
		downloads = []domain.Download{}
	}
	raw, err := json.Marshal(downloads)
	if err != nil {
		return fmt.Errorf("encode downloads: %w", err)
	}
	if err := s.store.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("save downloads: %w", err)
	}
	return nil
}
