package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pitara-engine/internal/domain"
	"pitara-engine/internal/metrics"
	"pitara-engine/internal/service"
	"pitara-engine/internal/transfer"
)

// DefaultMaxConcurrent mirrors the client's MAX_CONCURRENT_DOWNLOADS.
const DefaultMaxConcurrent = 3

// Manager owns the offline download list, its transfers and the files they produce.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Load(ctx context.Context) error
	Resume(ctx context.Context) error

	AddDownload(ctx context.Context, spec domain.DownloadSpec) (domain.Download, error)
	StartDownload(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) error
	RemoveDownload(ctx context.Context, id string) error
	ClearAllDownloads(ctx context.Context) error

	Downloads() []domain.Download
	Get(id string) (domain.Download, bool)
	FindByEpisode(episodeID, quality string) (domain.Download, bool)
	CompletedDownloads() []domain.Download
	PendingDownloads() []domain.Download
	ActiveDownloads() []domain.Download
	FailedDownloads() []domain.Download
	Err() error
}

type Config struct {
	DataDir       string
	MaxConcurrent int
	Logger        *logrus.Logger
	// OnChange receives a copy of a record after every mutation, progress ticks included.
	OnChange func(domain.Download)
	Now      func() time.Time
}

type manager struct {
	cfg       Config
	downloads service.DownloadService
	transfer  transfer.Transferer

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	list    []domain.Download
	active  map[string]*taskHandle
	writing map[string]chan struct{}
	lastErr error

	// persistMu serializes writes; the snapshot is taken after acquiring it so the
	// last write always carries every preceding mutation.
	persistMu sync.Mutex
}

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, downloads service.DownloadService, transferer transfer.Transferer) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &manager{
		cfg:       cfg,
		downloads: downloads,
		transfer:  transferer,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		ctx:       ctx,
		cancel:    cancel,
		list:      []domain.Download{},
		active:    make(map[string]*taskHandle),
		writing:   make(map[string]chan struct{}),
	}
}

// Start prepares the data directory, binds transfers to ctx and loads the persisted list.
func (m *manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	m.mu.Lock()
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.Load(ctx); err != nil {
		return err
	}
	m.cfg.Logger.Infof("download manager started, data dir: %s", m.cfg.DataDir)
	return nil
}

// Shutdown cancels running transfers and waits for them. Interrupted records stay
// downloading so Resume can pick them up on the next start.
func (m *manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	cancel()
	m.wg.Wait()
	m.cfg.Logger.Info("download manager stopped")
}

func (m *manager) Load(ctx context.Context) error {
	loaded, err := m.downloads.LoadDownloads(ctx)
	if err != nil {
		m.setErr(err)
		m.cfg.Logger.Errorf("load downloads: %v", err)
		return err
	}

	m.mu.Lock()
	// running transfers own their in-memory record
	for i := range loaded {
		if _, running := m.active[loaded[i].ID]; !running {
			continue
		}
		if idx := m.indexOf(loaded[i].ID); idx >= 0 {
			loaded[i] = m.list[idx].Clone()
		}
	}
	m.list = loaded
	m.mu.Unlock()
	return nil
}

// Resume restarts transfers interrupted by a shutdown.
func (m *manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	var ids []string
	for _, d := range m.list {
		if d.Status != domain.DownloadStatusDownloading {
			continue
		}
		if _, running := m.active[d.ID]; running {
			continue
		}
		ids = append(ids, d.ID)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.cfg.Logger.WithField("download_id", id).Info("resuming interrupted download")
		if err := m.StartDownload(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *manager) AddDownload(ctx context.Context, spec domain.DownloadSpec) (domain.Download, error) {
	d := domain.NewDownload(uuid.NewString(), spec)

	m.mu.Lock()
	m.list = append(m.list, d)
	m.mu.Unlock()

	metrics.DownloadsAddedTotal.WithLabelValues(qualityLabel(d.Quality)).Inc()
	m.cfg.Logger.WithField("download_id", d.ID).Infof("download added: %s (%s)", d.Title, d.Quality)
	m.notify(d)

	if err := m.persist(ctx); err != nil {
		return d, err
	}
	return d, nil
}

// StartDownload moves a pending record to downloading and schedules its transfer.
// Unknown ids are ignored. Completed records and records already running are left alone;
// failed records must be added again.
func (m *manager) StartDownload(ctx context.Context, id string) error {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	if _, running := m.active[id]; running {
		m.mu.Unlock()
		return nil
	}

	rec := &m.list[idx]
	switch rec.Status {
	case domain.DownloadStatusCompleted:
		m.mu.Unlock()
		return nil
	case domain.DownloadStatusFailed:
		m.mu.Unlock()
		return fmt.Errorf("%w: download %s failed, add it again to retry", domain.ErrInvalidTransition, id)
	}
	if err := rec.Transition(domain.DownloadStatusDownloading); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := rec.Clone()

	taskCtx, cancel := context.WithCancel(m.ctx)
	handle := &taskHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.active[id] = handle
	m.wg.Add(1)
	m.mu.Unlock()

	m.notify(snapshot)
	persistErr := m.persist(ctx)

	go func() {
		defer m.wg.Done()
		defer func() {
			m.unregisterTask(id)
			close(handle.done)
		}()
		// duplicates of one episode share a destination; write it one at a time
		release, err := m.claimPath(taskCtx, m.localPath(snapshot))
		if err != nil {
			return
		}
		defer release()

		select {
		case <-taskCtx.Done():
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.handleTransfer(taskCtx, snapshot)
		}
	}()

	return persistErr
}

func (m *manager) handleTransfer(ctx context.Context, d domain.Download) {
	logger := m.cfg.Logger.WithField("download_id", d.ID)
	dst := m.localPath(d)

	metrics.ActiveTransfers.Inc()
	defer metrics.ActiveTransfers.Dec()

	logger.Infof("transfer started: %s -> %s", d.VideoURL, dst)
	res, err := m.transfer.Transfer(ctx, d.VideoURL, dst, func(written, expected int64) {
		m.updateProgress(d.ID, written, expected)
	})

	// terminal writes must land even when the caller's context is gone
	persistCtx := context.WithoutCancel(ctx)

	if err != nil {
		if ctx.Err() != nil {
			metrics.DownloadsFinishedTotal.WithLabelValues("cancelled").Inc()
			logger.Info("transfer cancelled")
			return
		}
		metrics.DownloadsFinishedTotal.WithLabelValues("failed").Inc()
		m.setErr(fmt.Errorf("download %s: %w", d.ID, err))
		logger.Errorf("transfer failed: %v", err)
		m.finish(persistCtx, d.ID, func(rec *domain.Download) error {
			return rec.Fail()
		})
		return
	}

	localPath := res.Path
	if localPath == "" {
		localPath = dst
	}
	metrics.DownloadsFinishedTotal.WithLabelValues("completed").Inc()
	metrics.DownloadBytesTotal.Add(float64(res.Size))
	logger.Infof("transfer completed: %s (%s)", localPath, formatBytes(res.Size))
	m.finish(persistCtx, d.ID, func(rec *domain.Download) error {
		return rec.Complete(localPath, res.Size, m.cfg.Now())
	})
}

// claimPath blocks until no other transfer is writing dst and reserves it.
func (m *manager) claimPath(ctx context.Context, dst string) (func(), error) {
	for {
		m.mu.Lock()
		busy, held := m.writing[dst]
		if !held {
			done := make(chan struct{})
			m.writing[dst] = done
			m.mu.Unlock()
			return func() {
				m.mu.Lock()
				delete(m.writing, dst)
				m.mu.Unlock()
				close(done)
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *manager) updateProgress(id string, written, expected int64) {
	if expected <= 0 {
		return
	}
	progress := float64(written) / float64(expected) * 100

	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	rec := &m.list[idx]
	if rec.Size == 0 {
		rec.Size = expected
	}
	changed := rec.SetProgress(progress)
	snapshot := rec.Clone()
	m.mu.Unlock()

	if changed {
		m.notify(snapshot)
	}
}

// finish applies a terminal mutation and persists it. Records removed mid-transfer are skipped.
func (m *manager) finish(ctx context.Context, id string, mutate func(*domain.Download) error) {
	logger := m.cfg.Logger.WithField("download_id", id)

	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		logger.Debug("record removed during transfer, dropping result")
		return
	}
	if err := mutate(&m.list[idx]); err != nil {
		m.mu.Unlock()
		logger.Warnf("apply terminal status: %v", err)
		return
	}
	snapshot := m.list[idx].Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	_ = m.persist(ctx)
}

// Wait blocks until the transfer for id has finished. It returns immediately when none is running.
func (m *manager) Wait(ctx context.Context, id string) error {
	handle, ok := m.getTaskHandle(id)
	if !ok {
		return nil
	}
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) RemoveDownload(ctx context.Context, id string) error {
	if err := m.cancelTask(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	rec := m.list[idx]
	m.list = append(m.list[:idx], m.list[idx+1:]...)
	paths := m.filesOwnedBy(rec)
	m.mu.Unlock()

	m.deleteFiles(rec.ID, paths)
	m.cfg.Logger.WithField("download_id", id).Info("download removed")
	return m.persist(ctx)
}

func (m *manager) ClearAllDownloads(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.cancelTask(ctx, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	removed := m.list
	m.list = []domain.Download{}
	m.mu.Unlock()

	seen := make(map[string]struct{})
	for _, rec := range removed {
		var paths []string
		for _, p := range candidatePaths(rec, m.localPath(rec)) {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
		m.deleteFiles(rec.ID, paths)
	}

	m.cfg.Logger.Infof("cleared %d downloads", len(removed))
	return m.persist(ctx)
}

func (m *manager) Downloads() []domain.Download {
	return m.filter(func(domain.Download) bool { return true })
}

func (m *manager) Get(id string) (domain.Download, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(id)
	if idx < 0 {
		return domain.Download{}, false
	}
	return m.list[idx].Clone(), true
}

// FindByEpisode returns the first record for the episode at quality. An empty quality matches any.
func (m *manager) FindByEpisode(episodeID, quality string) (domain.Download, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.list {
		if d.EpisodeID == episodeID && (quality == "" || d.Quality == quality) {
			return d.Clone(), true
		}
	}
	return domain.Download{}, false
}

func (m *manager) CompletedDownloads() []domain.Download {
	return m.byStatus(domain.DownloadStatusCompleted)
}

func (m *manager) PendingDownloads() []domain.Download {
	return m.byStatus(domain.DownloadStatusPending)
}

func (m *manager) ActiveDownloads() []domain.Download {
	return m.byStatus(domain.DownloadStatusDownloading)
}

func (m *manager) FailedDownloads() []domain.Download {
	return m.byStatus(domain.DownloadStatusFailed)
}

// Err returns the last persistence or transfer error. It is advisory: the in-memory
// state has already been updated when it is set.
func (m *manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *manager) byStatus(status domain.DownloadStatus) []domain.Download {
	return m.filter(func(d domain.Download) bool { return d.Status == status })
}

func (m *manager) filter(keep func(domain.Download) bool) []domain.Download {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Download, 0, len(m.list))
	for _, d := range m.list {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (m *manager) persist(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	snapshot := make([]domain.Download, len(m.list))
	for i := range m.list {
		snapshot[i] = m.list[i].Clone()
	}
	m.mu.Unlock()

	if err := m.downloads.SaveDownloads(ctx, snapshot); err != nil {
		metrics.PersistErrorsTotal.Inc()
		m.setErr(err)
		m.cfg.Logger.Errorf("persist downloads: %v", err)
		return err
	}
	return nil
}

func (m *manager) cancelTask(ctx context.Context, id string) error {
	handle, ok := m.getTaskHandle(id)
	if !ok {
		return nil
	}
	handle.cancel()
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) unregisterTask(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) getTaskHandle(id string) (*taskHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	return handle, ok
}

func (m *manager) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *manager) notify(d domain.Download) {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(d)
	}
}

// indexOf must be called with mu held.
func (m *manager) indexOf(id string) int {
	for i := range m.list {
		if m.list[i].ID == id {
			return i
		}
	}
	return -1
}

// filesOwnedBy lists files to delete for rec, skipping any path another record still
// points at (duplicate adds of one episode share the same destination). Called with mu held.
func (m *manager) filesOwnedBy(rec domain.Download) []string {
	var out []string
	for _, p := range candidatePaths(rec, m.localPath(rec)) {
		shared := false
		for _, other := range m.list {
			if other.LocalPath == p || (other.Status == domain.DownloadStatusDownloading && m.localPath(other) == p) {
				shared = true
				break
			}
		}
		if !shared {
			out = append(out, p)
		}
	}
	return out
}

// candidatePaths returns the completed file, or the partial transfer output for
// records that never completed.
func candidatePaths(rec domain.Download, dst string) []string {
	if rec.LocalPath != "" {
		return []string{rec.LocalPath}
	}
	if rec.Status == domain.DownloadStatusDownloading || rec.Status == domain.DownloadStatusFailed {
		return []string{dst, dst + ".part"}
	}
	return nil
}

// deleteFiles removes paths best-effort; a missing file is not an error.
func (m *manager) deleteFiles(id string, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.cfg.Logger.WithField("download_id", id).Warnf("delete file %s: %v", p, err)
		}
	}
}

var pathSanitizer = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

// localPath is the deterministic destination for d's episode.
func (m *manager) localPath(d domain.Download) string {
	name := fmt.Sprintf("%s_%s.mp4", pathSanitizer.Replace(d.SeriesID), pathSanitizer.Replace(d.EpisodeID))
	return filepath.Join(m.cfg.DataDir, name)
}

func qualityLabel(q string) string {
	if q == "" {
		return "unknown"
	}
	return q
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

var _ Manager = (*manager)(nil)
