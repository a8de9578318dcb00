// Package player holds the playback state machine for one viewing session: transport
// controls, the adaptive-quality source swap that preserves position and play state, and
// the presentation overlay.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pitara-engine/internal/metrics"
)

const DefaultSkipInterval = 10 * time.Second

var (
	// ErrSourceUnavailable is returned when the original source fails to load after a fallback.
	ErrSourceUnavailable = errors.New("playback source unavailable")
	ErrInvalidQuality    = errors.New("invalid quality")
	ErrInvalidRate       = errors.New("invalid playback rate")
	ErrNotOpen           = errors.New("player not open")
	// ErrFixedQuality is returned when switching quality on a local file.
	ErrFixedQuality      = errors.New("source has a fixed quality")
)

type Config struct {
	Engine Engine
	Chrome Chrome
	Logger *logrus.Logger
	// OnProgress receives position/duration for every loaded status sample.
	OnProgress      func(fraction float64)
	SkipInterval    time.Duration
	ControlsTimeout time.Duration
	SliderTimeout   time.Duration
}

type OpenOptions struct {
	URI         string
	Quality     string
	StartMillis int64
}

// ResumeState is the pending restore after a source swap.
type ResumeState struct {
	Awaiting       bool
	PositionMillis int64
	ShouldPlay     bool
}

// Session is a snapshot of the controller state.
type Session struct {
	OriginalURI    string
	SourceURI      string
	Quality        string
	PositionMillis int64
	DurationMillis int64
	Loaded         bool
	Playing        bool
	Buffering      bool
	Seeking        bool
	PlaybackRate   float64
	Resume         ResumeState
	Warning        error
}

type Controller struct {
	cfg     Config
	engine  Engine
	overlay *Overlay
	logger  *logrus.Logger

	mu          sync.Mutex
	open        bool
	release     func(context.Context)
	session     Session
	openQuality string

	// generation counts engine loads; samples tagged with an older one are stale
	generation uint64
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Chrome == nil {
		cfg.Chrome = NopChrome{}
	}
	if cfg.SkipInterval <= 0 {
		cfg.SkipInterval = DefaultSkipInterval
	}
	if cfg.ControlsTimeout <= 0 {
		cfg.ControlsTimeout = DefaultControlsTimeout
	}
	if cfg.SliderTimeout <= 0 {
		cfg.SliderTimeout = DefaultSliderTimeout
	}
	return &Controller{
		cfg:     cfg,
		engine:  cfg.Engine,
		logger:  cfg.Logger,
		overlay: newOverlay(cfg.Engine, cfg.Chrome, cfg.Logger, cfg.ControlsTimeout, cfg.SliderTimeout),
		session: Session{Quality: DefaultQuality, PlaybackRate: 1},
	}
}

func (c *Controller) Overlay() *Overlay {
	return c.overlay
}

func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Open takes over the system chrome and starts playing uri.
func (c *Controller) Open(ctx context.Context, opts OpenOptions) error {
	if opts.URI == "" {
		return fmt.Errorf("open player: empty uri")
	}
	quality := opts.Quality
	if quality == "" {
		quality = DefaultQuality
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return fmt.Errorf("open player: already open")
	}

	c.release = acquireChrome(ctx, c.cfg.Chrome, c.logger)
	c.open = true
	c.openQuality = quality
	c.session = Session{
		OriginalURI:  opts.URI,
		SourceURI:    opts.URI,
		Quality:      quality,
		PlaybackRate: c.session.PlaybackRate,
	}
	c.overlay.start()

	c.logger.WithField("uri", opts.URI).Info("playback opened")
	return c.loadLocked(ctx, opts.URI, true, opts.StartMillis)
}

// Close restores the system chrome, stops the overlay timers and unloads the engine.
// It is safe to call on every dismissal path.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.release != nil {
		c.release(ctx)
	}
	c.overlay.stop()
	if !c.open {
		return nil
	}
	c.open = false
	c.session.Loaded = false
	c.session.Playing = false
	c.session.Resume = ResumeState{}

	if err := c.engine.Unload(ctx); err != nil {
		return fmt.Errorf("unload source: %w", err)
	}
	c.logger.Info("playback closed")
	return nil
}

// TogglePlayPause pauses a playing source and plays a paused one. Without a loaded source it does nothing.
func (c *Controller) TogglePlayPause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.Loaded {
		return nil
	}
	if c.session.Playing {
		if err := c.engine.Pause(ctx); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		c.session.Playing = false
		return nil
	}
	if err := c.engine.Play(ctx); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	c.session.Playing = true
	return nil
}

// BeginSeek marks the start of a scrub; status samples stop moving the position until Seek returns.
func (c *Controller) BeginSeek() {
	c.mu.Lock()
	c.session.Seeking = true
	c.mu.Unlock()
}

// Seek moves to fraction of the duration, clamped to [0, 1].
func (c *Controller) Seek(ctx context.Context, fraction float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.session.Seeking = false }()

	if !c.session.Loaded || c.session.DurationMillis <= 0 {
		return nil
	}
	target := int64(clamp01(fraction) * float64(c.session.DurationMillis))
	if err := c.engine.SetPosition(ctx, target); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	c.session.PositionMillis = target
	return nil
}

// SkipBy moves the position by delta, clamped to [0, duration].
func (c *Controller) SkipBy(ctx context.Context, delta time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.Loaded {
		return nil
	}
	target := c.session.PositionMillis + delta.Milliseconds()
	if c.session.DurationMillis > 0 && target > c.session.DurationMillis {
		target = c.session.DurationMillis
	}
	if target < 0 {
		target = 0
	}
	if err := c.engine.SetPosition(ctx, target); err != nil {
		return fmt.Errorf("skip: %w", err)
	}
	c.session.PositionMillis = target
	return nil
}

func (c *Controller) SkipForward(ctx context.Context) error {
	return c.SkipBy(ctx, c.cfg.SkipInterval)
}

func (c *Controller) SkipBackward(ctx context.Context) error {
	return c.SkipBy(ctx, -c.cfg.SkipInterval)
}

// ChangePlaybackRate applies rate now; it is carried over to later source swaps.
func (c *Controller) ChangePlaybackRate(ctx context.Context, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.PlaybackRate = rate
	c.overlay.closeSettingsMenu()
	if !c.open {
		return nil
	}
	if err := c.engine.SetRate(ctx, rate); err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	return nil
}

// ChangeResolution swaps the source to the rendition for quality. When a source is loaded its
// position and play state are captured and restored on the first loaded status of the new source.
func (c *Controller) ChangeResolution(ctx context.Context, quality string) error {
	if !ValidQuality(quality) {
		return fmt.Errorf("%w: %q", ErrInvalidQuality, quality)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrNotOpen
	}
	if IsLocalSource(c.session.OriginalURI) {
		return ErrFixedQuality
	}
	c.session.Quality = quality
	c.overlay.closeSettingsMenu()

	uri := BuildQualityURI(c.session.OriginalURI, quality)
	if uri == c.session.SourceURI {
		return nil
	}

	if c.session.Loaded {
		c.session.Resume = ResumeState{
			Awaiting:       true,
			PositionMillis: c.session.PositionMillis,
			ShouldPlay:     c.session.Playing,
		}
	}
	c.session.SourceURI = uri
	metrics.QualitySwitchesTotal.WithLabelValues(quality).Inc()
	c.logger.WithField("uri", uri).Infof("switching quality to %s", quality)

	return c.loadLocked(ctx, uri, false, 0)
}

// OnStatus consumes a status sample from the engine. A pending resume is applied first,
// then the derived state is updated and OnProgress is called.
func (c *Controller) OnStatus(ctx context.Context, st Status) error {
	c.mu.Lock()
	if !c.open || (st.Generation != 0 && st.Generation != c.generation) {
		c.mu.Unlock()
		return nil
	}
	c.session.Buffering = st.Buffering
	if !st.Loaded {
		c.session.Loaded = false
		c.mu.Unlock()
		return nil
	}
	c.session.Loaded = true
	c.session.DurationMillis = st.DurationMillis

	var resumeErr error
	if r := c.session.Resume; r.Awaiting {
		c.session.Resume = ResumeState{}
		resumeErr = c.resumeLocked(ctx, r)
	} else {
		if !c.session.Seeking {
			c.session.PositionMillis = st.PositionMillis
		}
		c.session.Playing = st.Playing
	}

	var fraction float64
	if c.session.DurationMillis > 0 {
		fraction = float64(c.session.PositionMillis) / float64(c.session.DurationMillis)
	}
	onProgress := c.cfg.OnProgress
	c.mu.Unlock()

	if onProgress != nil {
		onProgress(fraction)
	}
	return resumeErr
}

func (c *Controller) resumeLocked(ctx context.Context, r ResumeState) error {
	logger := c.logger.WithField("position_ms", r.PositionMillis)
	if err := c.engine.SetPosition(ctx, r.PositionMillis); err != nil {
		logger.Warnf("restore position: %v", err)
		return fmt.Errorf("restore position: %w", err)
	}
	c.session.PositionMillis = r.PositionMillis
	if r.ShouldPlay {
		if err := c.engine.Play(ctx); err != nil {
			logger.Warnf("restore playback: %v", err)
			return fmt.Errorf("restore playback: %w", err)
		}
	}
	c.session.Playing = r.ShouldPlay
	logger.Debug("playback restored after source swap")
	return nil
}

// OnError handles a source load failure. A failed quality rewrite falls back to the original
// source once; a failing original yields ErrSourceUnavailable.
func (c *Controller) OnError(ctx context.Context, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	return c.loadFailedLocked(ctx, err)
}

func (c *Controller) loadLocked(ctx context.Context, uri string, shouldPlay bool, startMillis int64) error {
	c.session.Loaded = false
	c.generation++
	volume, muted := c.overlay.volume()
	err := c.engine.Load(ctx, LoadOptions{
		Generation:  c.generation,
		URI:         uri,
		ShouldPlay:  shouldPlay,
		Rate:        c.session.PlaybackRate,
		StartMillis: startMillis,
		Volume:      volume,
		Muted:       muted,
	})
	if err != nil {
		return c.loadFailedLocked(ctx, err)
	}
	return nil
}

func (c *Controller) loadFailedLocked(ctx context.Context, cause error) error {
	c.session.Loaded = false
	logger := c.logger.WithField("uri", c.session.SourceURI)

	if c.session.SourceURI != c.session.OriginalURI {
		logger.Warnf("source failed, falling back to original: %v", cause)
		metrics.SourceFallbacksTotal.WithLabelValues("reverted").Inc()
		c.session.SourceURI = c.session.OriginalURI
		c.session.Quality = c.openQuality
		return c.loadLocked(ctx, c.session.OriginalURI, !c.session.Resume.Awaiting, 0)
	}

	metrics.SourceFallbacksTotal.WithLabelValues("unavailable").Inc()
	c.session.Resume = ResumeState{}
	c.session.Playing = false
	c.session.Warning = fmt.Errorf("%w: %v", ErrSourceUnavailable, cause)
	logger.Errorf("source unavailable: %v", cause)
	return c.session.Warning
}
