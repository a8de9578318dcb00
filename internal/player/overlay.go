package player

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultControlsTimeout = 3 * time.Second
	DefaultSliderTimeout   = 1800 * time.Millisecond
)

type ResizeMode int

const (
	ResizeContain ResizeMode = iota
	ResizeStretch
	ResizeCover
)

func (m ResizeMode) String() string {
	switch m {
	case ResizeStretch:
		return "stretch"
	case ResizeCover:
		return "cover"
	default:
		return "contain"
	}
}

// Next returns the mode after m in the contain, stretch, cover cycle.
func (m ResizeMode) Next() ResizeMode {
	switch m {
	case ResizeContain:
		return ResizeStretch
	case ResizeStretch:
		return ResizeCover
	default:
		return ResizeContain
	}
}

// OverlayState is a snapshot of the on-screen controls.
type OverlayState struct {
	ControlsVisible         bool
	VolumeSliderVisible     bool
	BrightnessSliderVisible bool
	SettingsMenuOpen        bool
	ResizeMode              ResizeMode
	Volume                  float64
	Muted                   bool
	Brightness              float64
}

// Overlay holds presentation state for a session: control visibility with auto-hide,
// the volume and brightness sliders and the resize mode.
type Overlay struct {
	engine          Engine
	chrome          Chrome
	logger          *logrus.Logger
	controlsTimeout time.Duration
	sliderTimeout   time.Duration

	mu            sync.Mutex
	state         OverlayState
	controlsTimer *time.Timer
	sliderTimer   *time.Timer
	stopped       bool
}

func newOverlay(engine Engine, chrome Chrome, logger *logrus.Logger, controlsTimeout, sliderTimeout time.Duration) *Overlay {
	return &Overlay{
		engine:          engine,
		chrome:          chrome,
		logger:          logger,
		controlsTimeout: controlsTimeout,
		sliderTimeout:   sliderTimeout,
		state: OverlayState{
			ControlsVisible: true,
			ResizeMode:      ResizeContain,
			Volume:          1,
			Brightness:      1,
		},
	}
}

func (o *Overlay) State() OverlayState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ShowControls reveals the controls and the navigation bar and restarts the auto-hide timer.
func (o *Overlay) ShowControls(ctx context.Context) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.state.ControlsVisible = true
	o.scheduleControlsHideLocked()
	o.mu.Unlock()

	if err := o.chrome.SetNavigationBarHidden(ctx, false); err != nil {
		o.logger.Warnf("show navigation bar: %v", err)
	}
}

// HideControls hides the controls, both sliders and the settings menu.
func (o *Overlay) HideControls(ctx context.Context) {
	o.mu.Lock()
	o.state.ControlsVisible = false
	o.state.VolumeSliderVisible = false
	o.state.BrightnessSliderVisible = false
	o.state.SettingsMenuOpen = false
	stopTimer(&o.controlsTimer)
	o.mu.Unlock()

	if err := o.chrome.SetNavigationBarHidden(ctx, true); err != nil {
		o.logger.Warnf("hide navigation bar: %v", err)
	}
}

func (o *Overlay) ToggleSettingsMenu() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.SettingsMenuOpen = !o.state.SettingsMenuOpen
	return o.state.SettingsMenuOpen
}

func (o *Overlay) closeSettingsMenu() {
	o.mu.Lock()
	o.state.SettingsMenuOpen = false
	o.mu.Unlock()
}

func (o *Overlay) ShowVolumeSlider() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.VolumeSliderVisible = true
	o.state.BrightnessSliderVisible = false
	o.scheduleSliderHideLocked()
}

func (o *Overlay) ShowBrightnessSlider() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.BrightnessSliderVisible = true
	o.state.VolumeSliderVisible = false
	o.scheduleSliderHideLocked()
}

func (o *Overlay) CycleResizeMode() ResizeMode {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.ResizeMode = o.state.ResizeMode.Next()
	return o.state.ResizeMode
}

// SetVolume clamps v to [0, 1] and applies it to the engine; 0 mutes.
func (o *Overlay) SetVolume(ctx context.Context, v float64) error {
	v = clamp01(v)
	o.mu.Lock()
	o.state.Volume = v
	o.state.Muted = v == 0
	o.scheduleSliderHideLocked()
	o.mu.Unlock()

	return o.engine.SetVolume(ctx, v, v == 0)
}

// SetBrightness clamps v to [0, 1] and applies it through the system chrome.
// A chrome failure is logged and the requested level kept.
func (o *Overlay) SetBrightness(ctx context.Context, v float64) {
	v = clamp01(v)
	o.mu.Lock()
	o.state.Brightness = v
	o.scheduleSliderHideLocked()
	o.mu.Unlock()

	if err := o.chrome.SetBrightness(ctx, v); err != nil {
		o.logger.Warnf("set brightness: %v", err)
	}
}

func (o *Overlay) volume() (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Volume, o.state.Muted
}

// start makes the controls visible and arms the auto-hide timer without touching the chrome.
func (o *Overlay) start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = false
	o.state.ControlsVisible = true
	o.scheduleControlsHideLocked()
}

func (o *Overlay) stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	stopTimer(&o.controlsTimer)
	stopTimer(&o.sliderTimer)
}

func (o *Overlay) scheduleControlsHideLocked() {
	stopTimer(&o.controlsTimer)
	o.controlsTimer = time.AfterFunc(o.controlsTimeout, func() {
		o.mu.Lock()
		stopped := o.stopped
		o.mu.Unlock()
		if !stopped {
			o.HideControls(context.Background())
		}
	})
}

func (o *Overlay) scheduleSliderHideLocked() {
	if o.stopped {
		return
	}
	stopTimer(&o.sliderTimer)
	o.sliderTimer = time.AfterFunc(o.sliderTimeout, func() {
		o.mu.Lock()
		o.state.VolumeSliderVisible = false
		o.state.BrightnessSliderVisible = false
		o.mu.Unlock()
	})
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
