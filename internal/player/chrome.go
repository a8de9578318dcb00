package player

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type Orientation int

const (
	OrientationPortrait Orientation = iota
	OrientationLandscape
)

func (o Orientation) String() string {
	if o == OrientationLandscape {
		return "landscape"
	}
	return "portrait"
}

// Chrome controls the system UI around the player surface.
type Chrome interface {
	LockOrientation(ctx context.Context, o Orientation) error
	SetStatusBarHidden(ctx context.Context, hidden bool) error
	SetNavigationBarHidden(ctx context.Context, hidden bool) error
	SetBrightness(ctx context.Context, level float64) error
}

// NopChrome is used when there is no system UI to manage.
type NopChrome struct{}

func (NopChrome) LockOrientation(context.Context, Orientation) error { return nil }
func (NopChrome) SetStatusBarHidden(context.Context, bool) error { return nil }
func (NopChrome) SetNavigationBarHidden(context.Context, bool) error { return nil }
func (NopChrome) SetBrightness(context.Context, float64) error { return nil }

// acquireChrome switches to full-screen landscape and returns the function restoring portrait
// with visible bars. The release runs at most once. Chrome failures are logged, never fatal.
func acquireChrome(ctx context.Context, chrome Chrome, logger *logrus.Logger) func(context.Context) {
	warn := func(step string, err error) {
		if err != nil {
			logger.Warnf("system chrome %s: %v", step, err)
		}
	}

	warn("lock landscape", chrome.LockOrientation(ctx, OrientationLandscape))
	warn("hide status bar", chrome.SetStatusBarHidden(ctx, true))
	warn("hide navigation bar", chrome.SetNavigationBarHidden(ctx, true))

	var once sync.Once
	return func(ctx context.Context) {
		once.Do(func() {
			warn("lock portrait", chrome.LockOrientation(ctx, OrientationPortrait))
			warn("show status bar", chrome.SetStatusBarHidden(ctx, false))
			warn("show navigation bar", chrome.SetNavigationBarHidden(ctx, false))
		})
	}
}

var _ Chrome = NopChrome{}
