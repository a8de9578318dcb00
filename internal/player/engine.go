package player

import "context"

// Status is a playback status sample reported by an Engine.
type Status struct {
	// Generation is the LoadOptions.Generation of the load the sample describes.
	// Zero means the engine does not tag samples.
	Generation     uint64
	Loaded         bool
	PositionMillis int64
	DurationMillis int64
	Playing        bool
	Buffering      bool
}

// LoadOptions describes the source handed to Engine.Load.
type LoadOptions struct {
	Generation  uint64
	URI         string
	ShouldPlay  bool
	Rate        float64
	StartMillis int64
	Volume      float64
	Muted       bool
}

// Engine is the media backend. Implementations report status samples and load failures
// asynchronously to the Controller via OnStatus and OnError, and must not call them from
// inside one of these methods.
type Engine interface {
	Load(ctx context.Context, opts LoadOptions) error
	Unload(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SetPosition(ctx context.Context, millis int64) error
	SetRate(ctx context.Context, rate float64) error
	SetVolume(ctx context.Context, volume float64, muted bool) error
}
