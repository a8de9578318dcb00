package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"pitara-engine/internal/player"
)

var errQuit = errors.New("quit")

const usage = `commands:
  p            toggle play/pause
  f / b        skip forward / backward
  s <0..1>     seek to fraction
  q <quality>  switch quality of a stream (360p, 480p, 720p, 1080p)
  r <rate>     playback rate (0.25 .. 2)
  m            cycle resize mode
  v <0..1>     volume
  l <0..1>     brightness
  i            session info
  x            exit`

// runCommand applies one input line to the controller. It returns errQuit on exit.
func runCommand(ctx context.Context, c *player.Controller, out io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	c.Overlay().ShowControls(ctx)

	switch fields[0] {
	case "p":
		return c.TogglePlayPause(ctx)
	case "f":
		return c.SkipForward(ctx)
	case "b":
		return c.SkipBackward(ctx)
	case "s":
		fraction, err := parseFloat(arg)
		if err != nil {
			return err
		}
		c.BeginSeek()
		return c.Seek(ctx, fraction)
	case "q":
		return c.ChangeResolution(ctx, arg)
	case "r":
		rate, err := parseFloat(arg)
		if err != nil {
			return err
		}
		return c.ChangePlaybackRate(ctx, rate)
	case "m":
		fmt.Fprintf(out, "resize mode: %s\n", c.Overlay().CycleResizeMode())
		return nil
	case "v":
		volume, err := parseFloat(arg)
		if err != nil {
			return err
		}
		c.Overlay().ShowVolumeSlider()
		return c.Overlay().SetVolume(ctx, volume)
	case "l":
		level, err := parseFloat(arg)
		if err != nil {
			return err
		}
		c.Overlay().ShowBrightnessSlider()
		c.Overlay().SetBrightness(ctx, level)
		return nil
	case "i":
		s := c.Session()
		fmt.Fprintf(out, "%s [%s] %s / %s rate %gx playing=%t\n",
			s.SourceURI, s.Quality, formatMillis(s.PositionMillis), formatMillis(s.DurationMillis), s.PlaybackRate, s.Playing)
		return nil
	case "x":
		return errQuit
	default:
		fmt.Fprintln(out, usage)
		return nil
	}
}

func parseFloat(arg string) (float64, error) {
	if arg == "" {
		return 0, fmt.Errorf("missing numeric argument")
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", arg, err)
	}
	return v, nil
}

func formatMillis(ms int64) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
