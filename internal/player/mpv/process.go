package mpv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const (
	quitTimeout  = 2 * time.Second
	dialTimeout  = 5 * time.Second
	dialInterval = 100 * time.Millisecond
)

// Spawn starts an idle mpv listening on socketPath and connects to it. Extra command line
// arguments are passed through.
func Spawn(ctx context.Context, binary, socketPath string, args []string, cfg Config) (*Engine, error) {
	if binary == "" {
		binary = "mpv"
	}
	_ = os.Remove(socketPath)

	argv := append([]string{
		"--idle=yes",
		"--force-window=yes",
		"--keep-open=yes",
		"--input-ipc-server=" + socketPath,
	}, args...)
	cmd := exec.Command(binary, argv...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mpv: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	for {
		e, err := Dial(dialCtx, socketPath, cfg)
		if err == nil {
			e.proc = cmd
			return e, nil
		}
		select {
		case <-dialCtx.Done():
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("connect to mpv: %w", err)
		case <-time.After(dialInterval):
		}
	}
}

func waitOrKill(cmd *exec.Cmd, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		return <-done
	}
}
