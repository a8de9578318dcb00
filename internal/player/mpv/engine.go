// Package mpv drives an mpv process over its JSON IPC socket as a player.Engine.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"pitara-engine/internal/player"
)

var (
	ErrClosed     = errors.New("mpv connection closed")
	ErrLoadFailed = errors.New("mpv failed to load source")
)

// observed property ids
const (
	propTimePos = iota + 1
	propDuration
	propPause
	propPausedForCache
)

type Config struct {
	Logger   *logrus.Logger
	OnStatus func(player.Status)
	OnError  func(error)
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type message struct {
	Event     string          `json:"event"`
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	RequestID *int64          `json:"request_id"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
}

type response struct {
	err  string
	data json.RawMessage
}

// Engine implements player.Engine. Status samples and load failures are delivered on a
// dedicated goroutine so callbacks may call back into the engine.
type Engine struct {
	cfg  Config
	conn net.Conn

	writeMu sync.Mutex
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan response

	stateMu sync.Mutex
	status  player.Status
	paused  bool

	statusCh  chan player.Status
	errCh     chan error
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// proc is set when the engine started mpv itself
	proc *exec.Cmd
}

// New wraps an established IPC connection and starts reading from it.
func New(conn net.Conn, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	e := &Engine{
		cfg:      cfg,
		conn:     conn,
		pending:  make(map[int64]chan response),
		statusCh: make(chan player.Status, 1),
		errCh:    make(chan error, 8),
		done:     make(chan struct{}),
		paused:   true,
	}
	e.wg.Add(2)
	go e.readLoop()
	go e.dispatchLoop()
	return e
}

// Dial connects to the IPC socket of a running mpv and subscribes to playback properties.
func Dial(ctx context.Context, socketPath string, cfg Config) (*Engine, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial mpv socket: %w", err)
	}
	e := New(conn, cfg)
	if err := e.Observe(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// Observe subscribes to the properties that make up a player.Status.
func (e *Engine) Observe(ctx context.Context) error {
	props := []struct {
		id   int
		name string
	}{
		{propTimePos, "time-pos"},
		{propDuration, "duration"},
		{propPause, "pause"},
		{propPausedForCache, "paused-for-cache"},
	}
	for _, p := range props {
		if _, err := e.command(ctx, "observe_property", p.id, p.name); err != nil {
			return fmt.Errorf("observe %s: %w", p.name, err)
		}
	}
	return nil
}

// Load replaces the current source. Samples buffered for the previous source are dropped and
// later ones carry opts.Generation.
func (e *Engine) Load(ctx context.Context, opts player.LoadOptions) error {
	e.stateMu.Lock()
	e.status = player.Status{Generation: opts.Generation}
	e.stateMu.Unlock()
	select {
	case <-e.statusCh:
	default:
	}

	start := "none"
	if opts.StartMillis > 0 {
		start = strconv.FormatFloat(float64(opts.StartMillis)/1000, 'f', 3, 64)
	}
	rate := opts.Rate
	if rate <= 0 {
		rate = 1
	}
	steps := [][]any{
		{"set_property", "start", start},
		{"set_property", "pause", !opts.ShouldPlay},
		{"set_property", "speed", rate},
		{"set_property", "volume", math.Round(opts.Volume * 100)},
		{"set_property", "mute", opts.Muted},
		{"loadfile", opts.URI, "replace"},
	}
	for _, args := range steps {
		if _, err := e.command(ctx, args...); err != nil {
			return fmt.Errorf("load %s: %w", opts.URI, err)
		}
	}
	e.cfg.Logger.WithField("uri", opts.URI).Debug("mpv loadfile sent")
	return nil
}

func (e *Engine) Unload(ctx context.Context) error {
	_, err := e.command(ctx, "stop")
	return err
}

func (e *Engine) Play(ctx context.Context) error {
	_, err := e.command(ctx, "set_property", "pause", false)
	return err
}

func (e *Engine) Pause(ctx context.Context) error {
	_, err := e.command(ctx, "set_property", "pause", true)
	return err
}

func (e *Engine) SetPosition(ctx context.Context, millis int64) error {
	_, err := e.command(ctx, "seek", float64(millis)/1000, "absolute+exact")
	return err
}

func (e *Engine) SetRate(ctx context.Context, rate float64) error {
	_, err := e.command(ctx, "set_property", "speed", rate)
	return err
}

func (e *Engine) SetVolume(ctx context.Context, volume float64, muted bool) error {
	if _, err := e.command(ctx, "set_property", "volume", math.Round(volume*100)); err != nil {
		return err
	}
	_, err := e.command(ctx, "set_property", "mute", muted)
	return err
}

// Close shuts the connection and waits for the reader and dispatcher to exit. A spawned
// mpv process is asked to quit and reaped.
func (e *Engine) Close() error {
	if e.proc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
		_, _ = e.command(ctx, "quit")
		cancel()
	}

	var err error
	e.closeOnce.Do(func() {
		err = e.conn.Close()
		close(e.done)
	})
	e.wg.Wait()

	if e.proc != nil {
		if waitErr := waitOrKill(e.proc, quitTimeout); waitErr != nil {
			e.cfg.Logger.Debugf("mpv exited: %v", waitErr)
		}
	}
	return err
}

func (e *Engine) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	id := e.nextID.Add(1)
	ch := make(chan response, 1)

	e.pendingMu.Lock()
	e.pending[id] = ch
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		return nil, fmt.Errorf("encode mpv command: %w", err)
	}
	payload = append(payload, '\n')

	e.writeMu.Lock()
	_, err = e.conn.Write(payload)
	e.writeMu.Unlock()
	if err != nil {
		select {
		case <-e.done:
			return nil, ErrClosed
		default:
		}
		return nil, fmt.Errorf("write mpv command: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.err != "success" {
			return nil, fmt.Errorf("mpv %v: %s", args[0], resp.err)
		}
		return resp.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrClosed
	}
}

func (e *Engine) readLoop() {
	defer e.wg.Done()
	defer e.closeOnce.Do(func() {
		_ = e.conn.Close()
		close(e.done)
	})

	scanner := bufio.NewScanner(e.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			e.cfg.Logger.Debugf("skip malformed mpv message: %v", err)
			continue
		}
		if msg.Event == "" && msg.RequestID != nil {
			e.resolve(*msg.RequestID, response{err: msg.Error, data: msg.Data})
			continue
		}
		e.handleEvent(msg)
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-e.done:
		default:
			e.cfg.Logger.Warnf("mpv connection lost: %v", err)
		}
	}
}

func (e *Engine) resolve(id int64, resp response) {
	e.pendingMu.Lock()
	ch, ok := e.pending[id]
	e.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

func (e *Engine) handleEvent(msg message) {
	switch msg.Event {
	case "file-loaded":
		e.update(func(st *player.Status) { st.Loaded = true })
	case "end-file":
		e.update(func(st *player.Status) { *st = player.Status{Generation: st.Generation} })
		if msg.Reason == "error" {
			e.emitError(fmt.Errorf("%w: %s", ErrLoadFailed, msg.FileError))
		}
	case "property-change":
		e.propertyChanged(msg)
	}
}

func (e *Engine) propertyChanged(msg message) {
	switch msg.ID {
	case propTimePos, propDuration:
		var secs float64
		if len(msg.Data) == 0 || json.Unmarshal(msg.Data, &secs) != nil {
			return
		}
		millis := int64(math.Round(secs * 1000))
		e.update(func(st *player.Status) {
			if msg.ID == propTimePos {
				st.PositionMillis = millis
			} else {
				st.DurationMillis = millis
			}
		})
	case propPause:
		var paused bool
		if json.Unmarshal(msg.Data, &paused) != nil {
			return
		}
		e.stateMu.Lock()
		e.paused = paused
		e.stateMu.Unlock()
		e.update(func(*player.Status) {})
	case propPausedForCache:
		var buffering bool
		if json.Unmarshal(msg.Data, &buffering) != nil {
			return
		}
		e.update(func(st *player.Status) { st.Buffering = buffering })
	}
}

func (e *Engine) update(mutate func(*player.Status)) {
	e.stateMu.Lock()
	mutate(&e.status)
	e.status.Playing = e.status.Loaded && !e.paused
	st := e.status
	e.stateMu.Unlock()

	// keep only the newest sample; readLoop is the only sender
	select {
	case <-e.statusCh:
	default:
	}
	select {
	case e.statusCh <- st:
	default:
	}
}

func (e *Engine) emitError(err error) {
	select {
	case e.errCh <- err:
	default:
		e.cfg.Logger.Warnf("dropping mpv error: %v", err)
	}
}

func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	for {
		select {
		case st := <-e.statusCh:
			if e.cfg.OnStatus != nil {
				e.cfg.OnStatus(st)
			}
		case err := <-e.errCh:
			if e.cfg.OnError != nil {
				e.cfg.OnError(err)
			}
		case <-e.done:
			return
		}
	}
}

var _ player.Engine = (*Engine)(nil)
