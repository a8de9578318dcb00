// Package transfer moves episode media from remote origins onto local disk with
// incremental progress reporting.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedScheme is returned when no transferer is registered for a source URL.
var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// ProgressFunc receives totalBytesWritten and totalBytesExpectedToWrite.
// expected is 0 or negative when the origin does not announce a length.
type ProgressFunc func(written, expected int64)

// Result describes a finished transfer.
type Result struct {
	Path string
	Size int64
}

// Transferer downloads src into dst.
type Transferer interface {
	Transfer(ctx context.Context, src, dst string, progress ProgressFunc) (Result, error)
}

// Router dispatches on the source URL scheme.
type Router struct {
	routes map[string]Transferer
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]Transferer)}
}

// Handle registers t for the given schemes (case-insensitive).
func (r *Router) Handle(t Transferer, schemes ...string) *Router {
	for _, s := range schemes {
		r.routes[strings.ToLower(s)] = t
	}
	return r
}

func (r *Router) Transfer(ctx context.Context, src, dst string, progress ProgressFunc) (Result, error) {
	u, err := url.Parse(src)
	if err != nil {
		return Result{}, fmt.Errorf("parse source url: %w", err)
	}
	t, ok := r.routes[strings.ToLower(u.Scheme)]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return t.Transfer(ctx, src, dst, progress)
}

var _ Transferer = (*Router)(nil)
