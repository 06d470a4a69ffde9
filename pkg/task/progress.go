package task

import (
	"context"

	"github.com/rs/zerolog"
)

// scope is the liveness and cancellation view of one run. It is shared by a
// Progress and every view delegated from it.
type scope struct {
	ctx      context.Context
	runID    string
	epoch    uint64
	logger   zerolog.Logger
	live     func() bool
	onCancel func(fn func())
}

// Progress is handed to a running producer. It is bound to a single epoch:
// once that epoch is superseded, aborted or settled, every operation on it
// is inert.
type Progress[S any] struct {
	sc   *scope
	post func(S) error
}

// Post reports status. On the Progress given to a producer it moves the
// Runner to Busy while the run is live and silently does nothing otherwise.
// On a delegated view it is muted; in DelegateStrict mode it returns
// ErrAbandoned once the run is no longer live.
func (p *Progress[S]) Post(status S) error {
	return p.post(status)
}

// Active reports whether the run is still live.
func (p *Progress[S]) Active() bool {
	return p.sc.live()
}

// AssertActive returns ErrAbandoned once the run is no longer live.
func (p *Progress[S]) AssertActive() error {
	if !p.sc.live() {
		return ErrAbandoned
	}
	return nil
}

// OnCancel registers fn to run when the run is aborted, superseded or torn
// down while live. If the run is already inactive fn runs immediately.
func (p *Progress[S]) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	p.sc.onCancel(fn)
}

// Context is cancelled when the run is aborted, superseded or settled.
func (p *Progress[S]) Context() context.Context {
	return p.sc.ctx
}

// RunID identifies the run in logs.
func (p *Progress[S]) RunID() string {
	return p.sc.runID
}

// Epoch returns the epoch the Progress is bound to.
func (p *Progress[S]) Epoch() uint64 {
	return p.sc.epoch
}

// Logger returns a logger tagged with the run id.
func (p *Progress[S]) Logger() zerolog.Logger {
	return p.sc.logger
}

// DelegateMode selects what Post does on a delegated view.
type DelegateMode int

const (
	// DelegateQuiet makes Post a no-op.
	DelegateQuiet DelegateMode = iota

	// DelegateStrict makes Post behave like AssertActive.
	DelegateStrict
)

// Delegate returns a view of p for a sub-producer. The view shares p's
// liveness, cancellation callbacks and context, but its Post never reaches
// the consumer. T is the sub-producer's own status type.
func Delegate[T, S any](p *Progress[S], mode DelegateMode) *Progress[T] {
	sc := p.sc
	post := func(T) error { return nil }
	if mode == DelegateStrict {
		post = func(T) error {
			if !sc.live() {
				return ErrAbandoned
			}
			return nil
		}
	}
	return &Progress[T]{sc: sc, post: post}
}

// Detached returns a Progress that is always live and reports nowhere.
// It lets producers be called directly, outside a Runner.
func Detached[S any](ctx context.Context) *Progress[S] {
	sc := &scope{
		ctx:      ctx,
		logger:   zerolog.Ctx(ctx).With().Logger(),
		live:     func() bool { return ctx.Err() == nil },
		onCancel: func(fn func()) { context.AfterFunc(ctx, fn) },
	}
	return &Progress[S]{sc: sc, post: func(S) error { return nil }}
}
