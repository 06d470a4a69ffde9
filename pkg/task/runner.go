package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Producer is the asynchronous operation a Runner drives. ctx is the same
// context as p.Context().
type Producer[P, R, S any] func(ctx context.Context, p *Progress[S], params P) (R, error)

// Config holds Runner configuration.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// Logger overrides the default component logger.
	Logger *zerolog.Logger

	// Context is the parent of every run context (default: Background).
	Context context.Context
}

// DefaultConfig returns a configuration with the given name.
func DefaultConfig(name string) Config {
	return Config{Name: name}
}

// Runner owns the state machine of one producer. It is safe for concurrent
// use; state changes are delivered to Watch listeners in the order they
// happen.
type Runner[P, R, S any] struct {
	produce Producer[P, R, S]
	name    string
	base    context.Context
	logger  zerolog.Logger

	mu     sync.Mutex
	state  State[P, R, S]
	epoch  uint64
	run    *run
	closed bool

	listeners map[int]func(State[P, R, S])
	nextID    int
	events    *dispatcher[State[P, R, S]]
}

// run is the bookkeeping of one epoch.
type run struct {
	epoch     uint64
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	aborted   bool
	settled   bool
	ended     bool
	callbacks []func()
	done      chan struct{}
}

func (rn *run) takeCallbacks() []func() {
	cbs := rn.callbacks
	rn.callbacks = nil
	return cbs
}

// end marks the run as over for Wait; must be called with the Runner lock held.
func (rn *run) end() {
	if !rn.ended {
		rn.ended = true
		close(rn.done)
	}
}

// New creates a Runner in the Idle state.
func New[P, R, S any](producer Producer[P, R, S], cfg Config) *Runner[P, R, S] {
	if producer == nil {
		panic("task: producer is nil")
	}

	logger := log.With().Str("component", "task").Str("task", cfg.Name).Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("task", cfg.Name).Logger()
	}

	base := cfg.Context
	if base == nil {
		base = context.Background()
	}

	r := &Runner[P, R, S]{
		produce:   producer,
		name:      cfg.Name,
		base:      base,
		logger:    logger,
		listeners: make(map[int]func(State[P, R, S])),
	}
	r.events = newDispatcher(r.deliver)
	return r
}

// Start begins a new epoch with params. Any run in flight is superseded:
// its cancellation callbacks are flushed and whatever it reports later is
// dropped. The producer is invoked on a new goroutine.
func (r *Runner[P, R, S]) Start(params P) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	rn, prev, flush := r.startLocked(params)
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		runCallbacks(flush)
	}
	go r.execute(rn, params)
}

// startLocked transitions to Running. It returns the new run plus the
// superseded run (if it was still live) and its callbacks to flush.
func (r *Runner[P, R, S]) startLocked(params P) (*run, *run, []func()) {
	var (
		prev  *run
		flush []func()
	)
	if old := r.run; old != nil && r.liveLocked(old) {
		prev = old
		flush = old.takeCallbacks()
		r.logger.Debug().
			Str("run_id", old.id).
			Uint64("epoch", old.epoch).
			Msg("Superseding live run")
	}
	if old := r.run; old != nil {
		old.end()
	}

	r.epoch++
	ctx, cancel := context.WithCancel(r.base)
	rn := &run{
		epoch:  r.epoch,
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.run = rn

	r.setLocked(State[P, R, S]{Kind: KindRunning, Epoch: rn.epoch, Params: params})
	runsStarted.WithLabelValues(r.name).Inc()

	r.logger.Debug().
		Str("run_id", rn.id).
		Uint64("epoch", rn.epoch).
		Msg("Run started")

	return rn, prev, flush
}

// Abort stops the live run. Calling it when nothing is running, or more
// than once, does nothing.
func (r *Runner[P, R, S]) Abort() {
	r.mu.Lock()
	epoch := r.epoch
	r.mu.Unlock()
	r.abortEpoch(epoch)
}

func (r *Runner[P, R, S]) abortEpoch(epoch uint64) {
	r.mu.Lock()
	rn := r.run
	if rn == nil || rn.epoch != epoch || !r.liveLocked(rn) {
		r.mu.Unlock()
		return
	}
	rn.aborted = true
	flush := rn.takeCallbacks()
	rn.end()
	r.setLocked(State[P, R, S]{Kind: KindAborted, Epoch: rn.epoch, Reason: ErrAborted})
	r.mu.Unlock()

	rn.cancel()
	runCallbacks(flush)

	runsFinished.WithLabelValues(r.name, KindAborted.String()).Inc()
	r.logger.Info().
		Str("run_id", rn.id).
		Uint64("epoch", rn.epoch).
		Int("callbacks", len(flush)).
		Msg("Run aborted")
}

// Retry restarts a failed run with the parameters of the failed attempt.
// In any other state, including Aborted, it does nothing.
func (r *Runner[P, R, S]) Retry() {
	r.mu.Lock()
	epoch := r.epoch
	r.mu.Unlock()
	r.retryEpoch(epoch)
}

func (r *Runner[P, R, S]) retryEpoch(epoch uint64) {
	r.mu.Lock()
	if r.closed || r.state.Kind != KindFailed || r.state.Epoch != epoch {
		r.mu.Unlock()
		return
	}
	params := r.state.Params
	rn, _, _ := r.startLocked(params)
	r.mu.Unlock()

	r.logger.Info().Str("run_id", rn.id).Uint64("epoch", rn.epoch).Msg("Retrying failed run")
	go r.execute(rn, params)
}

// Snapshot returns the current state.
func (r *Runner[P, R, S]) Snapshot() State[P, R, S] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Watch registers fn to receive every state change, in order, on the
// Runner's dispatcher goroutine. fn may call back into the Runner. The
// returned func unregisters it.
func (r *Runner[P, R, S]) Watch(fn func(State[P, R, S])) (unwatch func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Wait blocks until the current run is over and returns the state it left
// behind. A run superseded while waiting is followed to its successor.
func (r *Runner[P, R, S]) Wait(ctx context.Context) (State[P, R, S], error) {
	for {
		r.mu.Lock()
		rn := r.run
		if rn == nil || rn.ended || r.closed {
			st := r.state
			r.mu.Unlock()
			return st, nil
		}
		done := rn.done
		r.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return r.Snapshot(), ctx.Err()
		}
	}
}

// Close tears the Runner down. A live run is treated like an abort for the
// purpose of its cancellation callbacks, but no further state change is
// delivered after Close returns.
func (r *Runner[P, R, S]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	var (
		rn    = r.run
		flush []func()
	)
	if rn != nil && r.liveLocked(rn) {
		flush = rn.takeCallbacks()
	}
	if rn != nil {
		rn.end()
	}
	r.closed = true
	r.listeners = make(map[int]func(State[P, R, S]))
	r.mu.Unlock()

	r.events.stop()
	if rn != nil {
		rn.cancel()
	}
	runCallbacks(flush)
	return nil
}

func (r *Runner[P, R, S]) execute(rn *run, params P) {
	sc := &scope{
		ctx:      rn.ctx,
		runID:    rn.id,
		epoch:    rn.epoch,
		logger:   r.logger.With().Str("run_id", rn.id).Logger(),
		live:     func() bool { return r.isLive(rn) },
		onCancel: func(fn func()) { r.registerCancel(rn, fn) },
	}
	p := &Progress[S]{sc: sc, post: func(status S) error {
		r.post(rn, status)
		return nil
	}}

	result, err := r.invoke(rn.ctx, p, params)
	r.settle(rn, params, result, err)
}

func (r *Runner[P, R, S]) invoke(ctx context.Context, p *Progress[S], params P) (result R, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error().
				Str("run_id", p.RunID()).
				Interface("panic", v).
				Bytes("stack", debug.Stack()).
				Msg("Producer panicked")
			err = fmt.Errorf("%w: %v", ErrPanicked, v)
		}
	}()
	return r.produce(ctx, p, params)
}

func (r *Runner[P, R, S]) post(rn *run, status S) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.liveLocked(rn) {
		return
	}
	st := status
	r.setLocked(State[P, R, S]{Kind: KindBusy, Epoch: rn.epoch, Params: r.state.Params, Status: &st})
}

func (r *Runner[P, R, S]) settle(rn *run, params P, result R, err error) {
	r.mu.Lock()
	if !r.liveLocked(rn) {
		r.mu.Unlock()
		rn.cancel()
		staleCompletions.WithLabelValues(r.name).Inc()
		r.logger.Debug().
			Str("run_id", rn.id).
			Uint64("epoch", rn.epoch).
			Err(err).
			Msg("Discarding stale completion")
		return
	}

	rn.settled = true
	rn.callbacks = nil
	rn.end()

	var next State[P, R, S]
	switch {
	case err == nil:
		next = State[P, R, S]{Kind: KindDone, Epoch: rn.epoch, Params: params, Result: result}
	case errors.Is(err, ErrAbandoned):
		next = State[P, R, S]{Kind: KindAborted, Epoch: rn.epoch, Reason: ErrAborted}
	default:
		next = State[P, R, S]{Kind: KindFailed, Epoch: rn.epoch, Params: params, Reason: err}
	}
	r.setLocked(next)
	r.mu.Unlock()

	// The run context is released once the run settles; work that outlived
	// the result (for example a timed-out fetch) sees it cancelled.
	rn.cancel()

	runsFinished.WithLabelValues(r.name, next.Kind.String()).Inc()
	if next.Kind == KindFailed {
		r.logger.Warn().Str("run_id", rn.id).Uint64("epoch", rn.epoch).Err(err).Msg("Run failed")
	} else {
		r.logger.Debug().Str("run_id", rn.id).Uint64("epoch", rn.epoch).Str("state", next.Kind.String()).Msg("Run finished")
	}
}

func (r *Runner[P, R, S]) registerCancel(rn *run, fn func()) {
	r.mu.Lock()
	if !r.liveLocked(rn) {
		r.mu.Unlock()
		fn()
		return
	}
	rn.callbacks = append(rn.callbacks, fn)
	r.mu.Unlock()
}

func (r *Runner[P, R, S]) isLive(rn *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(rn)
}

func (r *Runner[P, R, S]) liveLocked(rn *run) bool {
	return !r.closed && rn.epoch == r.epoch && !rn.aborted && !rn.settled
}

// setLocked records st and queues it for listeners. Queueing under the lock
// keeps delivery order equal to transition order.
func (r *Runner[P, R, S]) setLocked(st State[P, R, S]) {
	r.state = st
	r.events.push(st)
}

func (r *Runner[P, R, S]) deliver(st State[P, R, S]) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	fns := make([]func(State[P, R, S]), 0, len(r.listeners))
	for id := 0; id < r.nextID; id++ {
		if fn, ok := r.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func runCallbacks(cbs []func()) {
	for _, fn := range cbs {
		fn()
	}
}
