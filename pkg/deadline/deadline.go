// Package deadline races an operation against a timer.
package deadline

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrTimeout is returned by Race when the timer fires first.
var ErrTimeout = errors.New("timeout")

var racesTimedOut = promauto.NewCounter(prometheus.CounterOpts{
	Name: "deadline_races_timed_out_total",
	Help: "Total number of raced operations that lost to their deadline",
})

type outcome[T any] struct {
	val T
	err error
}

// Race runs fn and returns its result if it settles within d. Otherwise it
// returns ErrTimeout.
//
// Race does not cancel fn when the timer wins: fn keeps ctx and runs to
// completion in the background. Callers that want the work stopped must
// cancel ctx themselves. If ctx ends first, Race returns ctx.Err().
// A non-positive d disables the timer.
func Race[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ch := make(chan outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome[T]{val: v, err: err}
	}()

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var zero T
	select {
	case o := <-ch:
		return o.val, o.err
	case <-timeout:
		racesTimedOut.Inc()
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
