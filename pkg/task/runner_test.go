package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type params struct {
	Page int
	Tag  string
}

func testConfig(name string) Config {
	logger := zerolog.Nop()
	return Config{Name: name, Logger: &logger}
}

// waitState polls until the runner reaches kind or the test times out.
func waitState[P, R, S any](t *testing.T, r *Runner[P, R, S], kind Kind) State[P, R, S] {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := r.Snapshot(); st.Kind == kind {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Runner never reached %s, last state %s", kind, r.Snapshot())
	return State[P, R, S]{}
}

func TestRunner_InitialState(t *testing.T) {
	r := New(func(context.Context, *Progress[int], params) (string, error) {
		return "", nil
	}, testConfig("initial"))
	defer r.Close()

	if st := r.Snapshot(); st.Kind != KindIdle || st.Epoch != 0 {
		t.Errorf("Initial state = %s, want idle at epoch 0", st)
	}
}

func TestRunner_StartIsAsynchronous(t *testing.T) {
	release := make(chan struct{})
	var called atomic.Bool

	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		<-release
		called.Store(true)
		return "ok", nil
	}, testConfig("async"))
	defer r.Close()

	r.Start(params{Page: 1})
	if called.Load() {
		t.Fatal("Producer must not run inside Start")
	}
	st := r.Snapshot()
	if st.Kind != KindRunning || st.Params.Page != 1 || st.Epoch != 1 {
		t.Errorf("State after Start = %+v, want running page 1 epoch 1", st)
	}

	close(release)
	done := waitState(t, r, KindDone)
	if done.Result != "ok" {
		t.Errorf("Result = %q, want ok", done.Result)
	}
}

func TestRunner_PostMovesToBusy(t *testing.T) {
	step := make(chan struct{})
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		_ = p.Post(1)
		<-step
		_ = p.Post(2)
		<-step
		return "ok", nil
	}, testConfig("busy"))
	defer r.Close()

	r.Start(params{})
	st := waitState(t, r, KindBusy)
	if *st.Status != 1 {
		t.Errorf("Status = %d, want 1", *st.Status)
	}

	step <- struct{}{}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := r.Snapshot(); st.Status != nil && *st.Status == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if st := r.Snapshot(); st.Status == nil || *st.Status != 2 {
		t.Errorf("Status = %v, want 2", st.Status)
	}

	close(step)
	waitState(t, r, KindDone)
}

func TestRunner_EpochSafety(t *testing.T) {
	releaseA := make(chan struct{})
	aDone := make(chan struct{})

	var lateCalls atomic.Int32
	r := New(func(ctx context.Context, p *Progress[string], in params) (string, error) {
		if in.Tag == "A" {
			<-releaseA
			// A was superseded; everything it does from here is dropped.
			_ = p.Post("zombie")
			if p.Active() {
				t.Error("Superseded run must not be active")
			}
			lateCalls.Add(1)
			close(aDone)
			return "A", nil
		}
		return "B", nil
	}, testConfig("epoch"))
	defer r.Close()

	r.Start(params{Tag: "A"})
	r.Start(params{Tag: "B"})

	st := waitState(t, r, KindDone)
	if st.Result != "B" || st.Epoch != 2 {
		t.Fatalf("State = %+v, want done B at epoch 2", st)
	}

	close(releaseA)
	<-aDone
	time.Sleep(20 * time.Millisecond)

	if st := r.Snapshot(); st.Kind != KindDone || st.Result != "B" {
		t.Errorf("Late completion of A changed state to %+v", st)
	}
	if lateCalls.Load() != 1 {
		t.Errorf("Run A finished %d times, want 1", lateCalls.Load())
	}
}

func TestRunner_LatePostAfterSettleIsDropped(t *testing.T) {
	leak := make(chan *Progress[int], 1)
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		leak <- p
		return "ok", nil
	}, testConfig("settled"))
	defer r.Close()

	r.Start(params{})
	waitState(t, r, KindDone)

	p := <-leak
	_ = p.Post(99)
	if p.AssertActive() != ErrAbandoned {
		t.Error("Settled run should report ErrAbandoned")
	}
	if st := r.Snapshot(); st.Kind != KindDone {
		t.Errorf("Post after settle changed state to %s", st.Kind)
	}
}

func TestRunner_AbortIdempotent(t *testing.T) {
	var (
		mu    sync.Mutex
		order []int
	)
	registered := make(chan struct{})
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		for i := 0; i < 3; i++ {
			i := i
			p.OnCancel(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}
		_ = p.Post(1)
		close(registered)
		<-ctx.Done()
		return "", ctx.Err()
	}, testConfig("abort"))
	defer r.Close()

	r.Start(params{})
	<-registered
	waitState(t, r, KindBusy)

	r.Abort()
	r.Abort()
	r.Abort()

	st := r.Snapshot()
	if st.Kind != KindAborted || !errors.Is(st.Reason, ErrAborted) {
		t.Fatalf("State = %+v, want aborted", st)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("Callbacks ran %v, want [0 1 2] exactly once", order)
	}
	if st := r.Snapshot(); st.Kind != KindAborted {
		t.Errorf("Late completion overrode abort: %s", st.Kind)
	}
}

func TestRunner_AbortWhenIdleIsNoop(t *testing.T) {
	r := New(func(context.Context, *Progress[int], params) (string, error) {
		return "", nil
	}, testConfig("idle-abort"))
	defer r.Close()

	r.Abort()
	if st := r.Snapshot(); st.Kind != KindIdle {
		t.Errorf("Abort while idle moved to %s", st.Kind)
	}
}

func TestRunner_SupersedeFlushesCallbacks(t *testing.T) {
	var flushed atomic.Int32
	registered := make(chan struct{}, 1)
	r := New(func(ctx context.Context, p *Progress[int], in params) (string, error) {
		if in.Tag == "slow" {
			p.OnCancel(func() { flushed.Add(1) })
			registered <- struct{}{}
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "fast", nil
	}, testConfig("supersede"))
	defer r.Close()

	r.Start(params{Tag: "slow"})
	<-registered
	r.Start(params{Tag: "fast"})

	waitState(t, r, KindDone)
	if flushed.Load() != 1 {
		t.Errorf("Superseded run callbacks ran %d times, want 1", flushed.Load())
	}
}

func TestRunner_RetryReusesParams(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []params
	)
	fail := errors.New("network down")
	r := New(func(ctx context.Context, p *Progress[int], in params) (string, error) {
		mu.Lock()
		calls = append(calls, in)
		n := len(calls)
		mu.Unlock()
		if n == 1 {
			return "", fail
		}
		return "recovered", nil
	}, testConfig("retry"))
	defer r.Close()

	r.Start(params{Page: 3, Tag: "best"})
	st := waitState(t, r, KindFailed)
	if !errors.Is(st.Reason, fail) {
		t.Fatalf("Reason = %v, want %v", st.Reason, fail)
	}

	var retry func()
	r.Match(Cases[string, int]{
		OnFailed: func(reason error, fn func()) { retry = fn },
		Default:  func() { t.Error("expected failed branch") },
	})
	retry()

	done := waitState(t, r, KindDone)
	if done.Result != "recovered" || done.Epoch != 2 {
		t.Errorf("State after retry = %+v", done)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0] != calls[1] {
		t.Errorf("Producer calls = %v, want identical params twice", calls)
	}
}

func TestRunner_RetryAfterAbortIsNoop(t *testing.T) {
	var calls atomic.Int32
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	}, testConfig("retry-abort"))
	defer r.Close()

	r.Start(params{})
	waitState(t, r, KindRunning)
	r.Abort()

	var (
		reason error
		retry  func()
	)
	r.Match(Cases[string, int]{
		OnFailed: func(e error, fn func()) { reason, retry = e, fn },
		Default:  func() { t.Error("aborted should be presented as failed") },
	})
	if !errors.Is(reason, ErrAborted) || reason.Error() != "aborted" {
		t.Fatalf("Reason = %v, want aborted", reason)
	}

	retry()
	r.Retry()
	time.Sleep(20 * time.Millisecond)

	if st := r.Snapshot(); st.Kind != KindAborted {
		t.Errorf("Retry after abort moved to %s", st.Kind)
	}
	if calls.Load() != 1 {
		t.Errorf("Producer called %d times, want 1", calls.Load())
	}
}

func TestRunner_AbandonedCollapsesToAborted(t *testing.T) {
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		return "", ErrAbandoned
	}, testConfig("abandoned"))
	defer r.Close()

	r.Start(params{})
	st := waitState(t, r, KindAborted)
	if !errors.Is(st.Reason, ErrAborted) {
		t.Errorf("Reason = %v, want ErrAborted", st.Reason)
	}
}

func TestRunner_ProducerPanic(t *testing.T) {
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		panic("kaboom")
	}, testConfig("panic"))
	defer r.Close()

	r.Start(params{})
	st := waitState(t, r, KindFailed)
	if !errors.Is(st.Reason, ErrPanicked) {
		t.Errorf("Reason = %v, want ErrPanicked", st.Reason)
	}
}

func TestRunner_WatchOrder(t *testing.T) {
	step := make(chan struct{})
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		for i := 1; i <= 5; i++ {
			_ = p.Post(i)
		}
		<-step
		return "ok", nil
	}, testConfig("watch"))
	defer r.Close()

	var (
		mu   sync.Mutex
		seen []string
		got  []int
	)
	finished := make(chan struct{})
	r.Watch(func(st State[params, string, int]) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st.Kind.String())
		if st.Status != nil {
			got = append(got, *st.Status)
		}
		if st.Kind == KindDone {
			close(finished)
		}
	})

	r.Start(params{})
	close(step)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Watcher never saw done")
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "running" || seen[len(seen)-1] != "done" {
		t.Errorf("Transitions = %v", seen)
	}
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("Statuses = %v, want 1..5 in order", got)
		}
	}
	if len(got) != 5 {
		t.Errorf("Statuses = %v, want 5 entries", got)
	}
}

func TestRunner_Wait(t *testing.T) {
	r := New(func(ctx context.Context, p *Progress[int], in params) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return in.Page * 2, nil
	}, testConfig("wait"))
	defer r.Close()

	r.Start(params{Page: 21})
	st, err := r.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if st.Kind != KindDone || st.Result != 42 {
		t.Errorf("Wait() = %+v, want done 42", st)
	}
}

func TestRunner_WaitContextCancelled(t *testing.T) {
	r := New(func(ctx context.Context, p *Progress[int], _ params) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, testConfig("wait-cancel"))
	defer r.Close()

	r.Start(params{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestRunner_Close(t *testing.T) {
	var flushed atomic.Int32
	registered := make(chan struct{})
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		p.OnCancel(func() { flushed.Add(1) })
		close(registered)
		<-ctx.Done()
		return "late", nil
	}, testConfig("close"))

	var delivered atomic.Int32
	r.Watch(func(State[params, string, int]) { delivered.Add(1) })

	r.Start(params{})
	<-registered
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Second Close() error = %v", err)
	}

	if flushed.Load() != 1 {
		t.Errorf("Callbacks flushed %d times, want 1", flushed.Load())
	}

	before := r.Snapshot()
	r.Start(params{Page: 9})
	time.Sleep(20 * time.Millisecond)
	after := r.Snapshot()
	if before.Epoch != after.Epoch || before.Kind != after.Kind {
		t.Errorf("State changed after Close: %s -> %s", before, after)
	}
}

func TestRunner_OnCancelAfterInactiveRunsImmediately(t *testing.T) {
	leak := make(chan *Progress[int], 1)
	r := New(func(ctx context.Context, p *Progress[int], _ params) (string, error) {
		leak <- p
		return "", nil
	}, testConfig("late-cancel"))
	defer r.Close()

	r.Start(params{})
	waitState(t, r, KindDone)

	var ran bool
	(<-leak).OnCancel(func() { ran = true })
	if !ran {
		t.Error("OnCancel on an inactive run should call fn immediately")
	}
}
