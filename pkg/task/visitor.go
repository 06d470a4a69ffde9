package task

import "fmt"

// Visitor is the consumer's view of a Runner. It is an interface so that
// every implementation has to handle all four branches.
//
// Running is presented as Busy with a nil status. Aborted is presented as
// Failed with reason ErrAborted and a retry that does nothing.
type Visitor[R, S any] interface {
	Idle()
	Busy(abort func(), status *S)
	Done(result R)
	Failed(reason error, retry func())
}

// Cases is a Visitor assembled from optional funcs. A branch without a func
// falls back to Default; with no Default either, reaching it panics. That is
// a bug in the caller, not a runtime data error.
type Cases[R, S any] struct {
	OnIdle   func()
	OnBusy   func(abort func(), status *S)
	OnDone   func(result R)
	OnFailed func(reason error, retry func())
	Default  func()
}

func (c Cases[R, S]) Idle() {
	if c.OnIdle != nil {
		c.OnIdle()
		return
	}
	c.fallback(KindIdle)
}

func (c Cases[R, S]) Busy(abort func(), status *S) {
	if c.OnBusy != nil {
		c.OnBusy(abort, status)
		return
	}
	c.fallback(KindBusy)
}

func (c Cases[R, S]) Done(result R) {
	if c.OnDone != nil {
		c.OnDone(result)
		return
	}
	c.fallback(KindDone)
}

func (c Cases[R, S]) Failed(reason error, retry func()) {
	if c.OnFailed != nil {
		c.OnFailed(reason, retry)
		return
	}
	c.fallback(KindFailed)
}

func (c Cases[R, S]) fallback(k Kind) {
	if c.Default == nil {
		panic(fmt.Sprintf("task: unhandled %s branch and no Default", k))
	}
	c.Default()
}

// Query dispatches the current state to v.
//
// The abort and retry funcs handed to v are bound to the epoch that was
// observed: calling them after the Runner has moved on does nothing.
func (r *Runner[P, R, S]) Query(v Visitor[R, S]) {
	st := r.Snapshot()
	visit(st, v, func() { r.abortEpoch(st.Epoch) }, func() { r.retryEpoch(st.Epoch) })
}

// Match is Query with a Cases value.
func (r *Runner[P, R, S]) Match(c Cases[R, S]) {
	r.Query(c)
}

func visit[P, R, S any](st State[P, R, S], v Visitor[R, S], abort, retry func()) {
	switch st.Kind {
	case KindIdle:
		v.Idle()
	case KindRunning:
		v.Busy(abort, nil)
	case KindBusy:
		v.Busy(abort, st.Status)
	case KindDone:
		v.Done(st.Result)
	case KindFailed:
		v.Failed(st.Reason, retry)
	case KindAborted:
		v.Failed(ErrAborted, func() {})
	default:
		panic(fmt.Sprintf("task: unknown state kind %d", int(st.Kind)))
	}
}
