package task

import "fmt"

// Kind identifies a variant of State.
type Kind int

const (
	KindIdle Kind = iota
	KindRunning
	KindBusy
	KindDone
	KindFailed
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindRunning:
		return "running"
	case KindBusy:
		return "busy"
	case KindDone:
		return "done"
	case KindFailed:
		return "failed"
	case KindAborted:
		return "aborted"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Terminal reports whether k ends a run.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindFailed || k == KindAborted
}

// State is a snapshot of a Runner. Which fields are meaningful depends on
// Kind:
//
//	Running  Params
//	Busy     Params, Status
//	Done     Params, Result
//	Failed   Reason, Params (the parameters Retry re-uses)
//	Aborted  Reason (always ErrAborted)
type State[P, R, S any] struct {
	Kind  Kind
	Epoch uint64

	Params P
	Status *S
	Result R
	Reason error
}

func (s State[P, R, S]) String() string {
	switch s.Kind {
	case KindFailed, KindAborted:
		return fmt.Sprintf("%s(epoch=%d, reason=%v)", s.Kind, s.Epoch, s.Reason)
	default:
		return fmt.Sprintf("%s(epoch=%d)", s.Kind, s.Epoch)
	}
}
