package task

import "errors"

var (
	// ErrAborted is the reason reported by Query for an aborted run.
	ErrAborted = errors.New("aborted")

	// ErrAbandoned is returned by Progress.AssertActive once the run is no
	// longer live. It never reaches the consumer as a failure of its own.
	ErrAbandoned = errors.New("abandoned")

	// ErrPanicked wraps a value recovered from a panicking producer.
	ErrPanicked = errors.New("producer panicked")
)
