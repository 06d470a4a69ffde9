// Package task runs one asynchronous producer at a time and exposes its
// lifecycle to a consumer as a small state machine.
//
// A Runner starts in Idle. Start moves it to Running and invokes the
// producer on a new goroutine; the producer reports incremental status
// through its Progress, which moves the Runner to Busy. The run ends in
// Done, Failed or Aborted.
//
//	runner := task.New(producer, task.DefaultConfig("front-page"))
//	defer runner.Close()
//
//	runner.Watch(func(st task.State[Params, Result, Status]) {
//		runner.Query(view) // re-render
//	})
//	runner.Start(Params{Page: 0})
//
// # Epochs
//
// Every Start begins a new epoch. A producer's Post, and its final result,
// are applied only while its epoch is still live: same epoch, not aborted,
// not yet settled. Output from a superseded or aborted run is dropped, so a
// slow earlier run can never overwrite what a newer run displays.
//
// # Cancellation
//
// Abort is cooperative. It flushes the callbacks registered through
// Progress.OnCancel (once, in registration order), cancels the run context
// and flips liveness. Producers should check Progress.AssertActive between
// units of work so they stop promptly.
//
// # Delegation
//
// Delegate hands a sub-producer a view of the same liveness and
// cancellation scope whose Post is muted, so lower-level fetch primitives
// can be composed into a higher-level producer without their status
// reports reaching the consumer.
//
// # Metrics
//
//   - task_runs_started_total{task}
//   - task_runs_finished_total{task, outcome}
//   - task_stale_completions_total{task}
package task
