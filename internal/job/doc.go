// Package job implements job tickets and the disposable jobs they produce.
//
// A Ticket is the execution plan for one pipeline within one timeline span.
// It is stateless with respect to time: the same ticket manufactures a Job for
// every frame its span covers. Each Job is bound to one frame coordinate and
// can be invoked exactly once, typically by an external scheduler on some
// worker goroutine, long after it was planned.
//
// Because the timeline may be rebuilt between planning and invocation, a Job
// re-verifies its ticket before and after running the functor. A stale plan
// is reported through the functor's SignalFailure and ErrCodeStalePlan; the
// result of a stale job must be discarded by the caller.
//
// Invocation-time failures never propagate as panics: a panicking functor is
// recovered, its buffers are reclaimed and the failure is signalled.
package job
