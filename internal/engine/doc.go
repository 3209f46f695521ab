// Package engine is the access point for render calculations.
//
// Service.Calculate opens a calculation stream for one channel of a model
// port. The stream plans its frames chunk by chunk: a TimeAnchor relates the
// chunk's first frame to wall-clock time, the dispatcher yields the job
// tickets of each frame, and the built jobs, prerequisites first, go to the
// external Scheduler. The anchor of the next chunk follows the last planned
// frame; reaching the end of the timeline ends the stream.
//
// Each stream has a single control path: chunks are planned by Advance,
// either called directly or from the stream's Run loop. Stopping a stream
// ends further planning only. Jobs already handed to the scheduler run to
// completion and release their buffers themselves.
//
// Job outcomes come back through Service.JobFinished. Stream statistics and
// metrics are updated on the caller's goroutine; journal records are queued
// and written by the single-writer Service.Run loop, stamped by the logical
// Clock so the journal order never depends on wall-clock races.
package engine
