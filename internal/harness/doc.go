// Package harness runs deterministic scenarios against the calculation
// service and checks the resulting trace.
//
// A scenario names a CUE timeline, opens streams on it and drives the
// service step by step. Jobs run one at a time in scheduling order under a
// fake wall clock, so the journaled trace is identical on every run and can
// be compared against golden files.
//
// # Scenario Format
//
//	name: single_stream
//	description: "One stream plans and completes the whole timeline"
//	timeline: ../timelines/short.cue
//	look_ahead: 2
//	streams:
//	  - pipe: video
//	steps:
//	  - run: all
//	  - advance: 40ms
//	  - splice: { start: 0s, end: 200ms, tickets: { video: { pipeline: fx } } }
//	  - stop: stream-1
//	assertions:
//	  - type: trace_count
//	    event: finished
//	    outcome: completed
//	    count: 10
//	  - type: stream_end
//	    stream: stream-1
//	    reason: end of timeline
//
// Streams are named stream-1, stream-2, ... in opening order.
//
// # Assertion Types
//
//   - trace_contains: some event matches
//   - trace_order: matching events occur in the given order
//   - trace_count: exactly count events match
//   - frames: the frames planned for a stream
//   - stream_stats: final stream counters
//   - stream_end: why a stream stopped planning
//   - buffers_released: no buffer is still held
//   - planning_errors: number of failed top-ups
package harness
