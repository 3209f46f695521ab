// Package journal provides SQLite-backed durable records of calculation
// streams.
//
// The journal is append-only:
//   - streams: one row per opened CalcStream
//   - stream_ends: why and with which counters a stream stopped planning
//   - planned_jobs: every job handed to the scheduler
//   - job_outcomes: how each job ended, including deadline lateness
//   - buffer_events: lock/emit/release events of a diagnostic buffer provider
//
// All ordering uses the service's logical sequence numbers, never wall-clock
// timestamps, so queries return identical results for identical runs:
// every read orders by seq. Writes are idempotent; a record written twice is
// ignored.
//
// Database configuration follows the usual single-writer SQLite setup: WAL
// mode, synchronous=NORMAL, a 5 second busy timeout, foreign keys on and a
// connection pool of one.
package journal
