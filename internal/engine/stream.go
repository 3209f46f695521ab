package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/framejobs/internal/dispatch"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/port"
)

// Quality is the service quality requested for a stream.
type Quality int

const (
	QualityDefault Quality = iota
	QualityBackground
	QualityCompromise
	QualityPerfect
	QualitySyncPriority
)

var qualityNames = map[Quality]string{
	QualityDefault:      "default",
	QualityBackground:   "background",
	QualityCompromise:   "compromise",
	QualityPerfect:      "perfect",
	QualitySyncPriority: "sync-priority",
}

func (q Quality) String() string {
	if s, ok := qualityNames[q]; ok {
		return s
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

// ParseQuality maps the textual form back to a Quality.
func ParseQuality(s string) (Quality, error) {
	for q, name := range qualityNames {
		if name == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("unknown service quality %q", s)
}

// OutputConnection identifies where the stream's frames are delivered.
type OutputConnection struct {
	Channel uint   // channel of the port to compute
	Sink    string // output slot name, for diagnostics
}

type streamConfig struct {
	startFrame int64
	startDelay time.Duration
}

// StreamOption adjusts a stream at Calculate.
type StreamOption func(*streamConfig)

// StartAt starts planning at the given frame instead of the beginning of
// the port's timeline.
func StartAt(frameNr int64) StreamOption {
	return func(c *streamConfig) { c.startFrame = frameNr }
}

// StartDelay postpones the first deadline of an ASAP or NICE stream.
func StartDelay(d time.Duration) StreamOption {
	return func(c *streamConfig) { c.startDelay = d }
}

// StreamStats is a snapshot of a stream's counters.
type StreamStats struct {
	Chunks    int64
	Planned   int64
	Skipped   int64
	Completed int64
	Failed    int64
	Stale     int64
	Pending   int64

	// Late counts jobs finished after their deadline (dropped frames).
	Late int64

	// NextFrame is where the next chunk starts.
	NextFrame int64

	Active    bool
	EndReason string
}

// CalcStream is the handle of one ongoing calculation. Copies share the
// stream: stopping any copy stops the stream. Obtained from
// Service.Calculate only; the zero value is not a stream.
type CalcStream struct {
	st *streamState
}

// ID returns the stream identifier.
func (c CalcStream) ID() string {
	if c.st == nil {
		return ""
	}
	return c.st.id
}

// Port returns the computed model port.
func (c CalcStream) Port() port.ModelPort {
	if c.st == nil {
		return port.NIL
	}
	return c.st.port
}

// Channel returns the computed channel.
func (c CalcStream) Channel() uint {
	if c.st == nil {
		return 0
	}
	return c.st.channel
}

// Output returns the output connection.
func (c CalcStream) Output() OutputConnection {
	if c.st == nil {
		return OutputConnection{}
	}
	return c.st.out
}

// Quality returns the requested service quality.
func (c CalcStream) Quality() Quality {
	if c.st == nil {
		return QualityDefault
	}
	return c.st.quality
}

// Timings returns the stream's timing configuration.
func (c CalcStream) Timings() frame.Timings {
	if c.st == nil {
		return frame.Timings{}
	}
	return c.st.timings
}

// Active reports whether the stream still plans jobs.
func (c CalcStream) Active() bool { return c.st != nil && c.st.active.Load() }

// Done is closed when the stream stops planning.
func (c CalcStream) Done() <-chan struct{} {
	if c.st == nil {
		return closedDone
	}
	return c.st.done
}

// Stop ends job generation. Jobs already handed to the scheduler are not
// retracted. Calling Stop again has no effect.
func (c CalcStream) Stop() {
	if c.st != nil {
		c.st.finish("stopped")
	}
}

// Stats returns a snapshot of the stream's counters.
func (c CalcStream) Stats() StreamStats {
	if c.st == nil {
		return StreamStats{}
	}
	return c.st.stats()
}

// IsZero reports whether the handle denotes no stream.
func (c CalcStream) IsZero() bool { return c.st == nil }

// Equal reports whether both handles denote the same stream.
func (c CalcStream) Equal(o CalcStream) bool { return c.st == o.st }

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type streamState struct {
	svc     *Service
	id      string
	seq     int64
	port    port.ModelPort
	channel uint
	out     OutputConnection
	quality Quality
	timings frame.Timings
	builder *dispatch.JobBuilder

	// mu serializes planning: one control path per stream.
	mu     sync.Mutex
	anchor frame.TimeAnchor

	// bookMu guards open and endReason.
	bookMu    sync.Mutex
	open      map[int64]int // chunk -> jobs not finished
	endReason string

	active   atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	chunks, planned, skipped atomic.Int64
	completed, failed, stale atomic.Int64
	late, pending            atomic.Int64
	next                     atomic.Int64
}

// topUp plans chunks until the look-ahead is filled, the stream ends or an
// error occurs.
func (st *streamState) topUp(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.active.Load() {
		return newRuntimeError(ErrCodeStreamStopped, st.id, "stream no longer plans jobs", nil)
	}
	for st.active.Load() && st.openChunks() < st.svc.lookAhead {
		if err := st.planNextChunk(ctx); err != nil {
			return err
		}
	}
	return nil
}

// planNextChunk plans one chunk from the current anchor and schedules its
// jobs. Planning errors end the stream before any of the chunk's jobs is
// scheduled. Caller holds mu.
func (st *streamState) planNextChunk(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := st.anchor.StartFrame()
	chunk, err := st.builder.PlanChunk(st.anchor)
	if err != nil {
		st.finish("planning failed")
		return fmt.Errorf("stream %s: plan chunk at frame %d: %w", st.id, from, err)
	}
	jobs, err := chunk.Jobs()
	if err != nil {
		st.finish("planning failed")
		return fmt.Errorf("stream %s: build jobs of chunk at frame %d: %w", st.id, from, err)
	}

	idx := st.chunks.Add(1)
	if chunk.Skipped > 0 {
		st.skipped.Add(int64(chunk.Skipped))
		st.svc.metrics.FramesSkipped(chunk.Skipped)
	}
	st.svc.logger.Debug("chunk planned",
		"stream", st.id,
		"from", from,
		"next", chunk.Next,
		"jobs", len(jobs),
		"skipped", chunk.Skipped,
	)

	for i, j := range jobs {
		if !st.active.Load() {
			// Stopped concurrently; the rest of the chunk is never scheduled.
			abandon(jobs[i:], newRuntimeError(ErrCodeStreamStopped, st.id, "stream stopped before the job was scheduled", nil))
			return nil
		}
		if err := st.svc.schedule(st, idx, j); err != nil {
			st.finish("scheduler rejected a job")
			abandon(jobs[i+1:], err)
			return err
		}
	}

	st.anchor = frame.NewTimeAnchor(st.timings, chunk.Next, 0, st.svc.wall)
	st.next.Store(chunk.Next)
	if chunk.EndOfTimeline {
		st.finish("end of timeline")
	}
	return nil
}

// abandon tells the functors of jobs that will never be scheduled that their
// results are not coming.
func abandon(jobs []*job.Job, reason error) {
	for _, j := range jobs {
		j.SignalFailure(reason)
	}
}

func (st *streamState) openChunks() int {
	st.bookMu.Lock()
	defer st.bookMu.Unlock()
	return len(st.open)
}

func (st *streamState) jobScheduled(chunk int64) {
	st.bookMu.Lock()
	st.open[chunk]++
	st.bookMu.Unlock()
	st.pending.Add(1)
}

func (st *streamState) jobFinished(chunk int64) {
	st.bookMu.Lock()
	if st.open[chunk]--; st.open[chunk] <= 0 {
		delete(st.open, chunk)
	}
	st.bookMu.Unlock()
	st.pending.Add(-1)
}

// jobDropped undoes jobScheduled for a job the scheduler refused.
func (st *streamState) jobDropped(chunk int64) {
	st.jobFinished(chunk)
}

// finish ends planning once. Safe from any goroutine, including while a
// chunk is being planned.
func (st *streamState) finish(reason string) {
	st.stopOnce.Do(func() {
		st.bookMu.Lock()
		st.endReason = reason
		st.bookMu.Unlock()
		st.active.Store(false)
		close(st.done)
		st.svc.streamClosed(st, reason)
	})
}

func (st *streamState) stats() StreamStats {
	st.bookMu.Lock()
	reason := st.endReason
	st.bookMu.Unlock()
	return StreamStats{
		Chunks:    st.chunks.Load(),
		Planned:   st.planned.Load(),
		Skipped:   st.skipped.Load(),
		Completed: st.completed.Load(),
		Failed:    st.failed.Load(),
		Stale:     st.stale.Load(),
		Late:      st.late.Load(),
		Pending:   st.pending.Load(),
		NextFrame: st.next.Load(),
		Active:    st.active.Load(),
		EndReason: reason,
	}
}
