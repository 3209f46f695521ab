package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/framejobs/internal/dispatch"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/port"
)

// Scheduler is the external job scheduler. Schedule hands over a job for
// invocation on a worker; the scheduler reports the outcome back through
// Service.JobFinished. Schedule must not block on the job's execution.
type Scheduler interface {
	Schedule(j *job.Job) error
}

// DefaultLookAheadChunks is how many planned chunks a stream keeps open.
const DefaultLookAheadChunks = 2

// DefaultTickInterval is how often the Run loop tops up streams.
const DefaultTickInterval = 20 * time.Millisecond

// DefaultStreamHistory is how many closed streams stay listed.
const DefaultStreamHistory = 64

// Option configures a Service.
type Option func(*Service)

// WithClock sets the wall clock used for anchors and deadline checks.
func WithClock(c frame.Clock) Option {
	return func(s *Service) { s.wall = c }
}

// WithSequence sets the logical clock, e.g. resumed from a journal.
func WithSequence(c *Clock) Option {
	return func(s *Service) { s.seq = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithJournal records streams, planned jobs and outcomes in j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithMetrics reports counters to m.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStreamIDs sets the stream ID generator. Defaults to UUIDv7Generator.
func WithStreamIDs(g StreamIDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithLookAheadChunks sets how many chunks per stream may be planned and
// not yet finished.
func WithLookAheadChunks(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.lookAhead = n
		}
	}
}

// WithTickInterval sets the top-up period of the Run loop.
func WithTickInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithStreamHistory sets how many closed streams Streams and Stream keep
// reporting. Older ones are forgotten; handles to them keep working.
func WithStreamHistory(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.history = n
		}
	}
}

// Service is the engine access point. Calculate is the only way to open a
// CalcStream.
//
// Thread-safety model:
//   - Calculate, JobFinished, TopUp and the stream handles are safe from any
//     goroutine; planning of each stream is serialized per stream.
//   - Run must be called from exactly one goroutine. It is the single writer
//     of the journal.
type Service struct {
	dispatcher dispatch.Dispatcher
	scheduler  Scheduler

	wall      frame.Clock
	seq       *Clock
	logger    *slog.Logger
	journal   Journal
	metrics   Metrics
	ids       StreamIDGenerator
	lookAhead int
	tick      time.Duration
	history   int

	queue   *eventQueue
	writeMu sync.Mutex
	wake    chan struct{}

	mu       sync.Mutex
	streams  map[string]*streamState
	closed   []string // closed stream IDs, oldest first
	inflight map[*job.Job]inflightJob
}

type inflightJob struct {
	stream *streamState
	chunk  int64
}

// New creates a service planning through dispatcher and handing jobs to
// scheduler.
func New(dispatcher dispatch.Dispatcher, scheduler Scheduler, opts ...Option) *Service {
	s := &Service{
		dispatcher: dispatcher,
		scheduler:  scheduler,
		wall:       frame.SystemClock{},
		seq:        NewClock(),
		logger:     slog.Default(),
		metrics:    nopMetrics{},
		ids:        UUIDv7Generator{},
		lookAhead:  DefaultLookAheadChunks,
		tick:       DefaultTickInterval,
		history:    DefaultStreamHistory,
		queue:      newEventQueue(),
		wake:       make(chan struct{}, 1),
		streams:    make(map[string]*streamState),
		inflight:   make(map[*job.Job]inflightJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sequence returns the logical clock.
func (s *Service) Sequence() *Clock {
	return s.seq
}

// Calculate opens a calculation stream for one channel of port p and plans
// its initial look-ahead. Planning errors surface here, before any job of
// the stream is scheduled.
func (s *Service) Calculate(ctx context.Context, p port.ModelPort, timings frame.Timings,
	out OutputConnection, quality Quality, opts ...StreamOption,
) (CalcStream, error) {
	if err := timings.Validate(); err != nil {
		return CalcStream{}, newRuntimeError(ErrCodeInvalidTimings, "", "timings cannot drive a stream", err)
	}
	builder, err := s.dispatcher.OnCalcStream(p, out.Channel)
	if err != nil {
		return CalcStream{}, fmt.Errorf("open stream for %s: %w", p, err)
	}

	cfg := streamConfig{startFrame: s.defaultStart(p, timings)}
	for _, opt := range opts {
		opt(&cfg)
	}

	st := &streamState{
		svc:     s,
		id:      s.ids.Generate(),
		seq:     s.seq.Next(),
		port:    p,
		channel: out.Channel,
		out:     out,
		quality: quality,
		timings: timings,
		builder: builder,
		anchor:  frame.NewTimeAnchor(timings, cfg.startFrame, cfg.startDelay, s.wall),
		open:    make(map[int64]int),
		done:    make(chan struct{}),
	}
	st.active.Store(true)
	st.next.Store(cfg.startFrame)

	s.mu.Lock()
	s.streams[st.id] = st
	s.mu.Unlock()

	s.metrics.StreamOpened()
	s.record(Event{Type: EventTypeStreamOpened, Stream: &StreamRecord{
		Seq:        st.seq,
		ID:         st.id,
		Port:       s.portName(p),
		Channel:    out.Channel,
		Urgency:    timings.Urgency.String(),
		Quality:    quality.String(),
		StartFrame: cfg.startFrame,
		OpenedAt:   s.wall.Now(),
	}})
	s.logger.Info("calculation stream opened",
		"stream", st.id,
		"port", p,
		"channel", out.Channel,
		"urgency", timings.Urgency,
		"quality", quality,
		"start_frame", cfg.startFrame,
	)

	if err := st.topUp(ctx); err != nil {
		st.finish("initial planning failed")
		return CalcStream{}, err
	}
	return CalcStream{st: st}, nil
}

// timelineRanger is implemented by dispatchers that know the extent of the
// timeline per port.
type timelineRanger interface {
	TimelineRange(p port.ModelPort) (start, after time.Duration, ok bool)
}

// defaultStart is the first grid frame at or after the start of the port's
// timeline, or frame 0 when the dispatcher cannot tell.
func (s *Service) defaultStart(p port.ModelPort, t frame.Timings) int64 {
	r, ok := s.dispatcher.(timelineRanger)
	if !ok {
		return 0
	}
	start, _, ok := r.TimelineRange(p)
	if !ok {
		return 0
	}
	n := t.Grid.FrameAt(start)
	if t.Grid.FrameStart(n) < start {
		n++
	}
	return n
}

func (s *Service) portName(p port.ModelPort) string {
	type lookup interface {
		Ports() *port.Registry
	}
	if l, ok := s.dispatcher.(lookup); ok {
		if d, err := l.Ports().Lookup(p); err == nil {
			return d.PipeID
		}
	}
	return p.String()
}

// Streams returns all streams, active or not, in opening order.
func (s *Service) Streams() []CalcStream {
	s.mu.Lock()
	states := make([]*streamState, 0, len(s.streams))
	for _, st := range s.streams {
		states = append(states, st)
	}
	s.mu.Unlock()

	sort.Slice(states, func(i, j int) bool { return states[i].seq < states[j].seq })
	out := make([]CalcStream, len(states))
	for i, st := range states {
		out[i] = CalcStream{st: st}
	}
	return out
}

// Stream looks up a stream by ID. On a miss the returned handle is the zero
// CalcStream, which reports an inactive stream without stats.
func (s *Service) Stream(id string) (CalcStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	return CalcStream{st: st}, ok
}

// InFlight returns the number of scheduled jobs not reported finished.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// TopUp plans chunks for every active stream until each has its look-ahead
// of open chunks. Errors of individual streams are joined; a failing stream
// does not keep the others from planning.
func (s *Service) TopUp(ctx context.Context) error {
	var errs []error
	for _, cs := range s.Streams() {
		if !cs.Active() {
			continue
		}
		if err := cs.st.topUp(ctx); err != nil && !IsStreamStopped(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// schedule hands j to the scheduler on behalf of st.
func (s *Service) schedule(st *streamState, chunk int64, j *job.Job) error {
	s.mu.Lock()
	s.inflight[j] = inflightJob{stream: st, chunk: chunk}
	s.mu.Unlock()
	st.jobScheduled(chunk)

	if err := s.scheduler.Schedule(j); err != nil {
		s.mu.Lock()
		delete(s.inflight, j)
		s.mu.Unlock()
		st.jobDropped(chunk)
		rerr := newRuntimeError(ErrCodeSchedulerRejected, st.id, fmt.Sprintf("scheduler refused %s", j), err)
		j.SignalFailure(rerr)
		return rerr
	}

	st.planned.Add(1)
	kind := j.Kind().String()
	s.metrics.JobPlanned(kind)
	s.record(Event{Type: EventTypeJobPlanned, Job: &JobRecord{
		Seq:          s.seq.Next(),
		StreamID:     st.id,
		Kind:         kind,
		Pipeline:     j.Ticket().PipelineID(),
		Frame:        j.Coord().FrameNumber,
		NominalTime:  j.Coord().NominalTime,
		Deadline:     j.Deadline(),
		InstanceHash: j.InstanceHash(),
	}})
	s.logger.Debug("job scheduled",
		"stream", st.id,
		"kind", kind,
		"frame", j.Coord().FrameNumber,
		"start_by", j.StartDeadline(),
		"deadline", j.Deadline(),
	)
	return nil
}

// JobFinished is the scheduler's completion callback: err is what
// Job.Invoke returned. Missing the deadline is not an error; it is counted
// as a dropped frame. Safe to call from any worker goroutine, also after the
// job's stream was stopped.
func (s *Service) JobFinished(j *job.Job, err error) {
	s.mu.Lock()
	fl, ok := s.inflight[j]
	delete(s.inflight, j)
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("completion for a job not in flight", "job", j.String())
		return
	}
	st := fl.stream

	outcome := OutcomeCompleted
	switch {
	case err == nil:
		st.completed.Add(1)
	case job.IsStalePlan(err):
		outcome = OutcomeStale
		st.stale.Add(1)
	default:
		outcome = OutcomeFailed
		st.failed.Add(1)
	}
	kind := j.Kind().String()
	s.metrics.JobFinished(kind, outcome)

	rec := &OutcomeRecord{
		Seq:          s.seq.Next(),
		StreamID:     st.id,
		InstanceHash: j.InstanceHash(),
		Outcome:      outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if late := s.wall.Now().Sub(j.Deadline()); late > 0 && j.Kind() != job.DummyJob {
		rec.Lateness = late
		st.late.Add(1)
		s.metrics.DeadlineMissed(kind, late)
		s.logger.Warn("deadline missed",
			"stream", st.id,
			"frame", j.Coord().FrameNumber,
			"late_by", late,
		)
	}
	if outcome != OutcomeCompleted {
		s.logger.Info("job did not complete",
			"stream", st.id,
			"frame", j.Coord().FrameNumber,
			"outcome", outcome,
			"error", err,
		)
	}
	s.record(Event{Type: EventTypeJobFinished, Outcome: rec})

	st.jobFinished(fl.chunk)
	s.signalWake()
}

func (s *Service) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// streamClosed is called exactly once per stream.
func (s *Service) streamClosed(st *streamState, reason string) {
	s.mu.Lock()
	s.closed = append(s.closed, st.id)
	for len(s.closed) > s.history {
		delete(s.streams, s.closed[0])
		s.closed = s.closed[1:]
	}
	s.mu.Unlock()

	s.metrics.StreamClosed()
	s.record(Event{Type: EventTypeStreamClosed, End: &StreamEnd{
		Seq:      s.seq.Next(),
		StreamID: st.id,
		Reason:   reason,
		Stats:    st.stats(),
	}})
	s.logger.Info("calculation stream closed", "stream", st.id, "reason", reason)
}

// record queues a journal event. Without a journal nothing is queued.
func (s *Service) record(e Event) {
	if s.journal == nil {
		return
	}
	if !s.queue.Enqueue(e) {
		s.logger.Debug("journal event dropped after shutdown", "event", e.Type)
	}
}

// Run is the service loop: it writes queued journal events and tops up the
// streams on every tick and after job completions. Blocks until ctx is
// cancelled or Close is called.
//
// Journal write failures are logged and processing continues; a broken
// journal must not stall frame delivery.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("calculation service starting", "look_ahead", s.lookAhead, "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if e, ok := s.queue.TryDequeue(); ok {
			s.write(ctx, e)
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("calculation service stopping: context cancelled")
			return ctx.Err()

		case <-s.queue.Wait():
			if s.queue.Closed() && s.queue.Len() == 0 {
				s.logger.Info("calculation service stopping: closed")
				return nil
			}

		case <-s.wake:
			s.topUpLogged(ctx)

		case <-ticker.C:
			s.topUpLogged(ctx)
		}
	}
}

func (s *Service) topUpLogged(ctx context.Context) {
	if err := s.TopUp(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("stream planning failed", "error", err)
	}
}

// Flush writes all queued journal events before returning.
func (s *Service) Flush(ctx context.Context) {
	for {
		e, ok := s.queue.TryDequeue()
		if !ok {
			return
		}
		s.write(ctx, e)
	}
}

// Close stops every stream, writes the remaining journal events and ends
// the Run loop. Jobs still in flight keep running; their outcomes are no
// longer journaled.
func (s *Service) Close(ctx context.Context) {
	for _, cs := range s.Streams() {
		cs.st.finish("service closed")
	}
	s.Flush(ctx)
	s.queue.Close()
}

func (s *Service) write(ctx context.Context, e Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	switch e.Type {
	case EventTypeStreamOpened:
		err = s.journal.OpenStream(ctx, *e.Stream)
	case EventTypeStreamClosed:
		err = s.journal.CloseStream(ctx, *e.End)
	case EventTypeJobPlanned:
		err = s.journal.RecordPlanned(ctx, *e.Job)
	case EventTypeJobFinished:
		err = s.journal.RecordOutcome(ctx, *e.Outcome)
	default:
		err = fmt.Errorf("unknown event type: %d", e.Type)
	}
	if err != nil {
		s.logger.Error("journal write failed", "event", e.Type, "error", err)
	}
}
