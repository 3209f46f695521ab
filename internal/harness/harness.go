package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/dispatch"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/testutil"
	"github.com/roach88/framejobs/internal/timeline"
)

// maxRounds bounds "run: all" so a stream that never ends fails the
// scenario instead of hanging it.
const maxRounds = 10000

// Harness executes one scenario against a fresh service. Everything that
// could vary between runs is fixed: the wall clock is fake, stream IDs are
// "stream-1", "stream-2", ... and jobs run one at a time in scheduling order.
type Harness struct {
	timeline  *timeline.Timeline
	provider  *buffer.TrackingProvider
	clock     *testutil.FakeClock
	scheduler *testutil.RecordingScheduler
	journal   *traceJournal
	service   *engine.Service
	logger    *slog.Logger
	result    *Result
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes the service's logs. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result. An error means the
// scenario could not be executed at all; failed assertions are reported in
// the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		provider:  buffer.NewTrackingProvider(),
		clock:     testutil.NewFakeClock(),
		scheduler: testutil.NewRecordingScheduler(),
		journal:   newTraceJournal(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:    NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	tl, err := timeline.LoadAndBuild(scenario.Timeline, h.provider)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	h.timeline = tl

	svcOpts := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithJournal(h.journal),
		engine.WithLogger(h.logger),
		engine.WithStreamIDs(engine.NewSequenceGenerator("stream")),
	}
	if scenario.LookAhead > 0 {
		svcOpts = append(svcOpts, engine.WithLookAheadChunks(scenario.LookAhead))
	}
	h.service = engine.New(tl.Dispatcher(dispatch.WithChunkLimit(scenario.ChunkLimit)), h.scheduler, svcOpts...)

	ctx := context.Background()
	defer h.service.Close(ctx)

	for i, spec := range scenario.Streams {
		if err := h.open(ctx, spec); err != nil {
			return nil, fmt.Errorf("streams[%d]: %w", i, err)
		}
	}
	for i, step := range scenario.Steps {
		if err := h.step(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	h.service.Flush(ctx)

	r := h.result
	r.Trace = h.journal.trace()
	for _, cs := range h.service.Streams() {
		r.Streams[cs.ID()] = cs.Stats()
	}
	r.BuffersReleased = h.provider.AllReleased()

	for _, msg := range EvaluateAssertions(r, scenario.Assertions) {
		r.AddError(msg)
	}
	return r, nil
}

func (h *Harness) open(ctx context.Context, spec StreamSpec) error {
	p, ok := h.timeline.Port(spec.Pipe)
	if !ok {
		return fmt.Errorf("unknown pipe %q", spec.Pipe)
	}
	timings, err := h.timings(spec)
	if err != nil {
		return err
	}
	quality := engine.QualityDefault
	if spec.Quality != "" {
		if quality, err = engine.ParseQuality(spec.Quality); err != nil {
			return err
		}
	}
	var opts []engine.StreamOption
	if spec.StartFrame != nil {
		opts = append(opts, engine.StartAt(*spec.StartFrame))
	}

	_, err = h.service.Calculate(ctx, p, timings,
		engine.OutputConnection{Channel: spec.Channel, Sink: "harness"}, quality, opts...)
	switch {
	case spec.ExpectError == "" && err != nil:
		return err
	case spec.ExpectError != "" && err == nil:
		return fmt.Errorf("expected %s, stream opened", spec.ExpectError)
	case spec.ExpectError != "" && !hasCode(err, spec.ExpectError):
		return fmt.Errorf("expected %s: %w", spec.ExpectError, err)
	}
	return nil
}

func (h *Harness) timings(spec StreamSpec) (frame.Timings, error) {
	t := h.timeline.Timings()
	if spec.Urgency != "" {
		u, err := frame.ParseUrgency(spec.Urgency)
		if err != nil {
			return t, err
		}
		t.Urgency = u
	}
	if t.Urgency == frame.TIMEBOUND {
		t.ScheduledDelivery = h.clock.Now()
	}
	var err error
	if spec.PlanningChunk != "" {
		if t.PlanningChunk, err = parseDuration(spec.PlanningChunk); err != nil {
			return t, err
		}
	}
	if t.OutputLatency, err = parseDuration(spec.OutputLatency); err != nil {
		return t, err
	}
	if t.EngineLatency, err = parseDuration(spec.EngineLatency); err != nil {
		return t, err
	}
	return t, nil
}

func (h *Harness) step(ctx context.Context, step Step) error {
	switch {
	case step.Run != "":
		return h.run(ctx, step.Run == RunAll)
	case step.Advance != "":
		d, err := parseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
	case step.Stop != "":
		cs, ok := h.service.Stream(step.Stop)
		if !ok {
			return fmt.Errorf("unknown stream %q", step.Stop)
		}
		cs.Stop()
	case step.TopUp:
		h.topUp(ctx)
	case step.Reject != nil:
		if *step.Reject == "" {
			h.scheduler.RejectWith(nil)
		} else {
			h.scheduler.RejectWith(errors.New(*step.Reject))
		}
	case step.Splice != nil:
		return h.splice(step.Splice)
	case step.Open != nil:
		return h.open(ctx, *step.Open)
	}
	return nil
}

// run invokes scheduled jobs sequentially and reports each outcome. With
// untilDone it tops up after every round until no job is left.
func (h *Harness) run(ctx context.Context, untilDone bool) error {
	for round := 0; round < maxRounds; round++ {
		jobs := h.scheduler.Drain()
		if len(jobs) == 0 && untilDone {
			h.topUp(ctx)
			jobs = h.scheduler.Drain()
		}
		if len(jobs) == 0 {
			return nil
		}
		for _, j := range jobs {
			h.service.JobFinished(j, j.Invoke(ctx))
		}
		if !untilDone {
			return nil
		}
	}
	return fmt.Errorf("jobs still scheduled after %d rounds", maxRounds)
}

func (h *Harness) topUp(ctx context.Context) {
	if err := h.service.TopUp(ctx); err != nil {
		h.result.PlanningErrors = append(h.result.PlanningErrors, err.Error())
	}
}

func (h *Harness) splice(sp *SpliceSpec) error {
	start, err := parseDuration(sp.Start)
	if err != nil {
		return err
	}
	end, err := parseDuration(sp.End)
	if err != nil {
		return err
	}
	seg := timeline.SegmentDef{Start: start, End: end, Tickets: make(map[string]timeline.TicketDef, len(sp.Tickets))}
	for pipe, tk := range sp.Tickets {
		kind := tk.Kind
		if kind == "" {
			kind = job.CalcJob.String()
		}
		seg.Tickets[pipe] = timeline.TicketDef{Pipeline: tk.Pipeline, Kind: kind, Buffers: tk.Buffers, Fail: tk.Fail}
	}
	_, err = h.timeline.Splice(seg)
	return err
}

// hasCode matches the coded errors of the planning layers by code string.
func hasCode(err error, code string) bool {
	return dispatch.HasCode(err, dispatch.PlanningErrorCode(code)) ||
		engine.HasCode(err, engine.RuntimeErrorCode(code))
}
