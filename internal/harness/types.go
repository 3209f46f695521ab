package harness

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/framejobs/internal/engine"
)

// Trace event types.
const (
	EventOpened   = "opened"
	EventPlanned  = "planned"
	EventFinished = "finished"
	EventClosed   = "closed"
)

// TraceEvent is one journaled service record, flattened for assertions and
// golden comparison.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Event    string `json:"event"`
	Stream   string `json:"stream"`
	Port     string `json:"port,omitempty"`
	Frame    int64  `json:"frame"`
	Kind     string `json:"kind,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// Late is how far past its deadline a finished job completed.
	Late time.Duration `json:"late,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds the journaled records in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures.
	Errors []string `json:"errors,omitempty"`

	// PlanningErrors holds errors returned by top-ups. They end streams but
	// do not fail the scenario by themselves.
	PlanningErrors []string `json:"planning_errors,omitempty"`

	// Streams maps stream IDs to their final counters.
	Streams map[string]engine.StreamStats `json:"streams"`

	// BuffersReleased reports whether every buffer went back to the provider.
	BuffersReleased bool `json:"buffers_released"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Streams: make(map[string]engine.StreamStats),
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// traceJournal is an in-memory engine.Journal producing the trace.
type traceJournal struct {
	mu     sync.Mutex
	events []TraceEvent
	jobs   map[string]engine.JobRecord // instance hash -> planned job
}

var _ engine.Journal = (*traceJournal)(nil)

func newTraceJournal() *traceJournal {
	return &traceJournal{jobs: make(map[string]engine.JobRecord)}
}

func (j *traceJournal) add(e TraceEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *traceJournal) OpenStream(_ context.Context, r engine.StreamRecord) error {
	j.add(TraceEvent{Seq: r.Seq, Event: EventOpened, Stream: r.ID, Port: r.Port, Frame: r.StartFrame})
	return nil
}

func (j *traceJournal) CloseStream(_ context.Context, r engine.StreamEnd) error {
	j.add(TraceEvent{Seq: r.Seq, Event: EventClosed, Stream: r.StreamID, Reason: r.Reason})
	return nil
}

func (j *traceJournal) RecordPlanned(_ context.Context, r engine.JobRecord) error {
	j.mu.Lock()
	j.jobs[r.InstanceHash] = r
	j.mu.Unlock()
	j.add(TraceEvent{
		Seq:      r.Seq,
		Event:    EventPlanned,
		Stream:   r.StreamID,
		Frame:    r.Frame,
		Kind:     r.Kind,
		Pipeline: r.Pipeline,
	})
	return nil
}

func (j *traceJournal) RecordOutcome(_ context.Context, r engine.OutcomeRecord) error {
	j.mu.Lock()
	planned := j.jobs[r.InstanceHash]
	j.mu.Unlock()
	j.add(TraceEvent{
		Seq:      r.Seq,
		Event:    EventFinished,
		Stream:   r.StreamID,
		Frame:    planned.Frame,
		Kind:     planned.Kind,
		Pipeline: planned.Pipeline,
		Outcome:  string(r.Outcome),
		Late:     r.Lateness,
	})
	return nil
}

// trace returns the events ordered by sequence number.
func (j *traceJournal) trace() []TraceEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TraceEvent, len(j.events))
	copy(out, j.events)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out
}

func sortedPaths(paths []string) []string {
	sort.Strings(paths)
	return paths
}
