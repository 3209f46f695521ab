package engine

import (
	"context"
	"time"
)

// Outcome classifies a finished job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"

	// OutcomeStale marks a job whose plan was invalidated by a timeline
	// change before or during its invocation.
	OutcomeStale Outcome = "stale"
)

// StreamRecord describes a newly opened calculation stream.
type StreamRecord struct {
	Seq        int64
	ID         string
	Port       string
	Channel    uint
	Urgency    string
	Quality    string
	StartFrame int64
	OpenedAt   time.Time
}

// StreamEnd records why a stream stopped planning.
type StreamEnd struct {
	Seq      int64
	StreamID string
	Reason   string
	Stats    StreamStats
}

// JobRecord describes one job handed to the scheduler.
type JobRecord struct {
	Seq          int64
	StreamID     string
	Kind         string
	Pipeline     string
	Frame        int64
	NominalTime  time.Duration
	Deadline     time.Time
	InstanceHash string
}

// OutcomeRecord describes how a job ended.
type OutcomeRecord struct {
	Seq          int64
	StreamID     string
	InstanceHash string
	Outcome      Outcome
	Error        string

	// Lateness is how far past its deadline the job finished. Zero if in time.
	Lateness time.Duration
}

// Journal persists the service's records. Calls come from the service's
// single Run goroutine only.
type Journal interface {
	OpenStream(ctx context.Context, r StreamRecord) error
	CloseStream(ctx context.Context, r StreamEnd) error
	RecordPlanned(ctx context.Context, r JobRecord) error
	RecordOutcome(ctx context.Context, r OutcomeRecord) error
}

// Metrics receives counters from the service. Implementations must be safe
// for concurrent use.
type Metrics interface {
	StreamOpened()
	StreamClosed()
	JobPlanned(kind string)
	JobFinished(kind string, outcome Outcome)
	DeadlineMissed(kind string, lateness time.Duration)
	FramesSkipped(n int)
}

type nopMetrics struct{}

func (nopMetrics) StreamOpened() {}

func (nopMetrics) StreamClosed() {}

func (nopMetrics) JobPlanned(string) {}

func (nopMetrics) JobFinished(string, Outcome) {}

func (nopMetrics) DeadlineMissed(string, time.Duration) {}

func (nopMetrics) FramesSkipped(int) {}
