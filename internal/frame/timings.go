package frame

import (
	"errors"
	"fmt"
	"time"
)

// Urgency describes how a calculation stream relates to wall-clock time.
type Urgency int

const (
	// ASAP computes frames as fast as possible (final render).
	ASAP Urgency = iota + 1
	// NICE computes frames in the background with lowered priority.
	NICE
	// TIMEBOUND delivers frames at fixed real time (playback).
	TIMEBOUND
)

func (u Urgency) String() string {
	switch u {
	case ASAP:
		return "asap"
	case NICE:
		return "nice"
	case TIMEBOUND:
		return "timebound"
	default:
		return fmt.Sprintf("urgency(%d)", int(u))
	}
}

// ParseUrgency maps the textual form back to an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	switch s {
	case "asap", "ASAP":
		return ASAP, nil
	case "nice", "NICE":
		return NICE, nil
	case "timebound", "TIMEBOUND":
		return TIMEBOUND, nil
	}
	return 0, fmt.Errorf("unknown playback urgency %q", s)
}

// DefaultPlanningChunk is the span of nominal time planned per chunk.
const DefaultPlanningChunk = 200 * time.Millisecond

// Timings is the timing configuration of one calculation stream: the frame
// grid, the relation to wall-clock time and the latencies to compensate for.
type Timings struct {
	Grid    Grid
	Urgency Urgency

	OutputLatency time.Duration
	EngineLatency time.Duration

	// ScheduledDelivery is the wall-clock time at which frame DeliveryFrame
	// is due at the output. Only used for TIMEBOUND streams.
	ScheduledDelivery time.Time
	DeliveryFrame     int64

	// PlanningChunk is the nominal span covered by one round of job planning.
	PlanningChunk time.Duration
}

// DefaultTimings returns ASAP timings on the given grid.
func DefaultTimings(rate Rate) Timings {
	return Timings{
		Grid:          NewGrid(rate, 0),
		Urgency:       ASAP,
		PlanningChunk: DefaultPlanningChunk,
	}
}

// Validate checks that the timings can drive a calculation stream.
func (t Timings) Validate() error {
	var errs []error
	if !t.Grid.Valid() {
		errs = append(errs, fmt.Errorf("invalid frame rate %d/%d", t.Grid.Rate.Num, t.Grid.Rate.Den))
	}
	switch t.Urgency {
	case ASAP, NICE:
	case TIMEBOUND:
		if t.ScheduledDelivery.IsZero() {
			errs = append(errs, errors.New("timebound playback requires a scheduled delivery time"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown urgency %d", int(t.Urgency)))
	}
	if t.PlanningChunk < 0 {
		errs = append(errs, fmt.Errorf("negative planning chunk %s", t.PlanningChunk))
	}
	if t.OutputLatency < 0 || t.EngineLatency < 0 {
		errs = append(errs, errors.New("latencies must not be negative"))
	}
	return errors.Join(errs...)
}

// TotalLatency is the engine plus output latency.
func (t Timings) TotalLatency() time.Duration {
	return t.EngineLatency + t.OutputLatency
}

// FrameStartAt returns the nominal start time of a frame on the grid.
func (t Timings) FrameStartAt(frame int64) time.Duration {
	return t.Grid.FrameStart(frame)
}

// TimeDue returns the wall-clock time at which the given frame has to be
// delivered at the output. Meaningful for TIMEBOUND streams only.
func (t Timings) TimeDue(frame int64) time.Time {
	return t.ScheduledDelivery.Add(t.Grid.Distance(t.DeliveryFrame, frame))
}

// ChunkFrames is the number of frames planned per chunk, at least one.
func (t Timings) ChunkFrames() int64 {
	chunk := t.PlanningChunk
	if chunk == 0 {
		chunk = DefaultPlanningChunk
	}
	n := t.Grid.FramesIn(chunk)
	if n < 1 {
		n = 1
	}
	return n
}

// NextChunkStart returns the first frame of the planning chunk following the
// chunk starting at frame. Consecutive chunks cover the grid seamlessly.
func (t Timings) NextChunkStart(frame int64) int64 {
	return frame + t.ChunkFrames()
}
