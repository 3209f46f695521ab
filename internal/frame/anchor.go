package frame

import "time"

// Clock supplies wall-clock time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// TimeAnchor binds a frame on the stream's grid to a real wall-clock time.
//
// Planning proceeds in chunks; each chunk starts at a TimeAnchor and
// everything before it counts as planned. The anchor is where nominal time
// is related to real time, so every deadline of the chunk is computed from
// it. The successor anchor sits at the first frame after the chunk.
//
// TimeAnchor is immutable.
type TimeAnchor struct {
	timings         Timings
	anchorPoint     int64
	relatedRealTime time.Time
}

// NewTimeAnchor anchors startFrame. ASAP and NICE streams are anchored at the
// current time plus start delay and latencies; TIMEBOUND streams at the
// frame's due time minus the latencies.
func NewTimeAnchor(timings Timings, startFrame int64, startDelay time.Duration, clock Clock) TimeAnchor {
	return TimeAnchor{
		timings:         timings,
		anchorPoint:     startFrame,
		relatedRealTime: expectedTimeOfArrival(timings, startFrame, startDelay, clock),
	}
}

func expectedTimeOfArrival(t Timings, startFrame int64, startDelay time.Duration, clock Clock) time.Time {
	totalLatency := startDelay + t.TotalLatency()
	if t.Urgency == TIMEBOUND {
		return t.TimeDue(startFrame).Add(-totalLatency)
	}
	return clock.Now().Add(totalLatency)
}

// Timings returns the timing configuration the anchor was computed with.
func (a TimeAnchor) Timings() Timings {
	return a.timings
}

// StartFrame is the first frame planned from this anchor.
func (a TimeAnchor) StartFrame() int64 {
	return a.anchorPoint
}

// NominalTime is the grid time of the anchor frame.
func (a TimeAnchor) NominalTime() time.Duration {
	return a.timings.FrameStartAt(a.anchorPoint)
}

// RealTime is the wall-clock time related to the anchor frame.
func (a TimeAnchor) RealTime() time.Time {
	return a.relatedRealTime
}

// EstablishDeadlineFor returns the wall-clock deadline of the frame at the
// given offset from the anchor. Results must be delivered before it.
func (a TimeAnchor) EstablishDeadlineFor(frameOffset int64) time.Time {
	return a.relatedRealTime.Add(a.timings.Grid.Distance(a.anchorPoint, a.anchorPoint+frameOffset))
}

// RemainingRealTimeFor reports how much wall-clock time is left until the
// planned frame's deadline. Negative once the deadline has passed.
func (a TimeAnchor) RemainingRealTimeFor(planned Coord, clock Clock) time.Duration {
	offset := planned.FrameNumber - a.anchorPoint
	return a.EstablishDeadlineFor(offset).Sub(clock.Now())
}

// NextAnchorPoint is the start frame of the follow-up planning chunk.
func (a TimeAnchor) NextAnchorPoint() int64 {
	return a.timings.NextChunkStart(a.anchorPoint)
}

// Next builds the anchor of the follow-up chunk. The relation to real time
// is established anew, so latency adjustments show up in later deadlines.
func (a TimeAnchor) Next(clock Clock) TimeAnchor {
	return NewTimeAnchor(a.timings, a.NextAnchorPoint(), 0, clock)
}

// WithTimings returns an anchor for the same frame re-evaluated under new
// timings, e.g. after an engine latency change.
func (a TimeAnchor) WithTimings(t Timings, clock Clock) TimeAnchor {
	return NewTimeAnchor(t, a.anchorPoint, 0, clock)
}
