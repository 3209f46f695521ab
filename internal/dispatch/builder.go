package dispatch

import (
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/port"
)

// JobBuilder plans the frames of one channel of one port.
// Not safe for concurrent use; one builder per stream.
type JobBuilder struct {
	dispatcher Dispatcher
	port       port.ModelPort
	channel    uint
}

// Port returns the port being planned.
func (b *JobBuilder) Port() port.ModelPort { return b.port }

// Channel returns the channel being planned.
func (b *JobBuilder) Channel() uint { return b.channel }

// RelativeFrameLocation returns the frame offset frames from the anchor.
// Negative offsets look behind.
func (b *JobBuilder) RelativeFrameLocation(anchor frame.TimeAnchor, offset int64) (frame.Coord, error) {
	start := frame.NewCoord(anchor.Timings().Grid, anchor.StartFrame(), anchor.RealTime(), b.port, b.channel)
	return b.dispatcher.LocateRelative(start, offset)
}

// Chunk is the outcome of planning one chunk.
type Chunk struct {
	Anchor frame.TimeAnchor

	// Plans holds the top-level plans in nominal time order.
	Plans []Planning

	// Skipped counts frames without output, e.g. in timeline gaps.
	Skipped int

	// Next is the start frame of the following chunk.
	Next int64

	// EndOfTimeline is set once planning ran past the timeline's end.
	EndOfTimeline bool
}

// Jobs expands the chunk's plans, prerequisites first, and builds the jobs in
// that order.
func (c Chunk) Jobs() ([]*job.Job, error) {
	t := c.Anchor.Timings()
	jobs := make([]*job.Job, 0, len(c.Plans))
	for _, top := range c.Plans {
		for _, p := range top.Expand(t) {
			j, err := p.BuildJob()
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// PlanChunk plans the frames from the anchor up to the end of the chunk. The
// chunk ends at the timings' planning chunk, when the dispatcher says so or
// at the end of the timeline. Frames without output are skipped.
func (b *JobBuilder) PlanChunk(anchor frame.TimeAnchor) (Chunk, error) {
	timings := anchor.Timings()
	limit := timings.ChunkFrames()
	chunk := Chunk{Anchor: anchor}

	var offset int64
	for ; offset < limit && !b.dispatcher.IsEndOfChunk(offset, b.port); offset++ {
		coord, err := b.RelativeFrameLocation(anchor, offset)
		switch {
		case IsEndOfTimeline(err):
			chunk.EndOfTimeline = true
		case IsOutsideTimeline(err), HasCode(err, ErrCodeNoSuchFrame):
			chunk.Skipped++
			continue
		case err != nil:
			return Chunk{}, err
		}
		if chunk.EndOfTimeline {
			break
		}

		tk, err := b.dispatcher.AccessJobTicket(b.port, coord.NominalTime)
		if err != nil {
			return Chunk{}, err
		}
		chunk.Plans = append(chunk.Plans, newPlanning(tk, coord, timings))
	}
	chunk.Next = anchor.StartFrame() + offset
	return chunk, nil
}
