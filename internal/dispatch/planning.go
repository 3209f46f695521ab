package dispatch

import (
	"time"

	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
)

// Planning is the plan for one job: a ticket, the frame it computes, the
// time by which its result is needed and the deadline by which the job has to
// start. Prerequisite plans hang off their dependent plan and get earlier
// deadlines.
type Planning struct {
	ticket   *job.Ticket
	coord    frame.Coord
	parent   *Planning
	due      time.Time
	deadline time.Time
}

func newPlanning(tk *job.Ticket, coord frame.Coord, timings frame.Timings) Planning {
	p := Planning{ticket: tk, coord: coord}
	p.due = p.determineDue(timings)
	p.deadline = p.DetermineDeadline(timings)
	return p
}

// Ticket returns the ticket the job will be created from.
func (p Planning) Ticket() *job.Ticket { return p.ticket }

// Coord returns the planned frame, carrying the delivery deadline.
func (p Planning) Coord() frame.Coord { return p.coord }

// Deadline is the latest start time computed for the job.
func (p Planning) Deadline() time.Time { return p.deadline }

// Due is the time by which the job's result has to be available.
func (p Planning) Due() time.Time { return p.due }

// IsTopLevel reports whether the plan delivers to the output directly.
func (p Planning) IsTopLevel() bool { return p.parent == nil }

// Depth is the number of dependents above this plan.
func (p Planning) Depth() int {
	d := 0
	for q := p.parent; q != nil; q = q.parent {
		d++
	}
	return d
}

// DetermineDeadline computes the start deadline under the given timings: the
// job's result is due minus its own expected runtime.
//
// TIMEBOUND: a top-level result is due by the frame's due time minus output
// latency and engine latency; each prerequisite result is due by the start
// deadline of its dependent, minus engine latency.
// ASAP and NICE: top-level jobs use the delivery deadline relative to the
// stream anchor; prerequisites are back-propagated the same way.
func (p Planning) DetermineDeadline(t frame.Timings) time.Time {
	due := p.determineDue(t)
	if p.parent == nil && t.Urgency != frame.TIMEBOUND {
		return due
	}
	return due.Add(-p.ticket.ExpectedRuntime())
}

func (p Planning) determineDue(t frame.Timings) time.Time {
	switch {
	case p.parent != nil:
		return p.parent.deadline.Add(-t.EngineLatency)
	case t.Urgency == frame.TIMEBOUND:
		return t.TimeDue(p.coord.FrameNumber).Add(-(t.EngineLatency + t.OutputLatency))
	default:
		return p.coord.RealDeadline
	}
}

// Prerequisites returns the plans of the ticket's prerequisites for the same
// frame.
func (p Planning) Prerequisites(t frame.Timings) []Planning {
	pres := p.ticket.Prerequisites()
	if len(pres) == 0 {
		return nil
	}
	parent := p
	out := make([]Planning, 0, len(pres))
	for _, tk := range pres {
		pre := Planning{ticket: tk, coord: p.coord, parent: &parent}
		pre.due = pre.determineDue(t)
		pre.deadline = pre.DetermineDeadline(t)
		out = append(out, pre)
	}
	return out
}

// Expand lists this plan and all transitive prerequisites, every
// prerequisite ahead of the plan depending on it.
func (p Planning) Expand(t frame.Timings) []Planning {
	var out []Planning
	for _, pre := range p.Prerequisites(t) {
		out = append(out, pre.Expand(t)...)
	}
	return append(out, p)
}

// BuildJob creates the job. Its coordinate carries the time the result is
// due; the start deadline travels separately.
func (p Planning) BuildJob() (*job.Job, error) {
	return p.ticket.CreateJobFor(p.coord.WithDeadline(p.due), job.StartBy(p.deadline))
}
