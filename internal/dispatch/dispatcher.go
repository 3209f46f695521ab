package dispatch

import (
	"fmt"
	"time"

	"github.com/roach88/framejobs/internal/fixture"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/port"
)

// Dispatcher maps frames of a calculation stream to job tickets.
type Dispatcher interface {
	// OnCalcStream starts planning for one channel of a port.
	OnCalcStream(p port.ModelPort, channel uint) (*JobBuilder, error)

	// LocateRelative returns the coordinate offset frames away from c.
	// The result is always a dispatchable frame; otherwise an error.
	LocateRelative(c frame.Coord, offset int64) (frame.Coord, error)

	// IsEndOfChunk reports whether planning frameCount frames ahead for
	// the port is enough for one chunk.
	IsEndOfChunk(frameCount int64, p port.ModelPort) bool

	// AccessJobTicket returns the ticket computing port p at nominal time t.
	// Idempotent and free of side effects.
	AccessJobTicket(p port.ModelPort, t time.Duration) (*job.Ticket, error)
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithChunkLimit caps the number of frames planned per chunk, on top of the
// stream's planning chunk duration. Zero leaves the chunk to the timings.
func WithChunkLimit(frames int64) TableOption {
	return func(t *Table) {
		if frames >= 0 {
			t.chunkLimit = frames
		}
	}
}

// Table is the dispatch table of the render engine: it resolves ports
// through the registry and times through the segmentation. Both are owned by
// the engine lifecycle and passed in explicitly.
type Table struct {
	ports      *port.Registry
	segments   *fixture.Segmentation
	chunkLimit int64
}

var _ Dispatcher = (*Table)(nil)

// NewTable creates a dispatch table.
func NewTable(ports *port.Registry, segments *fixture.Segmentation, opts ...TableOption) *Table {
	t := &Table{ports: ports, segments: segments}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Segmentation returns the segmentation the table dispatches on.
func (t *Table) Segmentation() *fixture.Segmentation {
	return t.segments
}

// Ports returns the port registry.
func (t *Table) Ports() *port.Registry {
	return t.ports
}

// TimelineRange returns the span of nominal time in which some segment
// produces output for p.
func (t *Table) TimelineRange(p port.ModelPort) (start, after time.Duration, ok bool) {
	return t.segments.Range(p)
}

func (t *Table) checkPort(p port.ModelPort) error {
	if _, err := t.ports.Lookup(p); err != nil {
		return &PlanningError{Code: ErrCodeUnknownPort, Message: "model port not usable for planning", Port: p, Err: err}
	}
	return nil
}

// OnCalcStream starts planning for one channel of a port.
func (t *Table) OnCalcStream(p port.ModelPort, channel uint) (*JobBuilder, error) {
	if err := t.checkPort(p); err != nil {
		return nil, err
	}
	if _, _, ok := t.segments.Range(p); !ok {
		return nil, &PlanningError{Code: ErrCodeOutsideTimeline,
			Message: "no segment of the timeline feeds this port", Port: p}
	}
	return &JobBuilder{dispatcher: t, port: p, channel: channel}, nil
}

// LocateRelative moves offset frames along the coordinate's grid. Crossing a
// segment boundary needs no special treatment since frame numbers are
// continuous on the grid; the target segment is checked to actually produce
// output for the port.
func (t *Table) LocateRelative(c frame.Coord, offset int64) (frame.Coord, error) {
	if !c.IsDefined() {
		return frame.Undefined, &PlanningError{Code: ErrCodeNoSuchFrame,
			Message: "cannot locate relative to an undefined frame"}
	}
	if err := t.checkPort(c.Port); err != nil {
		return frame.Undefined, err
	}
	target := c.Shift(offset)
	if _, err := t.ticketAt(c.Port, target.NominalTime); err != nil {
		return frame.Undefined, err
	}
	return target, nil
}

// IsEndOfChunk applies the table's chunk limit.
func (t *Table) IsEndOfChunk(frameCount int64, _ port.ModelPort) bool {
	return t.chunkLimit > 0 && frameCount >= t.chunkLimit
}

// AccessJobTicket resolves the segment covering tm and returns its ticket
// for port p.
func (t *Table) AccessJobTicket(p port.ModelPort, tm time.Duration) (*job.Ticket, error) {
	if err := t.checkPort(p); err != nil {
		return nil, err
	}
	return t.ticketAt(p, tm)
}

func (t *Table) ticketAt(p port.ModelPort, tm time.Duration) (*job.Ticket, error) {
	seg := t.segments.SegmentAt(tm)
	if tk, ok := seg.TicketFor(p); ok {
		return tk, nil
	}

	perr := &PlanningError{Code: ErrCodeOutsideTimeline, Port: p, Time: tm}
	start, after, ok := t.segments.Range(p)
	switch {
	case !ok || tm >= after:
		perr.Message = "beyond the end of the timeline"
		perr.Beyond = true
	case tm < start:
		perr.Message = "before the start of the timeline"
	case seg.IsNOP():
		perr.Message = fmt.Sprintf("gap in the timeline at %s", seg)
	default:
		perr.Code = ErrCodeNoSuchFrame
		perr.Message = fmt.Sprintf("port produces no output in %s", seg)
	}
	return nil, perr
}
