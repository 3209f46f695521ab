package fixture

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/port"
)

// Unbounded ends of the timeline.
const (
	TimeMin = time.Duration(math.MinInt64)
	TimeMax = time.Duration(math.MaxInt64)
)

// TicketBuild tells the segmentation which ticket to build for a port.
type TicketBuild struct {
	Port port.ModelPort
	Spec job.TicketSpec
}

// Segment is a maximal span [Start, After) of constant wiring.
type Segment struct {
	id      uint64
	start   time.Duration
	after   time.Duration
	builds  []TicketBuild
	tickets map[port.ModelPort]*job.Ticket

	obsolete atomic.Bool
}

// newSegment creates the segment and builds its tickets bound to it.
func newSegment(id uint64, start, after time.Duration, builds []TicketBuild) (*Segment, error) {
	s := &Segment{
		id:      id,
		start:   start,
		after:   after,
		builds:  builds,
		tickets: make(map[port.ModelPort]*job.Ticket, len(builds)),
	}
	for _, b := range builds {
		if b.Port.IsNil() {
			return nil, &FixtureError{Code: ErrCodeInvalidTicket, Message: "ticket for the NIL port"}
		}
		if _, dup := s.tickets[b.Port]; dup {
			return nil, &FixtureError{Code: ErrCodeDuplicatePort,
				Message: fmt.Sprintf("segment defines %s twice", b.Port)}
		}
		t, err := job.NewTicket(b.Spec, s)
		if err != nil {
			return nil, &FixtureError{Code: ErrCodeInvalidTicket,
				Message: fmt.Sprintf("build ticket for %s", b.Port), Err: err}
		}
		s.tickets[b.Port] = t
	}
	return s, nil
}

// ID is unique within the segmentation.
func (s *Segment) ID() uint64 { return s.id }

// Start is the first nominal time covered.
func (s *Segment) Start() time.Duration { return s.start }

// After is the first nominal time no longer covered.
func (s *Segment) After() time.Duration { return s.after }

// Covers reports whether nominal time t lies in [Start, After).
func (s *Segment) Covers(t time.Duration) bool {
	return s.start <= t && t < s.after
}

// Obsolete reports whether the segment was replaced by a later splice.
func (s *Segment) Obsolete() bool {
	return s.obsolete.Load()
}

// Key identifies the segment for ticket identities.
func (s *Segment) Key() string {
	return fmt.Sprintf("seg%d[%d,%d)", s.id, int64(s.start), int64(s.after))
}

// IsNOP reports whether the segment lies outside the timeline, i.e. carries
// no tickets at all.
func (s *Segment) IsNOP() bool {
	return len(s.tickets) == 0
}

// TicketFor returns the ticket of the port within this segment.
func (s *Segment) TicketFor(p port.ModelPort) (*job.Ticket, bool) {
	t, ok := s.tickets[p]
	return t, ok
}

// Ports lists the ports wired in this segment, ordered by ID.
func (s *Segment) Ports() []port.ModelPort {
	out := make([]port.ModelPort, 0, len(s.tickets))
	for p := range s.tickets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Segment) String() string {
	kind := "segment"
	if s.IsNOP() {
		kind = "nop"
	}
	return fmt.Sprintf("%s#%d[%s, %s)", kind, s.id, fmtBound(s.start), fmtBound(s.after))
}

func fmtBound(t time.Duration) string {
	switch t {
	case TimeMin:
		return "-inf"
	case TimeMax:
		return "+inf"
	default:
		return t.String()
	}
}
