package fixture

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/framejobs/internal/port"
)

type snapshot struct {
	version  uint64
	segments []*Segment
}

// Segmentation is the ordered segment list of the timeline.
//
// Thread-safety: readers work on immutable snapshots and are safe from any
// goroutine. Splices are serialized.
type Segmentation struct {
	mu      sync.Mutex
	nextID  uint64
	current atomic.Pointer[snapshot]
}

// New creates a segmentation consisting of a single NOP segment covering
// all of time.
func New() *Segmentation {
	s := &Segmentation{}
	nop, _ := newSegment(0, TimeMin, TimeMax, nil)
	s.current.Store(&snapshot{segments: []*Segment{nop}})
	return s
}

// Version increments with every successful splice.
func (s *Segmentation) Version() uint64 {
	return s.current.Load().version
}

// Segments returns the current segments in time order.
func (s *Segmentation) Segments() []*Segment {
	segs := s.current.Load().segments
	out := make([]*Segment, len(segs))
	copy(out, segs)
	return out
}

// SegmentAt returns the segment covering nominal time t. There always is one.
func (s *Segmentation) SegmentAt(t time.Duration) *Segment {
	segs := s.current.Load().segments
	i := sort.Search(len(segs), func(i int) bool { return segs[i].after > t })
	if i == len(segs) {
		// only t == TimeMax falls off the end
		return segs[len(segs)-1]
	}
	return segs[i]
}

// Range returns the span from the first to the end of the last segment that
// wires port p. ok is false if no segment feeds the port.
func (s *Segmentation) Range(p port.ModelPort) (start, after time.Duration, ok bool) {
	for _, seg := range s.current.Load().segments {
		if _, has := seg.tickets[p]; !has {
			continue
		}
		if !ok {
			start, ok = seg.start, true
		}
		after = seg.after
	}
	return start, after, ok
}

// SplitSplice inserts a segment spanning [start, after) with the given
// tickets. Segments overlapping the range are cut back or removed; every
// segment touched is replaced by a fresh one and marked obsolete, so jobs
// planned against it fail verification. Splicing with no tickets clears the
// range back to NOP.
//
// On error the segmentation is left unchanged.
func (s *Segmentation) SplitSplice(start, after time.Duration, tickets []TicketBuild) (*Segment, error) {
	if start >= after {
		return nil, &FixtureError{Code: ErrCodeInvalidRange,
			Message: fmt.Sprintf("empty segment range [%s, %s)", fmtBound(start), fmtBound(after))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	next := make([]*Segment, 0, len(old.segments)+2)
	var replaced []*Segment
	id := s.nextID

	inserted, err := newSegment(id+1, start, after, tickets)
	if err != nil {
		return nil, err
	}
	id++

	for _, seg := range old.segments {
		if seg.after <= start || seg.start >= after {
			next = append(next, seg)
			continue
		}
		replaced = append(replaced, seg)
		if seg.start < start {
			id++
			head, err := newSegment(id, seg.start, start, seg.builds)
			if err != nil {
				return nil, err
			}
			next = append(next, head)
		}
		if seg.after > after {
			id++
			tail, err := newSegment(id, after, seg.after, seg.builds)
			if err != nil {
				return nil, err
			}
			next = append(next, tail)
		}
	}
	next = append(next, inserted)
	sort.Slice(next, func(i, j int) bool { return next[i].start < next[j].start })

	s.nextID = id
	s.current.Store(&snapshot{version: old.version + 1, segments: next})
	for _, seg := range replaced {
		seg.obsolete.Store(true)
	}
	return inserted, nil
}

// Clear returns [start, after) to NOP.
func (s *Segmentation) Clear(start, after time.Duration) error {
	_, err := s.SplitSplice(start, after, nil)
	return err
}
