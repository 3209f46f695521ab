package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate is a frame rate expressed as the rational Num/Den frames per second.
type Rate struct {
	Num int64
	Den int64
}

// Common frame rates.
var (
	FPS24    = Rate{Num: 24, Den: 1}
	FPS25    = Rate{Num: 25, Den: 1}
	FPS30    = Rate{Num: 30, Den: 1}
	NTSC     = Rate{Num: 30000, Den: 1001}
	FPS50    = Rate{Num: 50, Den: 1}
	FilmNTSC = Rate{Num: 24000, Den: 1001}
)

// Valid reports whether the rate denotes a positive frame rate.
func (r Rate) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rate) String() string {
	if r.Den == 1 {
		return fmt.Sprintf("%dfps", r.Num)
	}
	return fmt.Sprintf("%d/%dfps", r.Num, r.Den)
}

// ParseRate accepts "25", "25fps" or a rational "30000/1001".
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "fps")
	num, den, rational := strings.Cut(s, "/")
	r := Rate{Den: 1}
	var err error
	if r.Num, err = strconv.ParseInt(num, 10, 64); err != nil {
		return Rate{}, fmt.Errorf("parse frame rate %q: %w", s, err)
	}
	if rational {
		if r.Den, err = strconv.ParseInt(den, 10, 64); err != nil {
			return Rate{}, fmt.Errorf("parse frame rate %q: %w", s, err)
		}
	}
	if !r.Valid() {
		return Rate{}, fmt.Errorf("frame rate %q is not positive", s)
	}
	return r, nil
}

// FrameDuration is the nominal duration of one frame, truncated to nanoseconds.
func (r Rate) FrameDuration() time.Duration {
	return time.Duration(r.Den * int64(time.Second) / r.Num)
}

// Grid quantises nominal timeline time into frames. Frame n covers the
// half-open interval [FrameStart(n), FrameStart(n+1)).
//
// All arithmetic is exact integer arithmetic on nanoseconds, so converting a
// frame number to its start time and back always yields the same frame, for
// any rate including the fractional NTSC family.
type Grid struct {
	Rate   Rate
	Origin time.Duration // nominal time of frame 0
}

// NewGrid creates a grid with frame 0 at the given origin.
func NewGrid(rate Rate, origin time.Duration) Grid {
	return Grid{Rate: rate, Origin: origin}
}

// Valid reports whether the grid can be used for quantisation.
func (g Grid) Valid() bool {
	return g.Rate.Valid()
}

// nanosPerFrameNumerator is Den seconds in nanoseconds: one frame spans
// nanosPerFrameNumerator/Num nanoseconds.
func (g Grid) nanosPerFrameNumerator() int64 {
	return g.Rate.Den * int64(time.Second)
}

// FrameAt returns the frame containing nominal time t. Times before the origin
// yield negative frame numbers (floor semantics).
func (g Grid) FrameAt(t time.Duration) int64 {
	return floorScale(int64(t-g.Origin), g.Rate.Num, g.nanosPerFrameNumerator())
}

// FrameStart returns the first nanosecond belonging to frame n.
func (g Grid) FrameStart(n int64) time.Duration {
	return g.Origin + time.Duration(ceilScale(n, g.nanosPerFrameNumerator(), g.Rate.Num))
}

// Distance is the nominal time spanned between the starts of two frames.
// Distance(a, b) == -Distance(b, a) holds exactly.
func (g Grid) Distance(from, to int64) time.Duration {
	return g.FrameStart(to) - g.FrameStart(from)
}

// FramesIn returns how many frame starts fall into a span of the given length,
// rounded up, at least 1 for a positive span.
func (g Grid) FramesIn(span time.Duration) int64 {
	if span <= 0 {
		return 0
	}
	return ceilScale(int64(span), g.Rate.Num, g.nanosPerFrameNumerator())
}

// floorScale computes floor(n*mul/div) for div > 0 without overflowing for
// the magnitudes used here (n up to ~1e13, mul/div up to ~1e12).
func floorScale(n, mul, div int64) int64 {
	q, r := n/div, n%div
	if r < 0 {
		q--
		r += div
	}
	return q*mul + (r*mul)/div
}

// ceilScale computes ceil(n*mul/div) for div > 0.
func ceilScale(n, mul, div int64) int64 {
	return -floorScale(-n, mul, div)
}
