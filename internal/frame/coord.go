package frame

import (
	"fmt"
	"time"

	"github.com/roach88/framejobs/internal/port"
)

// Coord identifies one frame's worth of output: which frame, on which model
// port and channel, at which nominal time and by which real-time deadline.
//
// A Coord is either fully defined or undefined. The zero value is undefined,
// and undefined coordinates are never dispatched.
type Coord struct {
	NominalTime  time.Duration
	FrameNumber  int64
	RealDeadline time.Time
	Port         port.ModelPort
	Channel      uint

	grid    Grid
	defined bool
}

// Undefined is the explicit "no such frame" coordinate.
var Undefined = Coord{}

// NewCoord builds a defined coordinate for a frame on the given grid.
// The nominal time is derived from the grid, never supplied separately, so
// time and frame number are consistent by construction.
func NewCoord(g Grid, frameNr int64, deadline time.Time, p port.ModelPort, channel uint) Coord {
	return Coord{
		NominalTime:  g.FrameStart(frameNr),
		FrameNumber:  frameNr,
		RealDeadline: deadline,
		Port:         p,
		Channel:      channel,
		grid:         g,
		defined:      true,
	}
}

// IsDefined reports whether the coordinate denotes an actual frame.
func (c Coord) IsDefined() bool {
	return c.defined && !c.Port.IsNil() && c.grid.Valid()
}

// Grid returns the frame grid the coordinate was computed on.
func (c Coord) Grid() Grid {
	return c.grid
}

// Shift returns the coordinate frameOffset frames away on the same grid,
// port and channel. The deadline moves by the nominal distance between the two
// frames, so Shift(n).Shift(-n) reproduces c exactly. Shifting an undefined
// coordinate yields Undefined.
func (c Coord) Shift(frameOffset int64) Coord {
	if !c.IsDefined() {
		return Undefined
	}
	target := c.FrameNumber + frameOffset
	return NewCoord(c.grid, target,
		c.RealDeadline.Add(c.grid.Distance(c.FrameNumber, target)),
		c.Port, c.Channel)
}

// WithDeadline returns the same frame with another real-time deadline.
func (c Coord) WithDeadline(deadline time.Time) Coord {
	if !c.IsDefined() {
		return Undefined
	}
	c.RealDeadline = deadline
	return c
}

// Equal compares coordinates, using time.Time.Equal for the deadline.
func (c Coord) Equal(o Coord) bool {
	if !c.IsDefined() || !o.IsDefined() {
		return c.IsDefined() == o.IsDefined()
	}
	return c.FrameNumber == o.FrameNumber &&
		c.NominalTime == o.NominalTime &&
		c.RealDeadline.Equal(o.RealDeadline) &&
		c.Port == o.Port &&
		c.Channel == o.Channel &&
		c.grid == o.grid
}

func (c Coord) String() string {
	if !c.IsDefined() {
		return "frame(undefined)"
	}
	return fmt.Sprintf("frame(#%d @%s %s ch%d)", c.FrameNumber, c.NominalTime, c.Port, c.Channel)
}
