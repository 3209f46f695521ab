package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/framejobs/internal/port"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testPort(t *testing.T) port.ModelPort {
	t.Helper()
	r := port.NewRegistry()
	tx, err := r.Begin()
	require.NoError(t, err)
	p, err := tx.Define("video", "video/raw")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return p
}

func TestGrid_FrameAtFrameStartRoundTrip(t *testing.T) {
	rates := []Rate{FPS24, FPS25, FPS30, NTSC, FilmNTSC, FPS50}
	for _, rate := range rates {
		t.Run(rate.String(), func(t *testing.T) {
			g := NewGrid(rate, 0)
			for n := int64(-100); n <= 100_000; n += 997 {
				assert.Equal(t, n, g.FrameAt(g.FrameStart(n)), "frame %d", n)
				assert.Equal(t, n-1, g.FrameAt(g.FrameStart(n)-1), "last ns before frame %d", n)
			}
		})
	}
}

func TestGrid_25fps(t *testing.T) {
	g := NewGrid(FPS25, 0)

	assert.Equal(t, 40*time.Millisecond, g.FrameStart(1))
	assert.Equal(t, int64(62), g.FrameAt(2490*time.Millisecond))
	assert.Equal(t, int64(62), g.FrameAt(2499*time.Millisecond))
	assert.Equal(t, int64(62), g.FrameAt(2480*time.Millisecond))
	assert.Equal(t, int64(-1), g.FrameAt(-time.Millisecond))
	assert.Equal(t, int64(125), g.FramesIn(5*time.Second))
}

func TestGrid_Origin(t *testing.T) {
	g := NewGrid(FPS25, time.Second)
	assert.Equal(t, int64(0), g.FrameAt(time.Second))
	assert.Equal(t, int64(-25), g.FrameAt(0))
	assert.Equal(t, time.Second+40*time.Millisecond, g.FrameStart(1))
}

func TestGrid_DistanceAntisymmetric(t *testing.T) {
	g := NewGrid(NTSC, 0)
	for _, pair := range [][2]int64{{0, 1}, {3, 17}, {-5, 1000}, {12345, 12}} {
		assert.Equal(t, g.Distance(pair[0], pair[1]), -g.Distance(pair[1], pair[0]))
	}
}

func TestTimings_Validate(t *testing.T) {
	good := DefaultTimings(FPS25)
	assert.NoError(t, good.Validate())

	bad := good
	bad.Grid.Rate = Rate{}
	assert.Error(t, bad.Validate())

	tb := good
	tb.Urgency = TIMEBOUND
	assert.Error(t, tb.Validate(), "timebound without delivery time")
	tb.ScheduledDelivery = epoch
	assert.NoError(t, tb.Validate())
}

func TestTimings_ChunkFrames(t *testing.T) {
	tm := DefaultTimings(FPS25)
	assert.Equal(t, int64(5), tm.ChunkFrames())
	assert.Equal(t, int64(15), tm.NextChunkStart(10))

	tm.PlanningChunk = time.Millisecond
	assert.Equal(t, int64(1), tm.ChunkFrames())
}

func TestCoord_UndefinedByDefault(t *testing.T) {
	var c Coord
	assert.False(t, c.IsDefined())
	assert.False(t, c.Shift(3).IsDefined())
	assert.True(t, c.Equal(Undefined))
}

func TestCoord_ShiftRoundTrip(t *testing.T) {
	p := testPort(t)
	g := NewGrid(NTSC, 0)
	c := NewCoord(g, 100, epoch, p, 1)

	for _, n := range []int64{-100, -1, 0, 1, 7, 2999} {
		assert.True(t, c.Shift(n).Shift(-n).Equal(c), "offset %d", n)
	}
	next := c.Shift(1)
	assert.Equal(t, int64(101), next.FrameNumber)
	assert.True(t, next.RealDeadline.After(c.RealDeadline))
	assert.Equal(t, g.FrameStart(101), next.NominalTime)
}

func TestCoord_WithDeadline(t *testing.T) {
	p := testPort(t)
	c := NewCoord(NewGrid(FPS25, 0), 5, epoch, p, 0)
	moved := c.WithDeadline(epoch.Add(-time.Second))

	assert.Equal(t, c.FrameNumber, moved.FrameNumber)
	assert.True(t, moved.RealDeadline.Equal(epoch.Add(-time.Second)))
	assert.False(t, moved.Equal(c))
	assert.False(t, Undefined.WithDeadline(epoch).IsDefined())
}

func TestTimeAnchor_ASAPDeadlines(t *testing.T) {
	clock := fixedClock{now: epoch}
	tm := DefaultTimings(FPS25)
	tm.EngineLatency = 10 * time.Millisecond
	tm.OutputLatency = 5 * time.Millisecond

	a := NewTimeAnchor(tm, 0, 0, clock)
	assert.Equal(t, epoch.Add(15*time.Millisecond), a.RealTime())

	d0, d1, d2 := a.EstablishDeadlineFor(0), a.EstablishDeadlineFor(1), a.EstablishDeadlineFor(2)
	assert.True(t, d0.Before(d1))
	assert.True(t, d1.Before(d2))
	assert.Equal(t, 40*time.Millisecond, d1.Sub(d0))
}

func TestTimeAnchor_Timebound(t *testing.T) {
	clock := fixedClock{now: epoch}
	tm := DefaultTimings(FPS25)
	tm.Urgency = TIMEBOUND
	tm.ScheduledDelivery = epoch.Add(time.Second)
	tm.DeliveryFrame = 0
	tm.OutputLatency = 20 * time.Millisecond

	a := NewTimeAnchor(tm, 25, 0, clock)
	assert.Equal(t, epoch.Add(2*time.Second-20*time.Millisecond), a.RealTime())

	p := testPort(t)
	c := NewCoord(tm.Grid, 26, a.EstablishDeadlineFor(1), p, 0)
	assert.Equal(t, 2*time.Second+20*time.Millisecond, a.RemainingRealTimeFor(c, clock))
}

func TestTimeAnchor_Next(t *testing.T) {
	clock := fixedClock{now: epoch}
	a := NewTimeAnchor(DefaultTimings(FPS25), 10, 0, clock)

	n := a.Next(clock)
	assert.Equal(t, int64(15), n.StartFrame())
	assert.Equal(t, 600*time.Millisecond, n.NominalTime())
}

func TestParseUrgency(t *testing.T) {
	for _, u := range []Urgency{ASAP, NICE, TIMEBOUND} {
		got, err := ParseUrgency(u.String())
		require.NoError(t, err)
		assert.Equal(t, u, got)
	}
	_, err := ParseUrgency("whenever")
	assert.Error(t, err)
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want Rate
		err  bool
	}{
		{in: "25", want: FPS25},
		{in: "24fps", want: FPS24},
		{in: "30000/1001", want: NTSC},
		{in: " 50 ", want: FPS50},
		{in: "0", err: true},
		{in: "25/0", err: true},
		{in: "fast", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
