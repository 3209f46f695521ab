package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
)

func TestFakeClock(t *testing.T) {
	var c frame.Clock = NewFakeClock()
	assert.Equal(t, Epoch, c.Now())

	fc := c.(*FakeClock)
	assert.Equal(t, Epoch.Add(time.Second), fc.Advance(time.Second))
	fc.Set(Epoch)
	assert.Equal(t, Epoch, fc.Now())
}

type span struct{}

func (span) Covers(time.Duration) bool { return true }

func (span) Obsolete() bool { return false }

func (span) Key() string { return "all" }

func scriptedJobs(t *testing.T, fn *ScriptedFunctor, provider buffer.Provider, frames ...int64) []*job.Job {
	t.Helper()
	tl := NewTimeline(t, "video")
	tk, err := job.NewTicket(job.TicketSpec{PipelineID: "p", Functor: fn, Provider: provider}, span{})
	require.NoError(t, err)
	grid := frame.NewGrid(frame.FPS25, 0)
	out := make([]*job.Job, 0, len(frames))
	for _, n := range frames {
		j, err := tk.CreateJobFor(frame.NewCoord(grid, n, Epoch, tl.Port("video"), 0))
		require.NoError(t, err)
		out = append(out, j)
	}
	return out
}

func TestRecordingScheduler_RunAll(t *testing.T) {
	provider := buffer.NewTrackingProvider()
	fn := &ScriptedFunctor{JobKind: job.CalcJob, Buffers: []int{64, 64}, Emit: true}
	s := NewRecordingScheduler()
	for _, j := range scriptedJobs(t, fn, provider, 0, 1, 2) {
		require.NoError(t, s.Schedule(j))
	}
	assert.Equal(t, 3, s.Count())

	var done sync.Map
	require.NoError(t, s.RunAll(context.Background(), func(j *job.Job, err error) {
		done.Store(j.Coord().FrameNumber, err)
	}))
	assert.Zero(t, s.Count())
	assert.Equal(t, []int64{0, 1, 2}, fn.Invoked())
	assert.Empty(t, fn.Failures())
	assert.True(t, provider.AllReleased())
	assert.Equal(t, 3, provider.EmittedCount())
	_, ok := done.Load(int64(2))
	assert.True(t, ok)
}

func TestRecordingScheduler_Reject(t *testing.T) {
	fn := &ScriptedFunctor{JobKind: job.CalcJob}
	s := NewRecordingScheduler()
	jobs := scriptedJobs(t, fn, nil, 0)

	full := errors.New("queue full")
	s.RejectWith(full)
	assert.ErrorIs(t, s.Schedule(jobs[0]), full)
	s.RejectWith(nil)
	assert.NoError(t, s.Schedule(jobs[0]))
}

func TestScriptedFunctor_FailureReleasesBuffers(t *testing.T) {
	provider := buffer.NewTrackingProvider()
	boom := errors.New("boom")
	fn := &ScriptedFunctor{JobKind: job.CalcJob, Buffers: []int{16}, ReleaseBuffers: true, Fail: boom}
	jobs := scriptedJobs(t, fn, provider, 5)

	err := jobs[0].Invoke(context.Background())
	assert.ErrorIs(t, err, boom)
	require.Len(t, fn.Failures(), 1)
	assert.Equal(t, int64(5), fn.Failures()[0].Parameter.Key.FrameNumber)
	assert.True(t, provider.AllReleased())
}

func TestTimeline_Splice(t *testing.T) {
	tl := NewTimeline(t, "video", "audio")
	fn := &ScriptedFunctor{JobKind: job.CalcJob}
	seg := tl.Splice(t, 0, time.Second, map[string]job.Functor{"video": fn})

	tk, ok := seg.TicketFor(tl.Port("video"))
	require.True(t, ok)
	assert.Equal(t, "video/0s", tk.PipelineID())
	_, ok = seg.TicketFor(tl.Port("audio"))
	assert.False(t, ok)
}
