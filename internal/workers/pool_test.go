package workers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/dispatch"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/frame"
	"github.com/roach88/framejobs/internal/job"
	"github.com/roach88/framejobs/internal/testutil"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type rig struct {
	svc      *engine.Service
	tl       *testutil.Timeline
	provider *buffer.TrackingProvider
	functor  *testutil.ScriptedFunctor
}

func newService(t *testing.T, pool *Pool) rig {
	t.Helper()
	r := rig{
		provider: buffer.NewTrackingProvider(),
		tl:       testutil.NewTimeline(t, "video"),
		functor:  &testutil.ScriptedFunctor{JobKind: job.CalcJob, Buffers: []int{64}},
	}
	r.tl.Provider = r.provider
	r.tl.Splice(t, 0, time.Second, map[string]job.Functor{"video": r.functor})
	r.svc = engine.New(dispatch.NewTable(r.tl.Registry, r.tl.Segments), pool,
		engine.WithClock(testutil.NewFakeClock()),
		engine.WithLookAheadChunks(1),
	)
	return r
}

func TestPool_RunsScheduledJobs(t *testing.T) {
	pool := New(3, 16, quiet())
	r := newService(t, pool)
	svc, tl, provider := r.svc, r.tl, r.provider
	ctx := context.Background()
	require.NoError(t, pool.Start(ctx, svc.JobFinished))
	defer pool.Stop(svc.JobFinished)

	stream, err := svc.Calculate(ctx, tl.Port("video"), frame.DefaultTimings(frame.FPS25),
		engine.OutputConnection{Sink: "test"}, engine.QualityDefault)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return stream.Stats().Completed == 5 },
		5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(5), pool.Finished())
	assert.Zero(t, svc.InFlight())
	assert.True(t, provider.AllReleased())
}

func TestPool_QueueFullRejects(t *testing.T) {
	pool := New(1, 2, quiet())
	r := newService(t, pool)

	_, err := r.svc.Calculate(context.Background(), r.tl.Port("video"), frame.DefaultTimings(frame.FPS25),
		engine.OutputConnection{}, engine.QualityDefault)
	require.Error(t, err)
	assert.True(t, engine.IsSchedulerRejected(err))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, pool.Queued())

	failures := r.functor.Failures()
	require.Len(t, failures, 3, "refused job and the two never offered")
	for _, f := range failures {
		assert.ErrorIs(t, f.Reason, ErrQueueFull)
	}
}

func TestPool_StopReportsQueuedJobs(t *testing.T) {
	pool := New(1, 8, quiet())
	r := newService(t, pool)
	svc := r.svc
	_, err := svc.Calculate(context.Background(), r.tl.Port("video"), frame.DefaultTimings(frame.FPS25),
		engine.OutputConnection{}, engine.QualityDefault)
	require.NoError(t, err)
	require.Equal(t, 5, pool.Queued())

	var mu sync.Mutex
	var reported []error
	pool.Stop(func(j *job.Job, err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
		svc.JobFinished(j, err)
	})

	require.Len(t, reported, 5)
	for _, err := range reported {
		assert.ErrorIs(t, err, ErrStopped)
	}
	failures := r.functor.Failures()
	require.Len(t, failures, 5, "dropped jobs signal their functor")
	for _, f := range failures {
		assert.ErrorIs(t, f.Reason, ErrStopped)
	}
	assert.Empty(t, r.functor.Invoked())
	assert.Zero(t, svc.InFlight())
	assert.ErrorIs(t, pool.Schedule(nil), ErrStopped)

	pool.Stop(nil)
	assert.ErrorIs(t, pool.Start(context.Background(), svc.JobFinished), ErrStopped)
}

func TestPool_StartTwice(t *testing.T) {
	pool := New(0, 0, quiet())
	done := func(*job.Job, error) {}
	require.NoError(t, pool.Start(context.Background(), done))
	defer pool.Stop(nil)
	assert.Error(t, pool.Start(context.Background(), done))
}
