package journal

import (
	"context"
	"os"
	"path/filepath"
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

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func streamRecord(id string, seq int64) engine.StreamRecord {
	return engine.StreamRecord{
		Seq:        seq,
		ID:         id,
		Port:       "video",
		Urgency:    "asap",
		Quality:    "default",
		StartFrame: 0,
		OpenedAt:   testutil.Epoch,
	}
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	j, path := openTestJournal(t)
	_, err := os.Stat(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, j.OpenStream(ctx, streamRecord("s1", 1)))
	require.NoError(t, j.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	streams, err := again.ReadStreams(ctx)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "s1", streams[0].ID)
	assert.True(t, streams[0].OpenedAt.Equal(testutil.Epoch))
	assert.Nil(t, streams[0].End)
}

func TestOpen_Pragmas(t *testing.T) {
	j, _ := openTestJournal(t)

	var mode string
	require.NoError(t, j.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, j.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var version int
	require.NoError(t, j.DB().QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestJournal_JobsWithOutcomes(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.OpenStream(ctx, streamRecord("s1", 1)))
	for i, hash := range []string{"h0", "h1", "h2"} {
		require.NoError(t, j.RecordPlanned(ctx, engine.JobRecord{
			Seq:          int64(2 + i),
			StreamID:     "s1",
			Kind:         "CALC",
			Pipeline:     "video/0s",
			Frame:        int64(i),
			NominalTime:  time.Duration(i) * 40 * time.Millisecond,
			Deadline:     testutil.Epoch.Add(time.Duration(i) * 40 * time.Millisecond),
			InstanceHash: hash,
		}))
	}
	require.NoError(t, j.RecordOutcome(ctx, engine.OutcomeRecord{
		Seq: 5, StreamID: "s1", InstanceHash: "h1", Outcome: engine.OutcomeCompleted,
	}))
	require.NoError(t, j.RecordOutcome(ctx, engine.OutcomeRecord{
		Seq: 6, StreamID: "s1", InstanceHash: "h0", Outcome: engine.OutcomeStale,
		Error: "STALE_PLAN: segment replaced", Lateness: 3 * time.Millisecond,
	}))

	jobs, err := j.ReadJobs(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []int64{0, 1, 2}, []int64{jobs[0].Frame, jobs[1].Frame, jobs[2].Frame})
	assert.Equal(t, 80*time.Millisecond, jobs[2].NominalTime)
	assert.True(t, jobs[1].Deadline.Equal(testutil.Epoch.Add(40*time.Millisecond)))

	require.NotNil(t, jobs[0].Outcome)
	assert.Equal(t, engine.OutcomeStale, jobs[0].Outcome.Outcome)
	assert.Equal(t, 3*time.Millisecond, jobs[0].Outcome.Lateness)
	assert.Equal(t, engine.OutcomeCompleted, jobs[1].Outcome.Outcome)
	assert.Nil(t, jobs[2].Outcome, "no outcome reported yet")

	seq, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), seq)
}

func TestJournal_Idempotent(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	rec := streamRecord("s1", 1)
	require.NoError(t, j.OpenStream(ctx, rec))
	require.NoError(t, j.OpenStream(ctx, rec))

	end := engine.StreamEnd{Seq: 2, StreamID: "s1", Reason: "stopped", Stats: engine.StreamStats{Planned: 4, Late: 1}}
	require.NoError(t, j.CloseStream(ctx, end))
	require.NoError(t, j.CloseStream(ctx, engine.StreamEnd{Seq: 3, StreamID: "s1", Reason: "again"}))

	s, err := j.ReadStream(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, s.End)
	assert.Equal(t, "stopped", s.End.Reason)
	assert.Equal(t, int64(4), s.End.Stats.Planned)
	assert.Equal(t, int64(1), s.End.Stats.Late)
}

func TestJournal_ReadStreamNotFound(t *testing.T) {
	j, _ := openTestJournal(t)
	_, err := j.ReadStream(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_ForeignKeys(t *testing.T) {
	j, _ := openTestJournal(t)
	err := j.RecordPlanned(context.Background(), engine.JobRecord{
		Seq: 1, StreamID: "ghost", InstanceHash: "h", Kind: "CALC", Deadline: testutil.Epoch,
	})
	assert.Error(t, err, "jobs need a recorded stream")
}

func TestJournal_EmptyLastSeq(t *testing.T) {
	j, _ := openTestJournal(t)
	seq, err := j.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestJournal_RecordsBufferEvents(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()
	p := buffer.NewTrackingProvider(buffer.WithRecorder(j))

	h, err := p.Lock(ctx, p.DescriptorFor(256))
	require.NoError(t, err)
	require.NoError(t, h.Emit())
	require.NoError(t, h.Release())

	events, err := j.ReadBufferEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.Events(), events)
}

// A service writing through the journal leaves a complete, ordered record.
func TestJournal_ServiceIntegration(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	tl := testutil.NewTimeline(t, "video")
	tl.Provider = buffer.NewTrackingProvider()
	tl.Splice(t, 0, time.Second, map[string]job.Functor{
		"video": &testutil.ScriptedFunctor{JobKind: job.CalcJob, Buffers: []int{32}},
	})
	sched := testutil.NewRecordingScheduler()
	svc := engine.New(dispatch.NewTable(tl.Registry, tl.Segments), sched,
		engine.WithClock(testutil.NewFakeClock()),
		engine.WithJournal(j),
		engine.WithStreamIDs(engine.NewFixedGenerator("stream-a")),
		engine.WithLookAheadChunks(1),
	)

	stream, err := svc.Calculate(ctx, tl.Port("video"), frame.DefaultTimings(frame.FPS25),
		engine.OutputConnection{Sink: "test"}, engine.QualityDefault)
	require.NoError(t, err)
	require.NoError(t, sched.RunAll(ctx, svc.JobFinished))
	stream.Stop()
	svc.Flush(ctx)

	summary, err := j.ReadStream(ctx, "stream-a")
	require.NoError(t, err)
	assert.Equal(t, "video", summary.Port)
	require.NotNil(t, summary.End)
	assert.Equal(t, "stopped", summary.End.Reason)
	assert.Equal(t, int64(5), summary.End.Stats.Completed)

	jobs, err := j.ReadJobs(ctx, "stream-a")
	require.NoError(t, err)
	require.Len(t, jobs, 5)
	for i, e := range jobs {
		assert.Equal(t, int64(i), e.Frame)
		require.NotNil(t, e.Outcome)
		assert.Equal(t, engine.OutcomeCompleted, e.Outcome.Outcome)
	}

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, svc.Sequence().Current(), last)
}
