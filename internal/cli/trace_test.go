package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/journal"
)

var traceEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// seedJournal records one ended stream with three jobs and one active
// stream without jobs.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	jr, err := journal.Open(path)
	require.NoError(t, err)
	defer jr.Close()

	ctx := context.Background()
	require.NoError(t, jr.OpenStream(ctx, engine.StreamRecord{
		Seq: 1, ID: "s1", Port: "video", Urgency: "asap", Quality: "default", OpenedAt: traceEpoch,
	}))
	for i := range 3 {
		require.NoError(t, jr.RecordPlanned(ctx, engine.JobRecord{
			Seq:          int64(2 + i),
			StreamID:     "s1",
			Kind:         "CALC",
			Pipeline:     "video-main",
			Frame:        int64(i),
			NominalTime:  time.Duration(i) * 40 * time.Millisecond,
			Deadline:     traceEpoch.Add(time.Duration(i) * 40 * time.Millisecond),
			InstanceHash: "h" + string(rune('0'+i)),
		}))
	}
	require.NoError(t, jr.RecordOutcome(ctx, engine.OutcomeRecord{
		Seq: 5, StreamID: "s1", InstanceHash: "h0", Outcome: engine.OutcomeCompleted,
	}))
	require.NoError(t, jr.RecordOutcome(ctx, engine.OutcomeRecord{
		Seq: 6, StreamID: "s1", InstanceHash: "h1", Outcome: engine.OutcomeFailed,
		Error: "decoder crashed", Lateness: 12 * time.Millisecond,
	}))
	require.NoError(t, jr.CloseStream(ctx, engine.StreamEnd{
		Seq: 7, StreamID: "s1", Reason: "stopped",
		Stats: engine.StreamStats{Planned: 3, Completed: 1, Failed: 1, Late: 1},
	}))
	require.NoError(t, jr.OpenStream(ctx, engine.StreamRecord{
		Seq: 8, ID: "s2", Port: "audio", Urgency: "nice", Quality: "background", OpenedAt: traceEpoch,
	}))
	return path
}

func runTraceCommand(t *testing.T, format string, verbose bool, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format, Verbose: verbose})
	cmd.SetOut(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestTraceListStreams(t *testing.T) {
	db := seedJournal(t)

	buf, err := runTraceCommand(t, "text", false, "--db", db)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "s2")
	assert.Contains(t, out, "active")
}

func TestTraceListStreamsJSON(t *testing.T) {
	db := seedJournal(t)

	buf, err := runTraceCommand(t, "json", false, "--db", db)
	require.NoError(t, err)

	var resp struct {
		Data []StreamTrace `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "s1", resp.Data[0].ID)
	assert.Equal(t, int64(3), resp.Data[0].Planned)
	assert.Equal(t, int64(1), resp.Data[0].Late)
	assert.Equal(t, "", resp.Data[1].EndReason)
}

func TestTraceStreamJobs(t *testing.T) {
	db := seedJournal(t)

	buf, err := runTraceCommand(t, "text", true, "--db", db, "s1")
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Stream s1")
	assert.Contains(t, out, "Status:  stopped")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "12ms")
	assert.Contains(t, out, "decoder crashed")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "3 job(s), 3 planned, 1 completed, 1 late")
}

func TestTraceStreamOutcomeFilterJSON(t *testing.T) {
	db := seedJournal(t)

	buf, err := runTraceCommand(t, "json", false, "--db", db, "s1", "--outcome", "failed")
	require.NoError(t, err)

	var resp struct {
		Data StreamTraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data.Jobs, 1)
	assert.Equal(t, int64(1), resp.Data.Jobs[0].Frame)
	assert.Equal(t, int64(12), resp.Data.Jobs[0].LateMS)
	assert.Equal(t, "decoder crashed", resp.Data.Jobs[0].Error)
}

func TestTraceUnknownStream(t *testing.T) {
	db := seedJournal(t)

	buf, err := runTraceCommand(t, "text", false, "--db", db, "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "no stream nope in journal")
}

func TestTraceMissingJournal(t *testing.T) {
	_, err := runTraceCommand(t, "text", false, "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
