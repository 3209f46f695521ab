package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runPlanCommand(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewPlanCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestPlanFirstChunk(t *testing.T) {
	buf, err := runPlanCommand(t, "text", shortTimeline)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Timeline short, pipe video (asap)")
	assert.Contains(t, out, "video-main")
	assert.Contains(t, out, "5 job(s) planned, 0 frame(s) skipped, next frame 5")
	assert.NotContains(t, out, "Stream ended")
}

func TestPlanToEndOfTimelineJSON(t *testing.T) {
	buf, err := runPlanCommand(t, "json", shortTimeline, "--chunks", "3")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   PlanResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Jobs, 10)
	for i, j := range resp.Data.Jobs {
		assert.Equal(t, int64(i), j.Frame)
		assert.Equal(t, "CALC", j.Kind)
		assert.Equal(t, "video-main", j.Pipeline)
		assert.NotEmpty(t, j.Hash)
	}
	assert.Equal(t, "40ms", resp.Data.Jobs[1].Nominal)
	assert.Equal(t, "end of timeline", resp.Data.Ended)
}

func TestPlanStartFrameAndPipe(t *testing.T) {
	buf, err := runPlanCommand(t, "json", avTimeline, "--pipe", "audio", "--start-frame", "2")
	require.NoError(t, err)

	var resp struct {
		Data PlanResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "audio", resp.Data.Pipe)
	require.NotEmpty(t, resp.Data.Jobs)
	assert.Equal(t, int64(2), resp.Data.Jobs[0].Frame)
	assert.Equal(t, "audio-main", resp.Data.Jobs[0].Pipeline)
}

func TestPlanErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown pipe", []string{shortTimeline, "--pipe", "audio"}, ExitCommandError},
		{"bad urgency", []string{shortTimeline, "--urgency", "whenever"}, ExitCommandError},
		{"no chunks", []string{shortTimeline, "--chunks", "0"}, ExitCommandError},
		{"missing timeline", []string{"does-not-exist.cue"}, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runPlanCommand(t, "text", tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
		})
	}
}

func TestFormatDeadline(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "+40ms", formatDeadline(now.Add(40*time.Millisecond), now))
	assert.Equal(t, "-1.5s", formatDeadline(now.Add(-1500*time.Millisecond), now))
	assert.Equal(t, "none", formatDeadline(now.Add(48*time.Hour), now))
}
