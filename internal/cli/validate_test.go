package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/framejobs/internal/timeline"
)

var (
	timelinesDir  = filepath.Join("..", "harness", "testdata", "timelines")
	shortTimeline = filepath.Join(timelinesDir, "short.cue")
	avTimeline    = filepath.Join(timelinesDir, "av.cue")
)

func writeTimeline(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeline.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestValidateValidTimeline(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{shortTimeline})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `✓ Timeline "short" valid: 1 pipe(s), 1 segment(s) at 25fps`)
}

func TestValidateValidTimelineJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{avTimeline})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "av", resp.Data.Name)
	assert.ElementsMatch(t, []string{"video", "audio"}, resp.Data.Pipes)
	assert.Equal(t, 1, resp.Data.Segments)
}

func TestValidateNonExistentFile(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.cue")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), timeline.ErrCodeNotFound)
}

func TestValidateSchemaViolation(t *testing.T) {
	path := writeTimeline(t, `timeline: {
	name: "broken"
	ports: [{pipe: "video"}]
	segments: [{start: "soon", end: "1s", tickets: {}}]
}
`)
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ Validation failed")
	assert.Contains(t, buf.String(), timeline.ErrCodeSchema)
}

func TestValidateUnknownPipeJSON(t *testing.T) {
	path := writeTimeline(t, `timeline: {
	name: "unknown-pipe"
	ports: [{pipe: "video"}]
	segments: [{
		start: "0s"
		end:   "1s"
		tickets: audio: {pipeline: "audio-main"}
	}]
}
`)
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, timeline.ErrCodeInvalid, resp.Error.Code)
}
