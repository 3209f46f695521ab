package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	tl, err := os.ReadFile("testdata/timelines/short.cue")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.cue"), tl, 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/single_stream.yaml")
	require.NoError(t, err)

	assert.Equal(t, "single_stream", s.Name)
	assert.Equal(t, filepath.Join("testdata", "timelines", "short.cue"), s.Timeline)
	assert.Equal(t, 2, s.LookAhead)
	require.Len(t, s.Streams, 1)
	assert.Equal(t, "video", s.Streams[0].Pipe)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, RunAll, s.Steps[0].Run)
	require.NotEmpty(t, s.Assertions)
	assert.Equal(t, AssertFrames, s.Assertions[0].Type)
	assert.Equal(t, "stream-1", s.Assertions[0].Stream)
}

func TestLoadScenario_InlineMatch(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/timeline_gap.yaml")
	require.NoError(t, err)

	var contains *Assertion
	for i := range s.Assertions {
		if s.Assertions[i].Type == AssertTraceContains {
			contains = &s.Assertions[i]
		}
	}
	require.NotNil(t, contains)
	assert.Equal(t, "outro", contains.Pipeline)
	require.NotNil(t, contains.Frame)
	assert.Equal(t, int64(14), *contains.Frame)
}

func TestLoadScenario_Invalid(t *testing.T) {
	const head = "name: x\ndescription: d\ntimeline: short.cue\n"
	const streams = "streams:\n  - pipe: video\n"
	const asserts = "assertions:\n  - type: buffers_released\n"

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing name", "description: d\ntimeline: short.cue\n" + streams + asserts, "name is required"},
		{"missing timeline file", "name: x\ndescription: d\ntimeline: nope.cue\n" + streams + asserts, "timeline file not found"},
		{"no streams", head + asserts, "streams list is required"},
		{"no assertions", head + streams, "assertions list is required"},
		{"unknown field", head + streams + asserts + "flow: []\n", "field flow not found"},
		{"bad urgency", head + "streams:\n  - pipe: video\n    urgency: soon\n" + asserts, "urgency"},
		{"two actions", head + streams + "steps:\n  - run: all\n    top_up: true\n" + asserts, "exactly one action"},
		{"bad run", head + streams + "steps:\n  - run: forever\n" + asserts, "run must be"},
		{"bad advance", head + streams + "steps:\n  - advance: soon\n" + asserts, "steps[0]"},
		{"empty splice", head + streams + "steps:\n  - splice: {start: 1s, end: 1s}\n" + asserts, "empty range"},
		{"unknown assertion", head + streams + "assertions:\n  - type: final_state\n", "unknown assertion type"},
		{"count missing", head + streams + "assertions:\n  - type: trace_count\n    event: planned\n", "requires count"},
		{"unknown counter", head + streams + "assertions:\n  - type: stream_stats\n    stream: stream-1\n    expect: {frames: 1}\n", "unknown stream counter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDiscoverScenarios(t *testing.T) {
	files, err := DiscoverScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.IsNonDecreasing(t, files)

	_, err = DiscoverScenarios(t.TempDir())
	assert.Error(t, err)
}
