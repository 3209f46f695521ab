package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_AllScenarios(t *testing.T) {
	files, err := DiscoverScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_SingleStream(t *testing.T) {
	result, err := Run(loadScenario(t, "single_stream"))
	require.NoError(t, err)

	require.Len(t, result.Trace, 22)
	for i, e := range result.Trace {
		assert.Equal(t, int64(i+1), e.Seq, "trace is gap free")
	}
	assert.Equal(t, EventOpened, result.Trace[0].Event)
	assert.Equal(t, "video", result.Trace[0].Port)
	assert.Equal(t, EventClosed, result.Trace[21].Event)

	stats := result.Streams["stream-1"]
	assert.False(t, stats.Active)
	assert.Equal(t, int64(10), stats.Completed)
	assert.True(t, result.BuffersReleased)
	assert.Empty(t, result.PlanningErrors)
}

func TestRun_Deterministic(t *testing.T) {
	s := loadScenario(t, "timeline_gap")
	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_SchedulerRejects(t *testing.T) {
	result, err := Run(loadScenario(t, "scheduler_rejects"))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.Len(t, result.PlanningErrors, 1)
	assert.Contains(t, result.PlanningErrors[0], "queue full")
	assert.Contains(t, result.Streams, "stream-2")
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	s := loadScenario(t, "single_stream")
	count := 3
	s.Assertions = []Assertion{{Type: AssertTraceCount, Match: Match{Event: EventPlanned}, Count: &count}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "10 occurrences")
}

func TestRun_UnexpectedOpenError(t *testing.T) {
	s := loadScenario(t, "single_stream")
	s.Streams = []StreamSpec{{Pipe: "audio"}}
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown pipe "audio"`)

	s.Streams = []StreamSpec{{Pipe: "video", ExpectError: "UNKNOWN_PORT"}}
	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected UNKNOWN_PORT, stream opened")
}

func TestRun_StopUnknownStream(t *testing.T) {
	s := loadScenario(t, "single_stream")
	s.Steps = []Step{{Stop: "stream-7"}}
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0]")
}
