package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/config"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/frame"
)

// isolate points HOME and the working directory at empty temp dirs so no
// real configuration leaks into the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framejobs.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	home := isolate(t)

	cfg, resolved, exists, err := config.Load("")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, filepath.Join(home, ".config", "framejobs", "config.toml"), resolved)

	assert.Equal(t, frame.FPS25, cfg.Rate())
	assert.Equal(t, engine.QualityDefault, cfg.Quality())
	assert.Equal(t, 2, cfg.Engine.LookAheadChunks)
	assert.Equal(t, 20*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, filepath.Join(home, ".local", "share", "framejobs", "journal.db"), cfg.Journal.Path)
	assert.Equal(t, "127.0.0.1:7488", cfg.Status.Bind)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
[engine]
frame_rate = "30000/1001"
urgency = "TIMEBOUND"
quality = "perfect"
output_latency_ms = 40
planning_chunk_ms = 400

[buffers]
provider = "tracking"
max_buffers = 8

[journal]
enabled = false

[log]
level = "DEBUG"
format = "json"
`)

	cfg, resolved, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, path, resolved)
	assert.Equal(t, frame.NTSC, cfg.Rate())
	assert.Equal(t, engine.QualityPerfect, cfg.Quality())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Journal.Enabled)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timings, err := cfg.Timings(now)
	require.NoError(t, err)
	assert.Equal(t, frame.TIMEBOUND, timings.Urgency)
	assert.Equal(t, 40*time.Millisecond, timings.OutputLatency)
	assert.Equal(t, 400*time.Millisecond, timings.PlanningChunk)
	assert.True(t, timings.ScheduledDelivery.Equal(now))
	require.NoError(t, timings.Validate())

	_, ok := cfg.BufferProvider(nil).(*buffer.TrackingProvider)
	assert.True(t, ok)
}

func TestLoad_ProjectFile(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("framejobs.toml", []byte("[status]\nbind = \":9000\"\n"), 0o644))

	cfg, _, exists, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, ":9000", cfg.Status.Bind)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "[log]\nlevel = \"warn\"\n")
	t.Setenv("FRAMEJOBS_LOG_LEVEL", "error")
	t.Setenv("FRAMEJOBS_LOOK_AHEAD_CHUNKS", "5")
	t.Setenv("FRAMEJOBS_JOURNAL_PATH", ":memory:")
	t.Setenv("FRAMEJOBS_WORKERS", "12")

	cfg, _, _, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Engine.LookAheadChunks)
	assert.Equal(t, ":memory:", cfg.Journal.Path)
	assert.Equal(t, 12, cfg.Workers.Count)
	assert.Equal(t, 256, cfg.Workers.QueueSize)
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("FRAMEJOBS_STATUS_BIND=127.0.0.1:9999\n"), 0o644))
	t.Setenv("FRAMEJOBS_STATUS_BIND", "")
	os.Unsetenv("FRAMEJOBS_STATUS_BIND")

	cfg, _, _, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Status.Bind)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad rate", body: "[engine]\nframe_rate = \"0\"\n"},
		{name: "bad urgency", body: "[engine]\nurgency = \"later\"\n"},
		{name: "bad quality", body: "[engine]\nquality = \"best\"\n"},
		{name: "negative latency", body: "[engine]\noutput_latency_ms = -1\n"},
		{name: "bad provider", body: "[buffers]\nprovider = \"mmap\"\n"},
		{name: "bad log format", body: "[log]\nformat = \"xml\"\n"},
		{name: "negative workers", body: "[workers]\ncount = -2\n"},
		{name: "unknown field", body: "[engine]\nfps = 25\n"},
		{name: "malformed", body: "[engine\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, _, _, err := config.Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadEnvInt(t *testing.T) {
	isolate(t)
	t.Setenv("FRAMEJOBS_MAX_BUFFERS", "many")
	_, _, _, err := config.Load("")
	assert.ErrorContains(t, err, "FRAMEJOBS_MAX_BUFFERS")
}

func TestSampleConfigParsesToDefaults(t *testing.T) {
	var cfg config.Config
	require.NoError(t, toml.Unmarshal([]byte(config.Sample()), &cfg))
	assert.Equal(t, config.Default(), cfg)
}

func TestCreateSample(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, config.CreateSample(path))

	cfg, _, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "pool", cfg.Buffers.Provider)
}
