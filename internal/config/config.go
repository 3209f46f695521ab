package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/roach88/framejobs/internal/buffer"
	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/frame"
)

//go:embed sample_config.toml
var sampleConfig string

// Engine configures stream timings and the planning loop.
type Engine struct {
	FrameRate       string `toml:"frame_rate"`
	Urgency         string `toml:"urgency"`
	Quality         string `toml:"quality"`
	OutputLatencyMS int    `toml:"output_latency_ms"`
	EngineLatencyMS int    `toml:"engine_latency_ms"`
	PlanningChunkMS int    `toml:"planning_chunk_ms"`

	// ChunkLimitFrames caps the frames per planning chunk; 0 keeps the
	// dispatcher default.
	ChunkLimitFrames int64 `toml:"chunk_limit_frames"`

	LookAheadChunks int `toml:"look_ahead_chunks"`
	TickIntervalMS  int `toml:"tick_interval_ms"`
}

// Buffers configures the buffer provider.
type Buffers struct {
	Provider         string `toml:"provider"`
	MaxBuffers       int    `toml:"max_buffers"`
	AcquireTimeoutMS int    `toml:"acquire_timeout_ms"`
}

// Workers sizes the job worker pool.
type Workers struct {
	Count     int `toml:"count"`
	QueueSize int `toml:"queue_size"`
}

// Journal configures the SQLite journal.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Status configures the diagnostic HTTP endpoint.
type Status struct {
	Bind string `toml:"bind"`
}

// Log configures log output.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config holds all framejobs settings.
type Config struct {
	Engine  Engine  `toml:"engine"`
	Buffers Buffers `toml:"buffers"`
	Workers Workers `toml:"workers"`
	Journal Journal `toml:"journal"`
	Status  Status  `toml:"status"`
	Log     Log     `toml:"log"`
}

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/framejobs/config.toml")
}

// Load locates, parses and validates a configuration file, then applies
// .env and environment overrides. It returns the resolved path and whether
// a file was found there. A missing file is not an error.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := LoadEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs("framejobs.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// Rate returns the configured frame rate.
func (c *Config) Rate() frame.Rate {
	r, err := frame.ParseRate(c.Engine.FrameRate)
	if err != nil {
		// Validate rejects unparsable rates.
		return frame.FPS25
	}
	return r
}

// Timings returns stream timings built from the engine section. Delivery of
// TIMEBOUND streams is anchored at now.
func (c *Config) Timings(now time.Time) (frame.Timings, error) {
	rate, err := frame.ParseRate(c.Engine.FrameRate)
	if err != nil {
		return frame.Timings{}, err
	}
	urgency, err := frame.ParseUrgency(c.Engine.Urgency)
	if err != nil {
		return frame.Timings{}, err
	}
	t := frame.DefaultTimings(rate)
	t.Urgency = urgency
	t.OutputLatency = ms(c.Engine.OutputLatencyMS)
	t.EngineLatency = ms(c.Engine.EngineLatencyMS)
	t.PlanningChunk = ms(c.Engine.PlanningChunkMS)
	if urgency == frame.TIMEBOUND {
		t.ScheduledDelivery = now
	}
	return t, nil
}

// Quality returns the configured service quality.
func (c *Config) Quality() engine.Quality {
	q, err := engine.ParseQuality(c.Engine.Quality)
	if err != nil {
		return engine.QualityDefault
	}
	return q
}

// TickInterval returns the planning loop tick.
func (c *Config) TickInterval() time.Duration {
	return ms(c.Engine.TickIntervalMS)
}

// AcquireTimeout returns the bound on blocking buffer checkout.
func (c *Config) AcquireTimeout() time.Duration {
	return ms(c.Buffers.AcquireTimeoutMS)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ExpandPath resolves a leading ~ to the home directory.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// Sample returns the annotated sample configuration.
func Sample() string {
	return sampleConfig
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// BufferProvider builds the configured buffer provider. rec, when non-nil,
// receives the events of a tracking provider.
func (c *Config) BufferProvider(rec buffer.Recorder) buffer.Provider {
	if c.Buffers.Provider == "tracking" {
		opts := []buffer.TrackingOption{buffer.WithTrackingLimit(c.Buffers.MaxBuffers)}
		if rec != nil {
			opts = append(opts, buffer.WithRecorder(rec))
		}
		return buffer.NewTrackingProvider(opts...)
	}
	opts := []buffer.PoolOption{buffer.WithMaxBuffers(c.Buffers.MaxBuffers)}
	if c.Buffers.AcquireTimeoutMS > 0 {
		opts = append(opts, buffer.WithAcquireTimeout(c.AcquireTimeout()))
	}
	return buffer.NewPoolProvider("framejobs", opts...)
}
