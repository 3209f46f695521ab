package config

import (
	"errors"
	"fmt"

	"github.com/roach88/framejobs/internal/engine"
	"github.com/roach88/framejobs/internal/frame"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateBuffers(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.path must be set when journal.enabled is true")
	}
	return c.validateLog()
}

func (c *Config) validateEngine() error {
	if _, err := frame.ParseRate(c.Engine.FrameRate); err != nil {
		return fmt.Errorf("engine.frame_rate: %w", err)
	}
	if _, err := frame.ParseUrgency(c.Engine.Urgency); err != nil {
		return fmt.Errorf("engine.urgency: %w", err)
	}
	if _, err := engine.ParseQuality(c.Engine.Quality); err != nil {
		return fmt.Errorf("engine.quality: %w", err)
	}
	if c.Engine.OutputLatencyMS < 0 || c.Engine.EngineLatencyMS < 0 {
		return errors.New("engine latencies must not be negative")
	}
	if c.Engine.PlanningChunkMS < 0 {
		return errors.New("engine.planning_chunk_ms must be positive")
	}
	if c.Engine.ChunkLimitFrames < 0 {
		return errors.New("engine.chunk_limit_frames must not be negative")
	}
	if c.Engine.LookAheadChunks < 0 {
		return errors.New("engine.look_ahead_chunks must be positive")
	}
	if c.Engine.TickIntervalMS < 0 {
		return errors.New("engine.tick_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 0 {
		return errors.New("workers.count must be positive")
	}
	if c.Workers.QueueSize < 0 {
		return errors.New("workers.queue_size must be positive")
	}
	return nil
}

func (c *Config) validateBuffers() error {
	switch c.Buffers.Provider {
	case "pool", "tracking":
	default:
		return fmt.Errorf("buffers.provider must be pool or tracking, got %q", c.Buffers.Provider)
	}
	if c.Buffers.MaxBuffers < 0 {
		return errors.New("buffers.max_buffers must not be negative")
	}
	if c.Buffers.AcquireTimeoutMS < 0 {
		return errors.New("buffers.acquire_timeout_ms must not be negative")
	}
	return nil
}

func (c *Config) validateLog() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
