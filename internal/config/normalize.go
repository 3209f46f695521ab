package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeEngine()
	c.Buffers.Provider = strings.ToLower(strings.TrimSpace(c.Buffers.Provider))
	if c.Buffers.Provider == "" {
		c.Buffers.Provider = defaultProvider
	}
	c.normalizeWorkers()
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	c.Status.Bind = strings.TrimSpace(c.Status.Bind)
	if c.Status.Bind == "" {
		c.Status.Bind = defaultStatusBind
	}
	c.normalizeLog()
	return nil
}

func (c *Config) normalizeEngine() {
	c.Engine.FrameRate = strings.TrimSpace(c.Engine.FrameRate)
	if c.Engine.FrameRate == "" {
		c.Engine.FrameRate = defaultFrameRate
	}
	c.Engine.Urgency = strings.ToLower(strings.TrimSpace(c.Engine.Urgency))
	if c.Engine.Urgency == "" {
		c.Engine.Urgency = defaultUrgency
	}
	c.Engine.Quality = strings.ToLower(strings.TrimSpace(c.Engine.Quality))
	if c.Engine.Quality == "" {
		c.Engine.Quality = defaultQuality
	}
	if c.Engine.PlanningChunkMS == 0 {
		c.Engine.PlanningChunkMS = defaultPlanningChunkMS
	}
	if c.Engine.LookAheadChunks == 0 {
		c.Engine.LookAheadChunks = defaultLookAheadChunks
	}
	if c.Engine.TickIntervalMS == 0 {
		c.Engine.TickIntervalMS = defaultTickIntervalMS
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.Count == 0 {
		c.Workers.Count = defaultWorkers
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = defaultQueueSize
	}
}

func (c *Config) normalizeJournal() error {
	if !c.Journal.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = defaultJournalPath
	}
	if c.Journal.Path == ":memory:" {
		return nil
	}
	var err error
	if c.Journal.Path, err = ExpandPath(c.Journal.Path); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLog() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
}
