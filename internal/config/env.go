package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAMEJOBS_"

// LoadEnv reads .env files into the environment. Variables already set in
// the environment win. With no paths, ".env" is used; missing files are
// skipped.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// GetEnv returns the value of FRAMEJOBS_<key>, or fallback if unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(EnvPrefix + key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of FRAMEJOBS_<key>, or fallback if the
// variable is unset or empty.
func GetEnvInt(key string, fallback int) (int, error) {
	s := os.Getenv(EnvPrefix + key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return n, nil
}

// GetEnvBool returns the boolean value of FRAMEJOBS_<key>, or fallback if
// the variable is unset or empty.
func GetEnvBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(EnvPrefix + key)
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return b, nil
}

func (c *Config) applyEnv() error {
	c.Engine.FrameRate = GetEnv("FRAME_RATE", c.Engine.FrameRate)
	c.Engine.Urgency = GetEnv("URGENCY", c.Engine.Urgency)
	c.Engine.Quality = GetEnv("QUALITY", c.Engine.Quality)
	c.Buffers.Provider = GetEnv("BUFFER_PROVIDER", c.Buffers.Provider)
	c.Journal.Path = GetEnv("JOURNAL_PATH", c.Journal.Path)
	c.Status.Bind = GetEnv("STATUS_BIND", c.Status.Bind)
	c.Log.Level = GetEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnv("LOG_FORMAT", c.Log.Format)

	var errs []error
	var err error
	if c.Engine.LookAheadChunks, err = GetEnvInt("LOOK_AHEAD_CHUNKS", c.Engine.LookAheadChunks); err != nil {
		errs = append(errs, err)
	}
	if c.Buffers.MaxBuffers, err = GetEnvInt("MAX_BUFFERS", c.Buffers.MaxBuffers); err != nil {
		errs = append(errs, err)
	}
	if c.Workers.Count, err = GetEnvInt("WORKERS", c.Workers.Count); err != nil {
		errs = append(errs, err)
	}
	if c.Journal.Enabled, err = GetEnvBool("JOURNAL_ENABLED", c.Journal.Enabled); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
