package scheduler

import (
	"time"
)

// Config controls the close scheduler interval and batch size.
type Config struct {
	RunInterval       time.Duration
	CycleLength       time.Duration
	MaxCloseBatchSize int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		CycleLength:       30 * 24 * time.Hour,
		MaxCloseBatchSize: 50,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.CycleLength <= 0 {
		c.CycleLength = defaults.CycleLength
	}
	if c.MaxCloseBatchSize <= 0 {
		c.MaxCloseBatchSize = defaults.MaxCloseBatchSize
	}
	return c
}
