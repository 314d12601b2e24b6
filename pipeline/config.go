package pipeline

import (
	"errors"
	"time"
)

// Config holds the core pipeline knobs. These four options are the entire
// runtime-tunable surface of the pipeline.
type Config struct {
	// BatchSize is the size trigger threshold: the batch closes as soon as
	// it holds this many envelopes.
	BatchSize int

	// BatchWindow is the time trigger threshold, armed when a batch opens.
	BatchWindow time.Duration

	// DedupWindow is how long an accepted transaction hash is remembered to
	// reject duplicates. Hashes of batches that reach a terminal state are
	// released early.
	DedupWindow time.Duration

	// FlushEmptyOnShutdown closes and flushes the open batch through the
	// pipeline at shutdown even when it holds no envelopes. A non-empty
	// open batch is always flushed.
	FlushEmptyOnShutdown bool
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if c.BatchWindow <= 0 {
		return errors.New("batch window must be positive")
	}
	if c.DedupWindow < 0 {
		return errors.New("dedup window must not be negative")
	}
	return nil
}
