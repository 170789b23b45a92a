package flow

import "fmt"

const (
	// DefaultQueueCapacity is the default capacity of each stage's inbound queue.
	DefaultQueueCapacity = 3
	// MinQueueCapacity is the smallest allowed inbound queue capacity.
	MinQueueCapacity = 1
)

// Config defines configuration options for graph execution.
type Config struct {
	// QueueCapacity controls buffering on each stage's inbound queue.
	// Smaller values = tighter back-pressure on producers.
	// Larger values = more slack between stages at the cost of memory.
	// Default: 3
	QueueCapacity int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		QueueCapacity: DefaultQueueCapacity,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.QueueCapacity < MinQueueCapacity {
		return fmt.Errorf("%w: got %d", ErrInvalidQueueCapacity, c.QueueCapacity)
	}
	return nil
}

// WithQueueCapacity sets the inbound queue capacity.
func (c *Config) WithQueueCapacity(capacity int) *Config {
	c.QueueCapacity = capacity
	return c
}
