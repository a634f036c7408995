package hooks

import "time"

// Config holds the configuration for a hooks Engine instance.
type Config struct {
	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often the delivery engine checks for due deliveries.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries dequeued per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per delivery attempt.
	RequestTimeout time.Duration

	// LogRetention is how long terminal attempt log rows are kept before a
	// purge removes them.
	LogRetention time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		PollInterval:    1 * time.Second,
		BatchSize:       50,
		RequestTimeout:  30 * time.Second,
		LogRetention:    30 * 24 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}
