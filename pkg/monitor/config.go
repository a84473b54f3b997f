package monitor

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-posture/internal/log"
)

// DefaultRetryDelay is the pause after a tick without a frame.
const DefaultRetryDelay = 100 * time.Millisecond

// Config holds the loop's optional collaborators.
// Use functional options (WithXxx) to set these values.
type Config struct {
	RetryDelay time.Duration // Pause after a failed Next
	Interval   time.Duration // Minimum time between ticks; zero runs as fast as the source

	Annotator Annotator
	Recorder  Recorder

	Logger *slog.Logger
}

// Option is a functional option for configuring the loop.
type Option func(*Config)

// WithRetryDelay sets the pause after a failed read.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithInterval paces the loop, e.g. when replaying a recording.
func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Interval = d
	}
}

// WithAnnotator draws overlays onto published frames.
func WithAnnotator(a Annotator) Option {
	return func(c *Config) {
		c.Annotator = a
	}
}

// WithRecorder forwards every tick to a journal.
func WithRecorder(r Recorder) Option {
	return func(c *Config) {
		c.Recorder = r
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func newConfig(opts []Option) Config {
	cfg := Config{RetryDelay: DefaultRetryDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.With("component", "monitor")
	}
	return cfg
}
