package engine

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/roach88/talon/internal/config"
)

// settings collects Option values before Open reads the root.
type settings struct {
	cfg    *config.Config
	driver string
	logger *slog.Logger
	clock  clock.Clock
	ids    IDGenerator
}

// Option configures Open.
type Option func(*settings)

// WithConfig uses cfg instead of <root>/talon.yaml.
func WithConfig(cfg config.Config) Option {
	return func(s *settings) {
		s.cfg = &cfg
	}
}

// WithDriver overrides storage.driver ("sqlite3" or "sqlite").
func WithDriver(name string) Option {
	return func(s *settings) {
		s.driver = name
	}
}

// WithLogger sets the base logger. The default is built from log.level and
// log.format and writes to stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithClock sets the clock used for TTLs, timestamps and the KV reaper.
//
// Default: the wall clock.
// Use clock.NewMock() in tests to control expiry deterministically.
func WithClock(clk clock.Clock) Option {
	return func(s *settings) {
		s.clock = clk
	}
}

// WithIDGenerator sets the generator for the instance id and request ids.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *settings) {
		s.ids = gen
	}
}
