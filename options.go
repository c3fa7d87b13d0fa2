package tfopkg

import (
	"log/slog"

	"github.com/untfo/tfopkg/cache"
)

// DefaultMaxFileSize is the default maximum payload size read by an Archive (256MB).
const DefaultMaxFileSize = 256 << 20

// Option configures decoding and Archive access.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	maxFileSize uint64
	cache       cache.Cache // nil = no caching
}

func newConfig(opts []Option) *config {
	c := &config{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// log returns the logger, falling back to a discard logger if nil.
func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// WithLogger sets a logger for decode warnings and cache activity.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMaxFileSize limits the stored size of a payload read by an Archive.
// Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(c *config) {
		c.maxFileSize = limit
	}
}

// WithCache enables caching of decrypted payloads.
//
// Concurrent reads of the same uncached entry are deduplicated.
func WithCache(c cache.Cache) Option {
	return func(cfg *config) {
		cfg.cache = c
	}
}
