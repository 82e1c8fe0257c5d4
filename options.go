package rankmerge

import "go.uber.org/zap"

// Option is a functional option for configuring workers and merges.
type Option func(*config)

type config struct {
	logger     *zap.Logger
	checkInput bool
	linkBuffer int
	sessionID  string // Set per merge; empty means generate one
}

func defaultConfig() *config {
	return &config{
		logger:     zap.NewNop(),
		checkInput: true,
		linkBuffer: 1,
	}
}

// WithLogger sets the logger for per-rank diagnostics. Messages are logged at
// debug level with rank, round and partner fields. Default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithoutInputCheck disables the boundary check that each local list is
// sorted ascending. Feeding an unsorted list with the check disabled is
// undefined behavior: the result will not be sorted.
func WithoutInputCheck() Option {
	return func(c *config) {
		c.checkInput = false
	}
}

// WithLinkBuffer sets the per-link channel capacity of the in-process mesh
// used by Merge. The protocol needs at most one message per directed link, so
// the default of 1 never deadlocks; larger values only decouple senders from
// slow receivers. Values below 1 are clamped to 1.
func WithLinkBuffer(n int) Option {
	return func(c *config) {
		c.linkBuffer = n
	}
}

// WithSessionID overrides the session identifier attached to every log line
// of a Merge call. By default each call generates a fresh UUID.
func WithSessionID(id string) Option {
	return func(c *config) {
		c.sessionID = id
	}
}
