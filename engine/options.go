package engine

import (
	"time"

	"golang.org/x/time/rate"
)

// Option is a functional option for configuring an Engine, mirroring the
// teacher's Option func(*engineConfig) error pattern exactly.
type Option func(*config) error

// config collects options before they are applied, allowing validation at
// construction time rather than scattered across call sites.
type config struct {
	opts Options
}

// Options holds every tunable named in spec.md §6.5. The zero value is
// filled in with defaults by applyOptions.
type Options struct {
	ResultCacheTTL      time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatStale      time.Duration
	DecideLockTTL       time.Duration
	SweeperInterval     time.Duration
	NodeDefaultTimeout  time.Duration
	ExecutorMode        ExecutorMode
	RetryOverrides      map[string]RetryPolicy
	EventsMaxLen        int64
	Metrics             *Metrics
	Limiter             *rate.Limiter
}

// ExecutorMode selects how the decide loop dispatches ready nodes.
type ExecutorMode string

const (
	// ExecutorSequential runs one ready node at a time.
	ExecutorSequential ExecutorMode = "sequential"
	// ExecutorConcurrent runs all ready nodes in a batch concurrently
	// (spec.md §4.6). This is the default.
	ExecutorConcurrent ExecutorMode = "concurrent"
)

func defaultOptions() Options {
	return Options{
		ResultCacheTTL:     time.Hour,
		HeartbeatInterval:  20 * time.Second,
		HeartbeatStale:     5 * time.Minute,
		DecideLockTTL:      DecideLockTTL,
		SweeperInterval:    60 * time.Second,
		NodeDefaultTimeout: 10 * time.Minute,
		ExecutorMode:       ExecutorConcurrent,
		RetryOverrides:     map[string]RetryPolicy{},
		EventsMaxLen:       10000,
	}
}

func applyOptions(opts ...Option) (Options, error) {
	cfg := &config{opts: defaultOptions()}
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return Options{}, err
		}
	}
	return cfg.opts, nil
}

// WithResultCacheTTL sets the TTL for cached handler outputs.
// Default: 1h.
func WithResultCacheTTL(d time.Duration) Option {
	return func(c *config) error { c.opts.ResultCacheTTL = d; return nil }
}

// WithHeartbeatInterval sets how often a running node's heartbeat is
// refreshed. Default: 20s.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *config) error { c.opts.HeartbeatInterval = d; return nil }
}

// WithHeartbeatStale sets how long a heartbeat may go unrefreshed before
// Recovery presumes the runner dead. Should be >= 3x HeartbeatInterval
// (spec.md §4.2). Default: 5m.
func WithHeartbeatStale(d time.Duration) Option {
	return func(c *config) error { c.opts.HeartbeatStale = d; return nil }
}

// WithDecideLockTTL sets the TTL of the per-execution decide-loop lock.
// Default: 60s.
func WithDecideLockTTL(d time.Duration) Option {
	return func(c *config) error { c.opts.DecideLockTTL = d; return nil }
}

// WithSweeperInterval sets how often Recovery's cron sweep runs.
// Default: 60s.
func WithSweeperInterval(d time.Duration) Option {
	return func(c *config) error { c.opts.SweeperInterval = d; return nil }
}

// WithNodeDefaultTimeout sets the timeout applied to nodes with no
// explicit per-type override. Default: 10m.
func WithNodeDefaultTimeout(d time.Duration) Option {
	return func(c *config) error { c.opts.NodeDefaultTimeout = d; return nil }
}

// WithExecutorMode selects sequential or concurrent dispatch of ready
// nodes within a decide iteration. Default: ExecutorConcurrent.
func WithExecutorMode(mode ExecutorMode) Option {
	return func(c *config) error { c.opts.ExecutorMode = mode; return nil }
}

// WithRetryOverride registers a RetryPolicy for a specific node type,
// overriding DefaultRetryPolicy for that type.
func WithRetryOverride(nodeType string, policy RetryPolicy) Option {
	return func(c *config) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		if c.opts.RetryOverrides == nil {
			c.opts.RetryOverrides = map[string]RetryPolicy{}
		}
		c.opts.RetryOverrides[nodeType] = policy
		return nil
	}
}

// WithEventsMaxLen caps the length of each execution's event stream.
// Default: 10000. Set to 0 to disable capping.
func WithEventsMaxLen(n int64) Option {
	return func(c *config) error { c.opts.EventsMaxLen = n; return nil }
}

// WithMetrics attaches a Metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *config) error { c.opts.Metrics = m; return nil }
}

// WithRateLimiter caps the rate at which ready nodes are dispatched to
// handlers, independent of how many are ready at once — a backpressure
// knob for handlers that wrap a rate-limited external API. Unset by
// default (no limiting).
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *config) error { c.opts.Limiter = l; return nil }
}
