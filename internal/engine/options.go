package engine

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/rover/internal/metrics"
)

// Defaults applied when an Option leaves a setting unset.
const (
	DefaultCallTimeout = 30 * time.Second
	DefaultRetention   = 30 * 24 * time.Hour
	DefaultErrorPause  = time.Second
)

// settings is shared by the Dispatcher, Scheduler, Ingestor and Engine.
type settings struct {
	clock       Clock
	ids         IDGenerator
	retry       RetryPolicy
	callTimeout time.Duration
	retention   time.Duration
	errorPause  time.Duration
	markRead    bool
	schedule    cron.Schedule
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures engine components.
type Option func(*settings)

func newSettings(opts []Option) settings {
	s := settings{
		clock:       SystemClock,
		ids:         UUIDv7Generator{},
		retry:       DefaultRetryPolicy(),
		callTimeout: DefaultCallTimeout,
		retention:   DefaultRetention,
		errorPause:  DefaultErrorPause,
		markRead:    true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.schedule == nil {
		s.schedule = cron.Every(5 * time.Minute)
	}
	if s.retry.AttemptTimeout == 0 {
		s.retry.AttemptTimeout = s.callTimeout
	}
	return s
}

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator sets the statistics id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *settings) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithRetryPolicy replaces the retry policy. Default: DefaultRetryPolicy.
// A zero AttemptTimeout inherits the call timeout.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *settings) { s.retry = p }
}

// WithCallTimeout bounds every handler call attempt. Default: 30s.
func WithCallTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithRetention sets how long dedup records are kept. Default: 30 days.
func WithRetention(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithErrorPause sets the wait after a failed stream read. Default: 1s.
func WithErrorPause(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.errorPause = d
		}
	}
}

// WithMarkRead controls whether inbox messages are marked read. Default: true.
func WithMarkRead(markRead bool) Option {
	return func(s *settings) { s.markRead = markRead }
}

// WithSchedule sets the scheduler tick schedule. Default: every 5 minutes.
func WithSchedule(sched cron.Schedule) Option {
	return func(s *settings) { s.schedule = sched }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}
