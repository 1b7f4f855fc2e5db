package scope

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/dbscope/database/types"
	"github.com/gaborage/dbscope/logger"
)

type options struct {
	log              logger.Logger
	pattern          string
	maxDepth         int
	openTimeout      time.Duration
	defaultIsolation types.IsolationLevel
	tracking         bool
	tracerProvider   trace.TracerProvider
	meterProvider    metric.MeterProvider
}

func defaultOptions() options {
	return options{
		pattern:  DefaultDeadlockPattern,
		maxDepth: DefaultMaxCauseDepth,
		tracking: true,
	}
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithDeadlockPattern sets the case-sensitive substring that marks a client
// error as a deadlock. An empty pattern keeps the default.
func WithDeadlockPattern(pattern string) Option {
	return func(o *options) {
		if pattern != "" {
			o.pattern = pattern
		}
	}
}

// WithMaxCauseDepth bounds the cause chain walk of IsDeadlock. Values below
// one keep the default.
func WithMaxCauseDepth(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

// WithOpenTimeout bounds a single connection open attempt. Zero leaves the
// caller's context as the only bound.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		o.openTimeout = d
	}
}

// WithDefaultIsolation sets the level returned by Manager.DefaultIsolation.
func WithDefaultIsolation(level types.IsolationLevel) Option {
	return func(o *options) {
		o.defaultIsolation = level
	}
}

// WithTracking enables or disables spans and metrics. Enabled by default
// using the global otel providers.
func WithTracking(enabled bool) Option {
	return func(o *options) {
		o.tracking = enabled
	}
}

// WithTracerProvider sets the tracer provider used for lifecycle spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider used for lifecycle metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}
