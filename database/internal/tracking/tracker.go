// Package tracking records OpenTelemetry spans and metrics for the lifecycle
// events of a unit-of-work scope.
package tracking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/dbscope/logger"
)

const instrumentationName = "github.com/gaborage/dbscope"

// Metric names
const (
	MetricConnectionOpens   = "db.scope.connection.opens"
	MetricTransactions      = "db.scope.transactions"
	MetricDeadlocks         = "db.scope.deadlocks"
	MetricOperationDuration = "db.scope.operation.duration"
)

// Span names
const (
	SpanOpen     = "dbscope.open"
	SpanBegin    = "dbscope.begin"
	SpanCommit   = "dbscope.commit"
	SpanRollback = "dbscope.rollback"
)

// Attribute keys
const (
	AttrSystem    = "db.system"
	AttrScopeID   = "db.scope.id"
	AttrOperation = "db.operation.name"
	AttrOutcome   = "db.scope.outcome"
	AttrIsolation = "db.scope.isolation"
	AttrError     = "error"
)

// Values of AttrOutcome on MetricTransactions.
const (
	OutcomeBegun          = "begun"
	OutcomeStartFailed    = "start_failed"
	OutcomeCommitted      = "committed"
	OutcomeCommitFailed   = "commit_failed"
	OutcomeRolledBack     = "rolled_back"
	OutcomeRollbackFailed = "rollback_failed"
)

// Tracker emits telemetry for one scope. A nil *Tracker records nothing.
type Tracker struct {
	tracer       trace.Tracer
	opens        metric.Int64Counter
	transactions metric.Int64Counter
	deadlocks    metric.Int64Counter
	duration     metric.Float64Histogram
	attrs        []attribute.KeyValue
}

// New creates a Tracker on the given providers. Instruments that fail to
// register are replaced by no-ops and reported on log.
func New(tp trace.TracerProvider, mp metric.MeterProvider, vendor, scopeID string, log logger.Logger) *Tracker {
	meter := mp.Meter(instrumentationName)
	t := &Tracker{
		tracer: tp.Tracer(instrumentationName),
		attrs: []attribute.KeyValue{
			attribute.String(AttrSystem, vendor),
			attribute.String(AttrScopeID, scopeID),
		},
	}

	var err error
	if t.opens, err = meter.Int64Counter(MetricConnectionOpens,
		metric.WithDescription("Number of physical connection open attempts")); err != nil {
		logInstrumentError(log, MetricConnectionOpens, err)
		t.opens = metricnoop.Int64Counter{}
	}
	if t.transactions, err = meter.Int64Counter(MetricTransactions,
		metric.WithDescription("Transaction lifecycle events by outcome")); err != nil {
		logInstrumentError(log, MetricTransactions, err)
		t.transactions = metricnoop.Int64Counter{}
	}
	if t.deadlocks, err = meter.Int64Counter(MetricDeadlocks,
		metric.WithDescription("Failures classified as deadlocks")); err != nil {
		logInstrumentError(log, MetricDeadlocks, err)
		t.deadlocks = metricnoop.Int64Counter{}
	}
	if t.duration, err = meter.Float64Histogram(MetricOperationDuration,
		metric.WithDescription("Duration of scope lifecycle operations in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		logInstrumentError(log, MetricOperationDuration, err)
		t.duration = metricnoop.Float64Histogram{}
	}
	return t
}

func logInstrumentError(log logger.Logger, name string, err error) {
	if log != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to create metric instrument")
	}
}

// Start opens a span for operation. The returned function ends it,
// recording err and the elapsed time.
func (t *Tracker) Start(ctx context.Context, span, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if t == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	all := t.with(append([]attribute.KeyValue{attribute.String(AttrOperation, operation)}, attrs...)...)
	ctx, s := t.tracer.Start(ctx, span, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(all...))
	return ctx, func(err error) {
		if err != nil {
			s.RecordError(err)
			s.SetStatus(codes.Error, err.Error())
		}
		s.End()

		ms := float64(time.Since(start).Nanoseconds()) / 1e6
		t.duration.Record(ctx, ms, metric.WithAttributes(
			t.with(attribute.String(AttrOperation, operation), attribute.Bool(AttrError, err != nil))...))
	}
}

// ConnectionOpened counts an open attempt.
func (t *Tracker) ConnectionOpened(ctx context.Context, err error) {
	if t == nil {
		return
	}
	t.opens.Add(ctx, 1, metric.WithAttributes(t.with(attribute.Bool(AttrError, err != nil))...))
}

// Transaction counts a transaction lifecycle event.
func (t *Tracker) Transaction(ctx context.Context, outcome string) {
	if t == nil {
		return
	}
	t.transactions.Add(ctx, 1, metric.WithAttributes(t.with(attribute.String(AttrOutcome, outcome))...))
}

// Deadlock counts a failure of operation that was classified as a deadlock.
func (t *Tracker) Deadlock(ctx context.Context, operation string) {
	if t == nil {
		return
	}
	t.deadlocks.Add(ctx, 1, metric.WithAttributes(t.with(attribute.String(AttrOperation, operation))...))
}

// with returns the scope attributes followed by extra, without aliasing t.attrs.
func (t *Tracker) with(extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(t.attrs)+len(extra))
	out = append(out, t.attrs...)
	return append(out, extra...)
}

// Isolation returns the span attribute describing an isolation level.
func Isolation(level string) attribute.KeyValue {
	return attribute.String(AttrIsolation, level)
}
