// Package testing provides in-memory OpenTelemetry providers and assertion
// helpers for dbscope tests.
//
//	tp := obtest.NewTestTraceProvider()
//	mp := obtest.NewTestMeterProvider()
//	m, _ := scope.New(cs, driver, scope.WithTracerProvider(tp), scope.WithMeterProvider(mp))
//	...
//	obtest.NewSpanCollector(t, tp.Exporter).WithName("dbscope.begin").AssertCount(1)
//	obtest.AssertSumWithAttribute(t, mp.Collect(t), "db.scope.transactions", "db.scope.outcome", "committed", 1)
package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const metricNotFoundErrMsg = "metric %s not found"

// TestTraceProvider wraps the SDK TracerProvider and in-memory exporter for testing.
type TestTraceProvider struct {
	*sdktrace.TracerProvider
	Exporter *tracetest.InMemoryExporter
}

// NewTestTraceProvider creates a TracerProvider that exports synchronously to
// memory.
func NewTestTraceProvider() *TestTraceProvider {
	exporter := tracetest.NewInMemoryExporter()
	return &TestTraceProvider{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)),
		Exporter:       exporter,
	}
}

// TestMeterProvider wraps the SDK MeterProvider and manual reader for testing.
type TestMeterProvider struct {
	*sdkmetric.MeterProvider
	Reader *sdkmetric.ManualReader
}

// NewTestMeterProvider creates a MeterProvider read on demand by Collect.
func NewTestMeterProvider() *TestMeterProvider {
	reader := sdkmetric.NewManualReader()
	return &TestMeterProvider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		Reader:        reader,
	}
}

// Collect reads all metrics recorded so far.
func (tmp *TestMeterProvider) Collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tmp.Reader.Collect(context.Background(), &rm), "failed to collect metrics")
	return rm
}

// SpanCollector filters captured spans.
type SpanCollector struct {
	t     *testing.T
	spans tracetest.SpanStubs
}

// NewSpanCollector snapshots the spans held by exporter.
func NewSpanCollector(t *testing.T, exporter *tracetest.InMemoryExporter) *SpanCollector {
	t.Helper()
	return &SpanCollector{t: t, spans: exporter.GetSpans()}
}

// WithName keeps spans named name.
func (sc *SpanCollector) WithName(name string) *SpanCollector {
	filtered := make(tracetest.SpanStubs, 0, len(sc.spans))
	for i := range sc.spans {
		if sc.spans[i].Name == name {
			filtered = append(filtered, sc.spans[i])
		}
	}
	return &SpanCollector{t: sc.t, spans: filtered}
}

// Names returns span names in end order.
func (sc *SpanCollector) Names() []string {
	names := make([]string, 0, len(sc.spans))
	for i := range sc.spans {
		names = append(names, sc.spans[i].Name)
	}
	return names
}

// First returns the first span, failing the test when there is none.
func (sc *SpanCollector) First() tracetest.SpanStub {
	sc.t.Helper()
	require.NotEmpty(sc.t, sc.spans, "no spans in collection")
	return sc.spans[0]
}

// AssertCount asserts the number of collected spans.
func (sc *SpanCollector) AssertCount(expected int) *SpanCollector {
	sc.t.Helper()
	assert.Len(sc.t, sc.spans, expected, "unexpected number of spans")
	return sc
}

// AssertSpanAttribute asserts a string, int64 or bool span attribute.
func AssertSpanAttribute(t *testing.T, span *tracetest.SpanStub, key string, expected any) {
	t.Helper()
	for _, attr := range span.Attributes {
		if string(attr.Key) != key {
			continue
		}
		switch v := expected.(type) {
		case string:
			assert.Equal(t, v, attr.Value.AsString(), "attribute %s value mismatch", key)
		case int:
			assert.Equal(t, int64(v), attr.Value.AsInt64(), "attribute %s value mismatch", key)
		case int64:
			assert.Equal(t, v, attr.Value.AsInt64(), "attribute %s value mismatch", key)
		case bool:
			assert.Equal(t, v, attr.Value.AsBool(), "attribute %s value mismatch", key)
		default:
			t.Fatalf("unsupported attribute value type: %T", expected)
		}
		return
	}
	t.Errorf("attribute %s not found in span", key)
}

// AssertSpanError asserts an error status and a recorded exception event.
func AssertSpanError(t *testing.T, span *tracetest.SpanStub) {
	t.Helper()
	assert.Equal(t, codes.Error, span.Status.Code, "expected error status")
	assert.NotEmpty(t, span.Events, "expected the error to be recorded")
}

// FindMetric returns the named metric or nil.
func FindMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// SumTotal adds up every data point of an int64 counter. A missing metric
// counts as zero.
func SumTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	return sumWhere(t, rm, name, func(attribute.Set) bool { return true })
}

// AssertSumWithAttribute asserts the value of the int64 counter data point
// carrying key=value.
func AssertSumWithAttribute(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string, expected int64) {
	t.Helper()
	got := sumWhere(t, rm, name, func(set attribute.Set) bool {
		v, ok := set.Value(attribute.Key(key))
		return ok && v.AsString() == value
	})
	assert.Equal(t, expected, got, "metric %s{%s=%s} value mismatch", name, key, value)
}

// HistogramCount returns the total number of float64 histogram recordings.
func HistogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	m := FindMetric(rm, name)
	require.NotNil(t, m, metricNotFoundErrMsg, name)
	data, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "metric %s is not a float64 histogram", name)

	var total uint64
	for _, dp := range data.DataPoints {
		total += dp.Count
	}
	return total
}

func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, match func(attribute.Set) bool) int64 {
	t.Helper()
	m := FindMetric(rm, name)
	if m == nil {
		return 0
	}
	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", name)

	var total int64
	for _, dp := range data.DataPoints {
		if match(dp.Attributes) {
			total += dp.Value
		}
	}
	return total
}
