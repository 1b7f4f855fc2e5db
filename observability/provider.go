// Package observability builds the OpenTelemetry trace and meter providers
// that scope lifecycle telemetry is exported through.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gaborage/dbscope/config"
	"github.com/gaborage/dbscope/logger"
)

// Exporter names accepted in tracking.exporter.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Provider is the interface for observability providers.
// It manages the lifecycle of tracing and metrics providers.
type Provider interface {
	// TracerProvider returns the configured trace provider.
	TracerProvider() trace.TracerProvider

	// MeterProvider returns the configured meter provider.
	MeterProvider() metric.MeterProvider

	// Shutdown flushes pending telemetry and stops the exporters.
	// It should be called during application shutdown.
	Shutdown(ctx context.Context) error

	// ForceFlush immediately exports any pending telemetry data.
	ForceFlush(ctx context.Context) error
}

// Option customizes NewProvider.
type Option func(*provider)

// WithLogger reports provider setup on log.
func WithLogger(log logger.Logger) Option {
	return func(p *provider) {
		if log != nil {
			p.log = log
		}
	}
}

// WithWriter redirects the stdout exporters to w.
func WithWriter(w io.Writer) Option {
	return func(p *provider) {
		p.out = w
	}
}

// WithServiceVersion adds service.version to the exported resource.
func WithServiceVersion(version string) Option {
	return func(p *provider) {
		p.version = version
	}
}

// WithoutGlobals keeps the process-wide otel providers untouched. Scopes then
// need WithTracerProvider and WithMeterProvider to use this provider.
func WithoutGlobals() Option {
	return func(p *provider) {
		p.skipGlobals = true
	}
}

// provider implements Provider with OpenTelemetry SDK.
type provider struct {
	cfg            config.TrackingConfig
	log            logger.Logger
	out            io.Writer
	version        string
	skipGlobals    bool
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	mu             sync.Mutex
}

// NewProvider creates the providers selected by cfg. Disabled tracking yields
// no-op providers; exporter none yields the process-wide providers as they
// are. Otherwise SDK providers with the selected exporter are created and
// installed globally along with the W3C trace context propagator.
func NewProvider(cfg *config.TrackingConfig, opts ...Option) (Provider, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	p := &provider{cfg: *cfg, log: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}

	if !p.cfg.Enabled {
		p.log.Debug().Msg("Tracking disabled, using no-op providers")
		return newNoopProvider(), nil
	}
	if p.cfg.Exporter == "" || p.cfg.Exporter == ExporterNone {
		p.log.Debug().Msg("No exporter configured, using global providers")
		return newGlobalProvider(), nil
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid tracking config: %w", err)
	}

	res, err := p.createResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if err := p.initTraceProvider(res); err != nil {
		return nil, fmt.Errorf("failed to initialize trace provider: %w", err)
	}
	if err := p.initMeterProvider(res); err != nil {
		_ = p.tracerProvider.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
	}

	if !p.skipGlobals {
		otel.SetTracerProvider(p.tracerProvider)
		otel.SetMeterProvider(p.meterProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	p.log.Info().
		Str("exporter", p.cfg.Exporter).
		Str("endpoint", p.cfg.Endpoint).
		Str("service", p.cfg.ServiceName).
		Msg("Observability provider created")
	return p, nil
}

// MustNewProvider is like NewProvider but panics on error.
func MustNewProvider(cfg *config.TrackingConfig, opts ...Option) Provider {
	p, err := NewProvider(cfg, opts...)
	if err != nil {
		panic(fmt.Errorf("failed to create observability provider: %w", err))
	}
	return p
}

func (p *provider) validate() error {
	switch p.cfg.Exporter {
	case ExporterStdout:
	case ExporterOTLPHTTP, ExporterOTLPGRPC:
		if strings.Contains(p.cfg.Endpoint, "://") {
			return fmt.Errorf("endpoint %q: %w", p.cfg.Endpoint, ErrInvalidEndpointFormat)
		}
	default:
		return fmt.Errorf("exporter %q: %w", p.cfg.Exporter, ErrInvalidExporter)
	}
	if p.cfg.ServiceName == "" {
		return ErrMissingServiceName
	}
	return nil
}

func (p *provider) createResource() (*resource.Resource, error) {
	attrs := resource.WithAttributes(semconv.ServiceName(p.cfg.ServiceName))
	custom, err := resource.New(context.Background(), attrs)
	if err != nil {
		return nil, err
	}
	if p.version != "" {
		custom, err = resource.Merge(custom, resource.NewSchemaless(semconv.ServiceVersion(p.version)))
		if err != nil {
			return nil, err
		}
	}
	return resource.Merge(resource.Default(), custom)
}

func (p *provider) initTraceProvider(res *resource.Resource) error {
	exporter, err := p.createTraceExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return nil
}

func (p *provider) createTraceExporter() (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	switch p.cfg.Exporter {
	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if p.out != nil {
			opts = append(opts, stdouttrace.WithWriter(p.out))
		}
		return stdouttrace.New(opts...)
	case ExporterOTLPHTTP:
		var opts []otlptracehttp.Option
		if p.cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(p.cfg.Endpoint))
		}
		if p.cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		var opts []otlptracegrpc.Option
		if p.cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(p.cfg.Endpoint))
		}
		if p.cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlptracegrpc.New(ctx, opts...)
	}
}

// TracerProvider returns the configured trace provider.
func (p *provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// MeterProvider returns the configured meter provider.
func (p *provider) MeterProvider() metric.MeterProvider {
	return p.meterProvider
}

// Shutdown flushes and stops both providers.
//
//nolint:dupl // Shutdown and ForceFlush have similar structure but different semantics
func (p *provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown trace provider: %w", err))
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// ForceFlush immediately exports any pending telemetry data.
//
//nolint:dupl // Shutdown and ForceFlush have similar structure but different semantics
func (p *provider) ForceFlush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if err := p.tracerProvider.ForceFlush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush trace provider: %w", err))
	}
	if err := p.meterProvider.ForceFlush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush meter provider: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("flush errors: %w", errors.Join(errs...))
	}
	return nil
}
