package observability

import "errors"

// ErrNilConfig is returned when NewProvider is called without configuration.
var ErrNilConfig = errors.New("observability: config is nil")

// ErrMissingServiceName is returned when an exporter is selected but no service name is configured.
var ErrMissingServiceName = errors.New("observability: service name is required when an exporter is configured")

// ErrInvalidExporter is returned when the exporter is not none, stdout, otlp-http or otlp-grpc.
var ErrInvalidExporter = errors.New("observability: exporter must be one of none, stdout, otlp-http or otlp-grpc")

// ErrInvalidEndpointFormat is returned when an OTLP endpoint carries a URL scheme.
// Both OTLP exporters take a plain "host:port".
var ErrInvalidEndpointFormat = errors.New("observability: endpoint must be host:port without a scheme")
