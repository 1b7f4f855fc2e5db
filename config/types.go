package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config represents the dbscope configuration structure.
// The embedded koanf.Koanf instance allows flexible access to custom keys
// not explicitly defined in the struct.
type Config struct {
	Database DatabaseConfig `koanf:"database" json:"database" yaml:"database"`
	Deadlock DeadlockConfig `koanf:"deadlock" json:"deadlock" yaml:"deadlock"`
	Log      LogConfig      `koanf:"log" json:"log" yaml:"log"`
	Tracking TrackingConfig `koanf:"tracking" json:"tracking" yaml:"tracking"`

	k *koanf.Koanf `json:"-" yaml:"-"`
}

// DatabaseConfig holds the settings of the single logical connection.
type DatabaseConfig struct {
	// Vendor selects the driver: postgresql, oracle, sqlserver or sqlite.
	Vendor string `koanf:"vendor" json:"vendor" yaml:"vendor" validate:"required,oneof=postgresql oracle sqlserver sqlite"`

	// ConnectionString is a "key=value;" descriptor, e.g.
	// "Server=db;Database=app;User Id=svc;Password=secret;".
	ConnectionString string `koanf:"connectionstring" json:"connectionstring" yaml:"connectionstring" validate:"required"`

	// Isolation is the level used by unit-of-work helpers when none is given.
	Isolation string `koanf:"isolation" json:"isolation" yaml:"isolation" validate:"omitempty,oneof=default read-uncommitted read-committed repeatable-read serializable snapshot"`

	Timeout TimeoutConfig `koanf:"timeout" json:"timeout" yaml:"timeout"`
}

// TimeoutConfig holds blocking-operation timeouts.
type TimeoutConfig struct {
	// Open bounds a single connection open attempt. Zero means no extra bound
	// beyond the caller's context.
	Open time.Duration `koanf:"open" json:"open" yaml:"open" validate:"gte=0"`
}

// DeadlockConfig controls deadlock classification of driver errors.
type DeadlockConfig struct {
	// Pattern is matched case-sensitively against client error messages.
	// Default: "deadlock".
	Pattern string `koanf:"pattern" json:"pattern" yaml:"pattern" validate:"required"`

	// MaxDepth caps how deep the cause chain is inspected. Default: 64.
	MaxDepth int `koanf:"maxdepth" json:"maxdepth" yaml:"maxdepth" validate:"gte=1,lte=1024"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`

	// File, when set, sends output to a size-rotated file instead of stdout.
	File       string `koanf:"file" json:"file" yaml:"file"`
	MaxSizeMB  int    `koanf:"maxsizemb" json:"maxsizemb" yaml:"maxsizemb" validate:"gte=0"`
	MaxBackups int    `koanf:"maxbackups" json:"maxbackups" yaml:"maxbackups" validate:"gte=0"`
}

// TrackingConfig toggles OpenTelemetry metrics and spans and selects where
// they are exported.
type TrackingConfig struct {
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	// Exporter is one of none, stdout, otlp-http or otlp-grpc. With none the
	// process-wide otel providers are used as they are.
	Exporter string `koanf:"exporter" json:"exporter" yaml:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`

	// Endpoint is the OTLP collector address (host:port). Empty uses the
	// exporter's default.
	Endpoint string `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Insecure bool   `koanf:"insecure" json:"insecure" yaml:"insecure"`

	ServiceName string `koanf:"servicename" json:"servicename" yaml:"servicename" validate:"required"`

	// Interval is the metric export period.
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" validate:"gte=0"`
}

// String returns the value stored at a dot-separated key, or "" when the
// configuration was not produced by Load.
func (c *Config) String(key string) string {
	if c.k == nil {
		return ""
	}
	return c.k.String(key)
}

// Exists reports whether key was set by any configuration source.
func (c *Config) Exists(key string) bool {
	return c.k != nil && c.k.Exists(key)
}
