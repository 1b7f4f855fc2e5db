// Package config loads dbscope settings from defaults, YAML and the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides, e.g. DBSCOPE_DATABASE_VENDOR.
const EnvPrefix = "DBSCOPE_"

// Default values applied before any other source.
const (
	DefaultDeadlockPattern  = "deadlock"
	DefaultDeadlockMaxDepth = 64
	DefaultLogLevel         = "info"
	DefaultServiceName      = "dbscope"
)

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. The YAML file at path, when path is not empty
// 3. Default values (lowest priority)
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	return finish(k)
}

// LoadFromBytes behaves like Load but reads the YAML document from data.
func LoadFromBytes(data []byte) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}

	return finish(k)
}

func finish(k *koanf.Koanf) (*Config, error) {
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envKey converts DBSCOPE_DATABASE_CONNECTIONSTRING to database.connectionstring.
func envKey(k, v string) (string, any) {
	key := strings.TrimPrefix(k, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "_", "."), v
}

// EnvVarFor returns the environment variable that overrides a dotted key.
func EnvVarFor(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		// No database defaults: vendor and connection string must be explicit.
		"database.isolation":    "read-committed",
		"database.timeout.open": "15s",

		"deadlock.pattern":  DefaultDeadlockPattern,
		"deadlock.maxdepth": DefaultDeadlockMaxDepth,

		"log.level":      DefaultLogLevel,
		"log.pretty":     false,
		"log.maxsizemb":  100,
		"log.maxbackups": 3,

		"tracking.enabled":     true,
		"tracking.exporter":    "none",
		"tracking.servicename": DefaultServiceName,
		"tracking.interval":    "30s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
