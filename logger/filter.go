package logger

import (
	"net/url"
	"strings"
)

const (
	// DefaultMaskValue replaces sensitive values in log output
	DefaultMaskValue = "***"

	// DefaultMaxDepth bounds recursion into nested field maps
	DefaultMaxDepth = 8
)

// FilterConfig defines the configuration for sensitive data filtering
type FilterConfig struct {
	// SensitiveFields contains field names whose values should be masked
	SensitiveFields []string
	// MaskValue replaces sensitive data (default: "***")
	MaskValue string
}

// DefaultFilterConfig returns a configuration with common sensitive field names
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		SensitiveFields: []string{
			"password", "passwd", "pwd",
			"secret", "token", "credential",
			"connectionstring", "connection_string", "dsn",
			"database_url", "db_url",
		},
		MaskValue: DefaultMaskValue,
	}
}

// passwordKeys are connection string keywords whose values are always masked
var passwordKeys = []string{"password", "pwd"}

// SensitiveDataFilter masks sensitive values before they reach the log writer
type SensitiveDataFilter struct {
	config *FilterConfig
}

// NewSensitiveDataFilter creates a new filter with the given configuration
func NewSensitiveDataFilter(config *FilterConfig) *SensitiveDataFilter {
	if config == nil {
		config = DefaultFilterConfig()
	}
	if config.MaskValue == "" {
		config.MaskValue = DefaultMaskValue
	}
	return &SensitiveDataFilter{config: config}
}

// FilterString filters sensitive data from string values
func (f *SensitiveDataFilter) FilterString(key, value string) string {
	if f.isSensitiveField(key) {
		return f.maskString(value)
	}
	return value
}

// FilterValue filters sensitive data from arbitrary values
func (f *SensitiveDataFilter) FilterValue(key string, value any) any {
	return f.filterValue(key, value, DefaultMaxDepth)
}

func (f *SensitiveDataFilter) filterValue(key string, value any, depth int) any {
	if value == nil {
		return nil
	}
	if f.isSensitiveField(key) {
		if s, ok := value.(string); ok {
			return f.maskString(s)
		}
		return f.config.MaskValue
	}
	if depth <= 0 {
		return value
	}
	if m, ok := value.(map[string]any); ok {
		filtered := make(map[string]any, len(m))
		for k, v := range m {
			filtered[k] = f.filterValue(k, v, depth-1)
		}
		return filtered
	}
	return value
}

// FilterFields filters a map of fields for sensitive data
func (f *SensitiveDataFilter) FilterFields(fields map[string]any) map[string]any {
	filtered := make(map[string]any, len(fields))
	for key, value := range fields {
		filtered[key] = f.FilterValue(key, value)
	}
	return filtered
}

func (f *SensitiveDataFilter) isSensitiveField(fieldName string) bool {
	lowerFieldName := strings.ToLower(fieldName)
	for _, sensitiveField := range f.config.SensitiveFields {
		if strings.Contains(lowerFieldName, strings.ToLower(sensitiveField)) {
			return true
		}
	}
	return false
}

// maskString keeps the structure of URLs and key=value connection strings
// while hiding their secrets. Anything else is masked completely.
func (f *SensitiveDataFilter) maskString(value string) string {
	if value == "" {
		return value
	}
	if strings.Contains(value, "://") {
		return f.maskURL(value)
	}
	if strings.Contains(value, "=") {
		if masked, ok := f.maskConnectionString(value); ok {
			return masked
		}
	}
	return f.config.MaskValue
}

func (f *SensitiveDataFilter) maskURL(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return f.config.MaskValue
	}
	if parsed.User == nil {
		return urlStr
	}
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return urlStr
	}
	// url.UserPassword would percent-encode the mask characters
	parsed.User = url.User(parsed.User.Username())
	masked := parsed.String()
	at := strings.Index(masked, "@")
	if at < 0 {
		return f.config.MaskValue
	}
	return masked[:at] + ":" + f.config.MaskValue + masked[at:]
}

// maskConnectionString masks password segments of "key=value;key=value" strings
// and of libpq style "key=value key=value" strings. Quoted values are not
// unpicked; a segment whose key is a password keyword is replaced wholesale.
// It reports false when no password segment was found.
func (f *SensitiveDataFilter) maskConnectionString(value string) (string, bool) {
	sep := ";"
	if !strings.Contains(value, ";") && strings.Contains(value, " ") {
		sep = " "
	}
	segments := strings.Split(value, sep)
	found := false
	for i, seg := range segments {
		key, _, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		normalized := strings.ToLower(strings.TrimSpace(key))
		for _, pk := range passwordKeys {
			if normalized == pk {
				segments[i] = key + "=" + f.config.MaskValue
				found = true
				break
			}
		}
	}
	return strings.Join(segments, sep), found
}
