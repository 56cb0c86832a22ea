// Package config provides an optional YAML defaults overlay for the
// dispatcher's CLI flags, with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"

	"go.yaml.in/yaml/v3"
)

// Config holds defaults for any of spec.md §6's CLI flags. Every field is a
// pointer so a config file can supply a subset of flags without the zero
// value of an unset field silently overriding one the caller did pass on
// the command line -- flags always win (SPEC_FULL.md §4.9).
type Config struct {
	RequestsFilepath     *string  `yaml:"requests_filepath"`
	SaveFilepath         *string  `yaml:"save_filepath"`
	RequestURL           *string  `yaml:"request_url"`
	APIKey               *string  `yaml:"api_key"`
	MaxRequestsPerMinute *float64 `yaml:"max_requests_per_minute"`
	MaxTokensPerMinute   *float64 `yaml:"max_tokens_per_minute"`
	TokenEncodingName    *string  `yaml:"token_encoding_name"`
	MaxAttempts          *int     `yaml:"max_attempts"`
	LoggingLevel         *string  `yaml:"logging_level"`
	StatusAddr           *string  `yaml:"status_addr"`
	OTLPEndpoint         *string  `yaml:"otlp_endpoint"`
	Metrics              *bool    `yaml:"metrics"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values,
// leaving the pattern untouched when the variable is unset -- matching the
// teacher's internal/config loader.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses an optional YAML overlay file, expanding
// environment variables. An empty path is not an error; it returns a zero
// Config with every field unset, so a missing --config flag never blocks a
// run.
func Load(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// StringOr returns *p if p is non-nil, else fallback.
func StringOr(p *string, fallback string) string {
	if p != nil {
		return *p
	}
	return fallback
}

// Float64Or returns *p if p is non-nil, else fallback.
func Float64Or(p *float64, fallback float64) float64 {
	if p != nil {
		return *p
	}
	return fallback
}

// IntOr returns *p if p is non-nil, else fallback.
func IntOr(p *int, fallback int) int {
	if p != nil {
		return *p
	}
	return fallback
}

// BoolOr returns *p if p is non-nil, else fallback.
func BoolOr(p *bool, fallback bool) bool {
	if p != nil {
		return *p
	}
	return fallback
}
