package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness, collecting every problem
// so callers can report them all at once.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateGateway(cfg, ve)
	validateResolver(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateGateway(cfg *Config, ve *ValidationError) {
	u, err := url.Parse(cfg.Gateway.URL)
	if err != nil {
		ve.Add("gateway.url: %v", err)
		return
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		ve.Add("gateway.url: scheme must be ws or wss, got %q", u.Scheme)
	}
	if cfg.Gateway.ConversationID == "" {
		ve.Add("gateway.conversation_id: must not be empty")
	}
	if cfg.Gateway.BackoffBase < 0 || cfg.Gateway.BackoffCap < 0 {
		ve.Add("gateway: backoff durations must not be negative")
	}
	if cfg.Gateway.BackoffCap > 0 && cfg.Gateway.BackoffBase > cfg.Gateway.BackoffCap {
		ve.Add("gateway: backoff_base %s exceeds backoff_cap %s", cfg.Gateway.BackoffBase, cfg.Gateway.BackoffCap)
	}
}

func validateResolver(cfg *Config, ve *ValidationError) {
	u, err := url.Parse(cfg.Resolver.Endpoint)
	if err != nil {
		ve.Add("resolver.endpoint: %v", err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		ve.Add("resolver.endpoint: scheme must be http or https, got %q", u.Scheme)
	}
	if cfg.Resolver.TTLSeconds < 0 {
		ve.Add("resolver.ttl_seconds: must not be negative")
	}
	if cfg.Resolver.RequestsPerSec < 0 {
		ve.Add("resolver.requests_per_sec: must not be negative")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level: unknown level %q", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format: must be text or json, got %q", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter: unsupported exporter %q", cfg.Tracer.Exporter)
	}
}
