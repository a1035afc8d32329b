package config

import (
	"fmt"
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
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError when one or more problems are found, allowing callers to
// inspect all issues rather than failing on the first.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateDatabase(cfg, ve)
	validateLogger(cfg, ve)
	validateJWT(cfg, ve)
	validateRateLimit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	}
	if cfg.Server.StaffWSAddr == "" {
		ve.Add("server.staff_ws_addr must not be empty")
	}
	if cfg.Server.GuestWSAddr == "" {
		ve.Add("server.guest_ws_addr must not be empty")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		ve.Add("server.shutdown_timeout must be positive")
	}
}

func validateDatabase(cfg *Config, ve *ValidationError) {
	if cfg.Database.Path == "" {
		ve.Add("database.path must not be empty")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"text": true, "json": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[cfg.Logger.Level] {
		ve.Add("logger.level must be one of debug, info, warn, error, got %q", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format must be one of text, json, got %q", cfg.Logger.Format)
	}
}

func validateJWT(cfg *Config, ve *ValidationError) {
	if cfg.JWT.Secret == "" {
		ve.Add("jwt.secret must not be empty (set BUTLER_JWT_SECRET)")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		ve.Add("jwt.access_token_ttl must be positive")
	}
	if cfg.JWT.RefreshTokenTTL <= cfg.JWT.AccessTokenTTL {
		ve.Add("jwt.refresh_token_ttl must exceed jwt.access_token_ttl")
	}
}

func validateRateLimit(cfg *Config, ve *ValidationError) {
	if cfg.RateLimit.RequestsPerMin <= 0 {
		ve.Add("rate_limit.requests_per_min must be positive")
	}
	if cfg.RateLimit.BurstSize <= 0 {
		ve.Add("rate_limit.burst_size must be positive")
	}
}
