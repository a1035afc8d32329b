package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration (spec §7).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig holds the HTTP/WebSocket listener settings shared by the
// webhook routes and the two gateway sockets.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	StaffWSAddr     string        `yaml:"staff_ws_addr"`
	GuestWSAddr     string        `yaml:"guest_ws_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the SQLite file location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// JWTConfig holds the staff socket's access/refresh token signing settings.
type JWTConfig struct {
	Secret            string        `yaml:"secret"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl"`
	Issuer            string        `yaml:"issuer"`
}

// RateLimitConfig mirrors internal/infra/middleware.RateLimitConfig for the
// short-message, instant-messaging and email webhook HTTP routes.
type RateLimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"`
	BurstSize      int      `yaml:"burst_size"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// SecurityConfig holds the passphrase ExtensionConfig.Config is encrypted
// at rest with (internal/security.AESContentEncryptor). Empty disables
// encryption — extension configs are then stored as plaintext JSON, which
// is only acceptable for local development.
type SecurityConfig struct {
	ContentEncryptionKey string `yaml:"content_encryption_key"`
}

// defaultDataDir returns the persistent data directory under $HOME/.butler.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".butler", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			StaffWSAddr:     ":8081",
			GuestWSAddr:     ":8082",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "butler.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		JWT: JWTConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			Issuer:          "butler",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMin: 100,
			BurstSize:      20,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and validates
// the result. A missing file is not an error: defaults plus env overrides
// are returned instead.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps BUTLER_* env vars to config fields, following the
// teacher's ALFREDAI_* convention renamed to this project's prefix.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUTLER_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BUTLER_SERVER_STAFF_WS_ADDR"); v != "" {
		cfg.Server.StaffWSAddr = v
	}
	if v := os.Getenv("BUTLER_SERVER_GUEST_WS_ADDR"); v != "" {
		cfg.Server.GuestWSAddr = v
	}
	if v := os.Getenv("BUTLER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BUTLER_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("BUTLER_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("BUTLER_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("BUTLER_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("BUTLER_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("BUTLER_TRACER_ENDPOINT"); v != "" {
		cfg.Tracer.Endpoint = v
	}
	if v := os.Getenv("BUTLER_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("BUTLER_JWT_ISSUER"); v != "" {
		cfg.JWT.Issuer = v
	}
	if v := os.Getenv("BUTLER_JWT_ACCESS_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JWT.AccessTokenTTL = d
		}
	}
	if v := os.Getenv("BUTLER_JWT_REFRESH_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JWT.RefreshTokenTTL = d
		}
	}
	if v := os.Getenv("BUTLER_RATE_LIMIT_REQUESTS_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("BUTLER_RATE_LIMIT_BURST_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.BurstSize = n
		}
	}
	if v := os.Getenv("BUTLER_SECURITY_CONTENT_ENCRYPTION_KEY"); v != "" {
		cfg.Security.ContentEncryptionKey = v
	}
}
