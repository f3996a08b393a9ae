// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mbd888/humancheck/internal/security"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string `validate:"required,numeric"`
	Env       string `validate:"oneof=development staging production"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`

	// Audit store
	LogDir             string `validate:"required"`
	LogPath            string `validate:"required"`
	AuditRetryAttempts int    `validate:"min=1,max=10"`

	// Abuse controls
	RateLimitRPM   int      `validate:"min=1"`
	RateLimitBurst int      `validate:"min=1"`
	AllowedOrigins []string `validate:"min=1,dive,required"`

	// Tracing (disabled when empty)
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort               = "3000"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultLogDir             = "storage"
	ServerlessLogDir          = "/tmp"
	AuditLogFile              = "access_log.csv"
	DefaultRateLimitRPM       = 60
	DefaultRateLimitBurst     = 10
	DefaultAuditRetryAttempts = 3
)

var validate = validator.New()

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	logDir := getEnv("LOG_DIR", defaultLogDir())
	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", DefaultLogLevel)),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", DefaultLogFormat)),
		LogDir:             logDir,
		LogPath:            getEnv("LOG_PATH", filepath.Join(logDir, AuditLogFile)),
		AuditRetryAttempts: getEnvInt("AUDIT_RETRY_ATTEMPTS", DefaultAuditRetryAttempts),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints and the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q check (value %v)", envName(fe.Field()), fe.Tag(), fe.Value())
		}
		return err
	}

	if port, _ := strconv.Atoi(c.Port); port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	for _, o := range c.AllowedOrigins {
		if err := security.ValidateOrigin(o); err != nil {
			return fmt.Errorf("invalid ALLOWED_ORIGINS: %w", err)
		}
		if o == "*" && c.IsProduction() {
			return fmt.Errorf("ALLOWED_ORIGINS must list explicit origins in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

// defaultLogDir keeps the audit store on the only writable path of a
// serverless deployment.
func defaultLogDir() string {
	if os.Getenv("VERCEL") != "" {
		return ServerlessLogDir
	}
	return DefaultLogDir
}

var envNames = map[string]string{
	"Port":               "PORT",
	"Env":                "ENV",
	"LogLevel":           "LOG_LEVEL",
	"LogFormat":          "LOG_FORMAT",
	"LogDir":             "LOG_DIR",
	"LogPath":            "LOG_PATH",
	"AuditRetryAttempts": "AUDIT_RETRY_ATTEMPTS",
	"RateLimitRPM":       "RATE_LIMIT_RPM",
	"RateLimitBurst":     "RATE_LIMIT_BURST",
	"AllowedOrigins":     "ALLOWED_ORIGINS",
}

func envName(field string) string {
	if n, ok := envNames[field]; ok {
		return n
	}
	return field
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
