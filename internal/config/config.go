// Package config builds the process-wide configuration from the environment.
// The value is constructed once in main and handed to the pipeline explicitly;
// nothing in the service reads environment variables after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Detector transport variants. A deployment picks exactly one.
const (
	VariantREST = "rest"
	VariantMCP  = "mcp"
)

// Config holds every runtime setting of the detection service.
type Config struct {
	ListenAddr string
	LogLevel   string

	// PublicScheme is the fallback scheme for published asset URLs when the
	// reverse proxy does not send X-Forwarded-Proto.
	PublicScheme string

	UploadDir      string
	UploadTTL      time.Duration
	MaxUploadBytes int64

	// DetectorVariant selects how the external detector is called, either
	// VariantREST or VariantMCP.
	DetectorVariant  string
	WinstonAPIURL    string
	WinstonMCPURL    string
	WinstonAPIKey    string
	SelfCheckTimeout time.Duration
	DetectTimeout    time.Duration

	DatabaseDSN string
	RedisAddr   string

	// AuthJWTSecret enables the bearer-token gate on the API routes when
	// non-empty. Uploads read-back and healthz are always public.
	AuthJWTSecret   string
	AuthJWTAudience string
}

// Load reads an optional .env file, then the environment, and returns the
// assembled configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	// Ignore the error on purpose: absent .env means plain env vars.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		PublicScheme:    getEnv("PUBLIC_SCHEME", "http"),
		UploadDir:       getEnv("UPLOAD_DIR", "./data/uploads"),
		DetectorVariant: strings.ToLower(getEnv("DETECTOR_VARIANT", VariantREST)),
		WinstonAPIURL:   getEnv("WINSTON_API_URL", "https://api.gowinston.ai/v2/image-detection"),
		WinstonMCPURL:   getEnv("WINSTON_MCP_URL", "https://api.gowinston.ai/mcp"),
		WinstonAPIKey:   os.Getenv("WINSTON_API_KEY"),
		DatabaseDSN:     getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=aidetect port=5432 sslmode=disable"),
		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		AuthJWTSecret:   os.Getenv("AUTH_JWT_SECRET"),
		AuthJWTAudience: os.Getenv("AUTH_JWT_AUDIENCE"),
	}

	var err error
	if cfg.UploadTTL, err = getDuration("UPLOAD_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SelfCheckTimeout, err = getDuration("SELF_CHECK_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.DetectTimeout, err = getDuration("DETECT_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = getInt64("MAX_UPLOAD_BYTES", 10<<20); err != nil {
		return nil, err
	}

	if cfg.DetectorVariant != VariantREST && cfg.DetectorVariant != VariantMCP {
		return nil, fmt.Errorf("config: DETECTOR_VARIANT must be %q or %q, got %q",
			VariantREST, VariantMCP, cfg.DetectorVariant)
	}

	return cfg, nil
}

// DetectorEndpoint returns the upstream URL for the selected variant.
func (c *Config) DetectorEndpoint() string {
	if c.DetectorVariant == VariantMCP {
		return c.WinstonMCPURL
	}
	return c.WinstonAPIURL
}

// AuthEnabled reports whether the bearer-token gate is configured.
func (c *Config) AuthEnabled() bool {
	return c.AuthJWTSecret != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, value, err)
	}
	return n, nil
}
