package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/mrtnsch/checkboxes/internal/bitmap"
	"go-simpler.org/env"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	AppEnv          string `env:"APP_ENV" default:"development"`
	Port            string `env:"SERVER_PORT" default:"8080"`
	StoreBackend    string `env:"STORE_BACKEND" default:"redis"`
	RedisURL        string `env:"REDIS_URL"`
	RedisBitmapName string `env:"REDIS_BITMAP_NAME" default:"checkboxes"`
	NumCheckboxes   int    `env:"NUMBER_OF_CHECKBOXES" default:"1000000"`
	StaticDir       string `env:"STATIC_DIR" default:"static"`
	LogLevel        string `env:"LOG_LEVEL" default:"info"`
	LogFormat       string `env:"LOG_FORMAT" default:"text"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRatePerIP     float64 `env:"CONNECTION_RATE_PER_IP" default:"10"`
	ConnectionRateBurst     int     `env:"CONNECTION_RATE_BURST" default:"20"`

	OutboundBufferSize int           `env:"OUTBOUND_BUFFER_SIZE" default:"256"`
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT" default:"2s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case BackendRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required")
		}
		if cfg.RedisBitmapName == "" {
			return errors.New("REDIS_BITMAP_NAME must not be empty")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, cfg.StoreBackend)
	}

	if cfg.NumCheckboxes < 1 || cfg.NumCheckboxes > bitmap.MaxBits {
		return fmt.Errorf("NUMBER_OF_CHECKBOXES must be between 1 and %d, got %d", bitmap.MaxBits, cfg.NumCheckboxes)
	}

	positive := map[string]int{
		"MAX_WEBSOCKET_CONNECTIONS": cfg.MaxWebSocketConnections,
		"MAX_CONNECTIONS_PER_IP":    cfg.MaxConnectionsPerIP,
		"CONNECTION_RATE_BURST":     cfg.ConnectionRateBurst,
		"OUTBOUND_BUFFER_SIZE":      cfg.OutboundBufferSize,
	}
	for name, value := range positive {
		if value < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	if cfg.ConnectionRatePerIP <= 0 {
		return fmt.Errorf("CONNECTION_RATE_PER_IP must be positive, got %v", cfg.ConnectionRatePerIP)
	}
	if cfg.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", cfg.StoreTimeout)
	}

	return nil
}
