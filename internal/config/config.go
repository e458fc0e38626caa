package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	BackendURL     string        `env:"FINDER_BACKEND_URL,required"`
	HTTPAddr       string        `env:"FINDER_HTTP_ADDR" envDefault:":8080"`
	RequestTimeout time.Duration `env:"FINDER_REQUEST_TIMEOUT" envDefault:"10s"`
	RetryDelay     time.Duration `env:"FINDER_SCAN_RETRY_DELAY" envDefault:"500ms"`
	TickInterval   time.Duration `env:"FINDER_TICK_INTERVAL" envDefault:"500ms"`
	// Empty keeps progress in memory only.
	DatabaseURL    string `env:"FINDER_DATABASE_URL"`
	LogLevel       string `env:"FINDER_LOG_LEVEL" envDefault:"info"`
	LogDev         bool   `env:"FINDER_LOG_DEV"`
	UnionCollected bool   `env:"FINDER_UNION_COLLECTED"`
	ScanOnStart    bool   `env:"FINDER_SCAN_ON_START" envDefault:"true"`
	// Hosts besides our own that may open the websocket, e.g. "localhost:5173".
	AllowedOrigins []string `env:"FINDER_ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads an optional .env file from the working directory, then the
// environment. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.RetryDelay <= 0 || cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("retry delay and tick interval must be positive")
	}
	return &cfg, nil
}
