package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	BusBrokerURL string        `env:"BUS_BROKER_URL,required"`
	BusClientID  string        `env:"BUS_CLIENT_ID" envDefault:"tankwatch"`
	BusUsername  string        `env:"BUS_USERNAME"`
	BusPassword  string        `env:"BUS_PASSWORD"`
	BusTimeout   time.Duration `env:"BUS_TIMEOUT" envDefault:"5s"`

	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	HotRetentionDays int           `env:"HOT_RETENTION_DAYS" envDefault:"7"`

	ArchiveEnabled bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	S3Endpoint     string `env:"S3_ENDPOINT"`
	S3Region       string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket       string `env:"S3_BUCKET"`
	S3Prefix       string `env:"S3_PREFIX"`
	S3AccessKey    string `env:"S3_ACCESS_KEY"`
	S3SecretKey    string `env:"S3_SECRET_KEY"`

	WatchdogPath string `env:"WATCHDOG_PATH"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	BusBrokerURL string
	DataDir      string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.BusBrokerURL != "" {
		cfg.BusBrokerURL = overrides.BusBrokerURL
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}

	return cfg, nil
}
