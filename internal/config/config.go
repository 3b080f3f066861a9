package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	DBPath   string `envconfig:"DB_PATH" default:"./data/companion.db"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error

	SchedulerTZ           string        `envconfig:"SCHEDULER_TZ" default:"Asia/Shanghai"`
	SchedulerWorkers      int           `envconfig:"SCHEDULER_WORKERS" default:"4"`
	SchedulerDrainTimeout time.Duration `envconfig:"SCHEDULER_DRAIN_TIMEOUT" default:"10s"`
	GenerationTimeout     time.Duration `envconfig:"GENERATION_TIMEOUT" default:"30s"`
	NoScheduler           bool          `envconfig:"NO_SCHEDULER" default:"false"`

	AIProvider string `envconfig:"AI_PROVIDER" default:"openai"` // openai|static
	AIBaseURL  string `envconfig:"AI_BASE_URL" default:"https://api.deepseek.com/v1"`
	AIAPIKey   string `envconfig:"AI_API_KEY"`
	AIModel    string `envconfig:"AI_MODEL" default:"deepseek-chat"`

	BotToken         string   `envconfig:"BOT_TOKEN"` // Telegram disabled when empty
	WSAllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS" default:"*"`
}

// Load reads an optional .env file, then environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.SchedulerTZ); err != nil {
		return fmt.Errorf("SCHEDULER_TZ: %w", err)
	}
	if c.SchedulerWorkers < 1 {
		return errors.New("SCHEDULER_WORKERS must be at least 1")
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("GENERATION_TIMEOUT must be positive")
	}
	if c.SchedulerDrainTimeout < 0 {
		return errors.New("SCHEDULER_DRAIN_TIMEOUT must not be negative")
	}
	switch strings.ToLower(c.AIProvider) {
	case "static":
	case "openai":
		if c.AIAPIKey == "" {
			return errors.New("AI_API_KEY is required when AI_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("AI_PROVIDER: unknown provider %q", c.AIProvider)
	}
	return nil
}

// Location returns the scheduler clock. Validate guarantees it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SchedulerTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
