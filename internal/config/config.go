package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all process settings read from the environment
type Config struct {
	PipelineFile   string        `env:"PIPELINE_CONFIG"`
	Preset         string        `env:"PIPELINE_PRESET" envDefault:"basic"`
	FailurePolicy  string        `env:"FAILURE_POLICY" envDefault:"ticker"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"console"` // console or json
	WorkDir        string        `env:"PIPELINE_WORKDIR"`
	StageTimeout   time.Duration `env:"STAGE_TIMEOUT" envDefault:"0"` // seconds, 0 = none
	PassthroughOut bool          `env:"STAGE_PASSTHROUGH" envDefault:"false"`
	MetricsAddr    string        `env:"METRICS_ADDR"`
	APIPort        string        `env:"API_PORT" envDefault:"8080"`
	APIEnv         string        `env:"API_ENV" envDefault:"development"`

	DB       DBConfig
	Telegram TelegramConfig
}

// DBConfig holds PostgreSQL settings. History is disabled when Host is empty.
type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// Enabled reports whether run history should be stored.
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// TelegramConfig holds notifier settings. Disabled without a token and chat.
type TelegramConfig struct {
	BotToken   string `env:"TELEGRAM_BOT_TOKEN"`
	ChatID     int64  `env:"TELEGRAM_CHAT_ID"`
	RatePerSec int    `env:"NOTIFY_RATE_PER_SEC" envDefault:"1"`
	OnlyFailed bool   `env:"NOTIFY_ONLY_FAILED" envDefault:"false"`
}

// Enabled reports whether run notifications should be sent.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != 0
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.PipelineFile = os.Getenv("PIPELINE_CONFIG")
	cfg.Preset = getEnvWithDefault("PIPELINE_PRESET", "basic")
	cfg.FailurePolicy = getEnvWithDefault("FAILURE_POLICY", "ticker")
	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvWithDefault("LOG_FORMAT", "console")
	cfg.WorkDir = os.Getenv("PIPELINE_WORKDIR")
	cfg.StageTimeout = time.Duration(getEnvIntWithDefault("STAGE_TIMEOUT", 0)) * time.Second
	cfg.PassthroughOut = getEnvBoolWithDefault("STAGE_PASSTHROUGH", false)
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.APIPort = getEnvWithDefault("API_PORT", "8080")
	cfg.APIEnv = getEnvWithDefault("API_ENV", "development")

	cfg.DB = DBConfig{
		Host:     os.Getenv("DB_HOST"),
		Port:     getEnvWithDefault("DB_PORT", "5432"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Name:     os.Getenv("DB_NAME"),
		SSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),
	}

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.ChatID = getEnvInt64WithDefault("TELEGRAM_CHAT_ID", 0)
	cfg.Telegram.RatePerSec = getEnvIntWithDefault("NOTIFY_RATE_PER_SEC", 1)
	cfg.Telegram.OnlyFailed = getEnvBoolWithDefault("NOTIFY_ONLY_FAILED", false)

	return &cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := strings.ToLower(os.Getenv(key)); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
