package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	CacheDir string `envconfig:"CACHE_DIR" required:"true"`
	DBPath   string `envconfig:"DB_PATH" default:"media_cache.db"`

	MaxCacheSize           int64           `envconfig:"MAX_CACHE_SIZE" default:"104857600"` // bytes
	MaxCachedFiles         int             `envconfig:"MAX_CACHED_FILES" default:"50"`
	MaxConcurrentDownloads int             `envconfig:"MAX_CONCURRENT_DOWNLOADS" default:"3"`
	RetryDelays            []time.Duration `envconfig:"RETRY_DELAYS" default:"2s,5s,10s"`
	MaxDownloadAttempts    int             `envconfig:"MAX_DOWNLOAD_ATTEMPTS" default:"3"`
	DownloadWaitTimeout    time.Duration   `envconfig:"DOWNLOAD_WAIT_TIMEOUT" default:"2m"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"media_cache"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8980"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"5m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
