package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	// DatabaseDSN is optional; batches are kept in memory when it is empty.
	DatabaseDSN        string `env:"DATABASE_DSN"`
	RabbitMQURL        string `env:"RABBITMQ_URL"`
	RedisURL           string `env:"REDIS_URL,required=true"`
	StorageDir         string `env:"STORAGE_DIR,default=./data"`
	SitemapBaseURL     string `env:"SITEMAP_BASE_URL,required=true"`
	SitemapMaxURLs     int    `env:"SITEMAP_MAX_URLS,default=50000"`
	MaxConcurrentFiles int    `env:"MAX_CONCURRENT_FILES,default=4"`
	MaxFileRetries     int    `env:"MAX_FILE_RETRIES,default=3"`
	WorkerConcurrency  int    `env:"WORKER_CONCURRENCY,default=4"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=20"`
	APIPort            int    `env:"API_PORT,default=8080"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
	BatchWebhookURL    string `env:"BATCH_WEBHOOK_URL"`

	DownloadTokenTTLRaw string `env:"DOWNLOAD_TOKEN_TTL,default=1h"`
	JobTTLRaw           string `env:"JOB_TTL,default=24h"`
	JanitorIntervalRaw  string `env:"JANITOR_INTERVAL,default=10m"`

	DownloadTokenTTL time.Duration
	JobTTL           time.Duration
	JanitorInterval  time.Duration
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{name: "DOWNLOAD_TOKEN_TTL", raw: cfg.DownloadTokenTTLRaw, dst: &cfg.DownloadTokenTTL},
		{name: "JOB_TTL", raw: cfg.JobTTLRaw, dst: &cfg.JobTTL},
		{name: "JANITOR_INTERVAL", raw: cfg.JanitorIntervalRaw, dst: &cfg.JanitorInterval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("failed to load config: %s must be a positive duration, got %q", d.name, d.raw)
		}
		*d.dst = parsed
	}

	if cfg.SitemapMaxURLs <= 0 || cfg.SitemapMaxURLs > 50000 {
		return nil, fmt.Errorf("failed to load config: SITEMAP_MAX_URLS must be between 1 and 50000")
	}
	if cfg.MaxConcurrentFiles <= 0 {
		return nil, fmt.Errorf("failed to load config: MAX_CONCURRENT_FILES must be positive")
	}
	return &cfg, nil
}

// AsyncEnabled reports whether batch conversion can be handed to the broker.
func (c *Config) AsyncEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}

// PersistentBatches reports whether batch state is stored in PostgreSQL.
func (c *Config) PersistentBatches() bool {
	return strings.TrimSpace(c.DatabaseDSN) != ""
}

// CompletionWebhookEnabled reports whether finished batches are announced.
func (c *Config) CompletionWebhookEnabled() bool {
	return strings.TrimSpace(c.BatchWebhookURL) != ""
}
