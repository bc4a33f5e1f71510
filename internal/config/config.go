package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	DashboardAPIURL     string `env:"DASHBOARD_API_URL,required=true"`
	ExportBucket        string `env:"EXPORT_BUCKET"`
	ExportRegion        string `env:"EXPORT_REGION,default=eu-west-1"`
	ExportAccessKey     string `env:"EXPORT_ACCESS_KEY"`
	ExportSecretKey     string `env:"EXPORT_SECRET_KEY"`
	RateLimitPerSec     int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	ExecutorConcurrency int    `env:"EXECUTOR_CONCURRENCY,default=10"`
	ItemConcurrency     int    `env:"ITEM_CONCURRENCY,default=8"`
	StaleTimeoutSec     int    `env:"STALE_OPERATION_TIMEOUT_SEC,default=120"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

// ExportEnabled reports whether the S3 artifact store is configured.
// Without it, export operations fall back to inline results only.
func (c *Config) ExportEnabled() bool {
	return c != nil && c.ExportBucket != ""
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
