package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Refresh struct {
		StaleAfter     time.Duration `envconfig:"CACHE_STALE_AFTER" default:"1h"`
		AdapterTimeout time.Duration `envconfig:"ADAPTER_TIMEOUT" default:"20s"`
		ScanInterval   time.Duration `envconfig:"REFRESH_SCAN_INTERVAL" default:"1m"`
		LockTTL        time.Duration `envconfig:"REFRESH_LOCK_TTL" default:"2m"`
	} `envconfig:""`

	Health struct {
		DeadErrorThreshold int           `envconfig:"DEAD_FEED_ERRORS" default:"5"`
		DeadAfter          time.Duration `envconfig:"DEAD_FEED_STALE_AFTER" default:"720h"`
		DeleteBatchSize    int           `envconfig:"DEAD_FEED_DELETE_BATCH" default:"100"`
	} `envconfig:""`

	Reader struct {
		DefaultLimit int `envconfig:"READER_DEFAULT_LIMIT" default:"50"`
		MaxLimit     int `envconfig:"READER_MAX_LIMIT" default:"200"`
	} `envconfig:""`

	Twitter struct {
		BearerToken string        `envconfig:"TWITTER_BEARER_TOKEN"`
		BaseURL     string        `envconfig:"TWITTER_BASE_URL" default:"https://api.twitter.com"`
		Timeout     time.Duration `envconfig:"TWITTER_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Queues struct {
		Refresh      string `envconfig:"REFRESH_QUEUE_KEY" default:"refresh_jobs"`
		Invalidation string `envconfig:"INVALIDATION_QUEUE" default:"bundle_cache_invalidations"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
