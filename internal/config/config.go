package config

import (
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/nimasrn/payment-reconciler/pkg/pg"
	"github.com/nimasrn/payment-reconciler/pkg/redis"
	"github.com/pkg/errors"
)

const (
	midtransProductionURL = "https://api.midtrans.com"
	midtransSandboxURL    = "https://api.sandbox.midtrans.com"
)

// Config holds every configuration value of the services. Nothing else reads
// the environment directly.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=dev"`
	AppName string `env:"APP_NAME,default=payment_reconciler"`
	AppHost string `env:"HOSTNAME,default=localhost"`

	HttpListenAddr     string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=20s"`
	HttpReadTimeout    time.Duration `env:"HTTP_SERVER_READ_TIMEOUT,default=5s"`
	HttpWriteTimeout   time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT,default=25s"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresDebug         bool   `env:"POSTGRES_DEBUG,default=false"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE,default=0"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=reconciler:"`

	PromNamespace     string `env:"PROM_NAMESPACE,default=reconciler"`
	MetricsListenAddr string `env:"METRICS_LISTEN_ADDR,default=:9100"`

	MidtransIsProduction    bool          `env:"MIDTRANS_IS_PRODUCTION,default=false"`
	MidtransServerKey       string        `env:"MIDTRANS_SERVER_KEY"`
	MidtransBaseURLOverride string        `env:"MIDTRANS_BASE_URL"`
	MidtransTimeout         time.Duration `env:"MIDTRANS_TIMEOUT,default=15s"`
	MidtransBreakerFailures int           `env:"MIDTRANS_BREAKER_THRESHOLD,default=5"`
	MidtransBreakerCooldown time.Duration `env:"MIDTRANS_BREAKER_TIMEOUT,default=30s"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`
	AuthJWTIssuer string `env:"AUTH_JWT_ISSUER"`

	WebhookLockTTL      time.Duration `env:"WEBHOOK_LOCK_TTL,default=30s"`
	WebhookProcessedTTL time.Duration `env:"WEBHOOK_PROCESSED_TTL,default=24h"`

	EventStreamName         string        `env:"EVENT_STREAM_NAME,default=payment:events"`
	EventConsumerGroup      string        `env:"EVENT_CONSUMER_GROUP,default=notifier"`
	EventConsumerName       string        `env:"EVENT_CONSUMER_NAME"`
	EventMaxRetries         int           `env:"EVENT_MAX_RETRIES,default=5"`
	EventVisibilityTimeout  time.Duration `env:"EVENT_VISIBILITY_TIMEOUT,default=30s"`
	EventPollInterval       time.Duration `env:"EVENT_POLL_INTERVAL,default=500ms"`
	EventBatchSize          int64         `env:"EVENT_BATCH_SIZE,default=20"`
	EventMaxLen             int64         `env:"EVENT_MAX_LEN,default=100000"`
	EventEnableDLQ          bool          `env:"EVENT_ENABLE_DLQ,default=true"`
	NotifyHookURL           string        `env:"NOTIFY_HOOK_URL"`
	NotifyWorkers           int           `env:"NOTIFY_WORKERS,default=4"`
	NotifyTimeout           time.Duration `env:"NOTIFY_TIMEOUT,default=10s"`
}

// Load reads an optional .env file at path and maps the environment onto a Config.
func Load(path string) (*Config, error) {
	if path != "" {
		logger.Info("loading env file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	c := &Config{}
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return nil, errors.Wrap(err, "failed to map env variables to configuration")
	}
	return c, nil
}

// Validate checks the values the API process cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.MidtransServerKey == "" {
		missing = append(missing, "MIDTRANS_SERVER_KEY")
	}
	if c.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if c.PostgresWriteHost == "" {
		missing = append(missing, "POSTGRES_WRITE_HOST")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.MidtransTimeout <= 0 {
		return errors.New("MIDTRANS_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// MidtransBaseURL picks the gateway host from the production flag unless explicitly overridden.
func (c *Config) MidtransBaseURL() string {
	if c.MidtransBaseURLOverride != "" {
		return strings.TrimRight(c.MidtransBaseURLOverride, "/")
	}
	if c.MidtransIsProduction {
		return midtransProductionURL
	}
	return midtransSandboxURL
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		User:     c.PostgresWriteUser,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
}

// PostgresRead falls back to the write database when no replica is configured.
func (c *Config) PostgresRead() pg.Config {
	if c.PostgresReadHost == "" {
		return c.PostgresWrite()
	}
	return pg.Config{
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		User:     c.PostgresReadUser,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
	}
}

func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addrs:    []string{c.RedisAddr},
		Username: c.RedisUsername,
		Password: c.RedisPassword,
		DB:       c.RedisDatabase,
	}
}

func (c *Config) EventConsumer() string {
	if c.EventConsumerName != "" {
		return c.EventConsumerName
	}
	host, err := os.Hostname()
	if err != nil {
		return "notifier"
	}
	return "notifier-" + host
}

// ArgEnvPath returns the value of a --env=path argument, if any.
func ArgEnvPath(args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, "--env=") {
			return strings.TrimPrefix(a, "--env=")
		}
	}
	return ""
}
