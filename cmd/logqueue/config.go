package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultRedisHost        = "localhost"
	defaultRedisPort        = 6379
	defaultAPIAddr          = "127.0.0.1:3000"
	defaultDBDriver         = "sqlite"
	defaultDBDSN            = "logqueue.db"
	defaultObjectRoot       = "data/objects"
	defaultRetryAttempts    = 3
	defaultRetryBackoff     = 5 * time.Second
	defaultKeepCompleted    = 1000
	defaultCompletedMaxAge  = 24 * time.Hour
	defaultFailedMaxAge     = 7 * 24 * time.Hour
	defaultRateLimit        = 100
	defaultRateWindow       = 15 * time.Minute
	defaultConcurrency      = 10
	defaultPollInterval     = 100 * time.Millisecond
	defaultStallTimeout     = 30 * time.Minute
	defaultStreamInterval   = 2 * time.Second
	defaultShutdownDeadline = 10 * time.Second
)

// appConfig is the runtime configuration of both process modes.
type appConfig struct {
	RedisHost     string `mapstructure:"redis-host"`
	RedisPort     int    `mapstructure:"redis-port"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`

	QueuePrefix     string        `mapstructure:"queue-prefix"`
	QueueName       string        `mapstructure:"queue-name"`
	RetryAttempts   int           `mapstructure:"retry-attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry-backoff"`
	KeepCompleted   int           `mapstructure:"keep-completed"`
	CompletedMaxAge time.Duration `mapstructure:"completed-max-age"`
	FailedMaxAge    time.Duration `mapstructure:"failed-max-age"`

	DBDriver string `mapstructure:"db-driver"`
	DBDSN    string `mapstructure:"db-dsn"`

	ObjectRoot     string        `mapstructure:"object-root"`
	ObjectBucket   string        `mapstructure:"object-bucket"`
	PublicURL      string        `mapstructure:"public-url"`
	ObjectSecret   string        `mapstructure:"object-secret"`
	AuthTokens     string        `mapstructure:"auth-tokens"`
	APIAddr        string        `mapstructure:"api-addr"`
	RateLimit      int           `mapstructure:"rate-limit"`
	RateWindow     time.Duration `mapstructure:"rate-window"`
	StreamInterval time.Duration `mapstructure:"stream-interval"`

	Concurrency  int           `mapstructure:"worker-concurrency"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	Housekeeping bool          `mapstructure:"housekeeping"`
	StallTimeout time.Duration `mapstructure:"stall-timeout"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	ShutdownDeadline time.Duration `mapstructure:"shutdown-deadline"`
	ConfigPath       string        `mapstructure:"-"`
}

// RedisAddr joins the Redis host and port.
func (c appConfig) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	v := viper.New()
	v.SetEnvPrefix("LOGQUEUE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// The connection variables are also read without the prefix.
	_ = v.BindEnv("redis-host", "LOGQUEUE_REDIS_HOST", "REDIS_HOST")
	_ = v.BindEnv("redis-port", "LOGQUEUE_REDIS_PORT", "REDIS_PORT")
	_ = v.BindEnv("redis-password", "LOGQUEUE_REDIS_PASSWORD", "REDIS_PASSWORD")

	v.SetDefault("redis-host", defaultRedisHost)
	v.SetDefault("redis-port", defaultRedisPort)
	v.SetDefault("redis-db", 0)
	v.SetDefault("queue-prefix", "logq")
	v.SetDefault("queue-name", "log-processing")
	v.SetDefault("retry-attempts", defaultRetryAttempts)
	v.SetDefault("retry-backoff", defaultRetryBackoff)
	v.SetDefault("keep-completed", defaultKeepCompleted)
	v.SetDefault("completed-max-age", defaultCompletedMaxAge)
	v.SetDefault("failed-max-age", defaultFailedMaxAge)
	v.SetDefault("db-driver", defaultDBDriver)
	v.SetDefault("db-dsn", defaultDBDSN)
	v.SetDefault("object-root", defaultObjectRoot)
	v.SetDefault("object-bucket", "log-files")
	v.SetDefault("public-url", "")
	v.SetDefault("object-secret", "")
	v.SetDefault("auth-tokens", "")
	v.SetDefault("api-addr", defaultAPIAddr)
	v.SetDefault("rate-limit", defaultRateLimit)
	v.SetDefault("rate-window", defaultRateWindow)
	v.SetDefault("stream-interval", defaultStreamInterval)
	v.SetDefault("worker-concurrency", defaultConcurrency)
	v.SetDefault("poll-interval", defaultPollInterval)
	v.SetDefault("housekeeping", true)
	v.SetDefault("stall-timeout", defaultStallTimeout)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("shutdown-deadline", defaultShutdownDeadline)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return cfg, err
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if cfg.RedisPort <= 0 || cfg.RedisPort > 65535 {
		return cfg, fmt.Errorf("invalid redis-port: %d", cfg.RedisPort)
	}
	if cfg.RetryAttempts < 1 {
		return cfg, fmt.Errorf("invalid retry-attempts: %d", cfg.RetryAttempts)
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return cfg, fmt.Errorf("invalid db-driver: %q", cfg.DBDriver)
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://" + cfg.APIAddr
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return cfg, nil
}
