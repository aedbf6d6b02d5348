// services/feed/internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/YaganovValera/market-feed/common/configloader"
	"github.com/YaganovValera/market-feed/common/httpserver"
	producer "github.com/YaganovValera/market-feed/common/kafka/producer"
	"github.com/YaganovValera/market-feed/common/logger"
	"github.com/YaganovValera/market-feed/common/telemetry"
	"github.com/YaganovValera/market-feed/services/feed/pkg/feed"
)

// EnvPrefix - префикс ENV переменных: FEED_FEED_WS_URL, FEED_KAFKA_BROKERS, ...
const EnvPrefix = "FEED"

// Config - все настройки сервиса.
type Config struct {
	ServiceName     string            `mapstructure:"service_name"`
	ServiceVersion  string            `mapstructure:"service_version"`
	ShutdownTimeout time.Duration     `mapstructure:"shutdown_timeout"`
	Feed            FeedConfig        `mapstructure:"feed"`
	Kafka           KafkaConfig       `mapstructure:"kafka"`
	Telemetry       telemetry.Config  `mapstructure:"telemetry"`
	Logging         logger.Config     `mapstructure:"logging"`
	HTTP            httpserver.Config `mapstructure:"http"`
}

// FeedConfig - параметры клиента и набор подписок.
// Подписки = products × channels плюс явный список subscriptions.
type FeedConfig struct {
	feed.Config   `mapstructure:",squash"`
	Products      []string            `mapstructure:"products"`
	Channels      []string            `mapstructure:"channels"`
	Subscriptions []feed.Subscription `mapstructure:"subscriptions"`
}

// KafkaConfig - опциональный sink.
type KafkaConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Topic           string `mapstructure:"topic"`
	producer.Config `mapstructure:",squash"`
}

func init() {
	configloader.RegisterDefaultsMap(map[string]interface{}{
		"service_name":     "feed",
		"service_version":  "v0.1.0",
		"shutdown_timeout": "10s",

		"feed.ws_url":              feed.DefaultURL,
		"feed.backoff_base":        "1s",
		"feed.backoff_max":         "30s",
		"feed.backoff_jitter":      0.2,
		"feed.backoff_reset_after": "60s",
		"feed.queue_capacity":      1024,
		"feed.overflow_policy":     "drop_oldest",
		"feed.read_timeout":        "30s",
		"feed.write_timeout":       "5s",
		"feed.handshake_timeout":   "10s",
		"feed.products":            []string{"BTC-USD"},
		"feed.channels":            []string{feed.ChannelLevel2},

		"kafka.enabled":     false,
		"kafka.topic":       "marketdata.coinbase.raw",
		"kafka.acks":        "all",
		"kafka.timeout":     "15s",
		"kafka.compression": "none",

		"telemetry.enabled":       false,
		"telemetry.otel_endpoint": "otel-collector:4317",
		"telemetry.insecure":      true,

		"logging.level":    "info",
		"logging.dev_mode": false,

		"http.addr":             ":8080",
		"http.read_timeout":     "10s",
		"http.write_timeout":    "15s",
		"http.idle_timeout":     "60s",
		"http.shutdown_timeout": "5s",
		"http.metrics_path":     "/metrics",
		"http.healthz_path":     "/healthz",
		"http.readyz_path":      "/readyz",
	})
}

// FlagBindings связывают CLI-флаги с ключами конфига.
var FlagBindings = map[string]string{
	"product":   "feed.products",
	"channel":   "feed.channels",
	"ws-url":    "feed.ws_url",
	"log-level": "logging.level",
}

// Load загружает конфиг: defaults → ENV → файл → флаги → Validate.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	var cfg Config
	var err error
	if fs != nil {
		err = configloader.LoadWithFlags(path, EnvPrefix, fs, FlagBindings, &cfg)
	} else {
		err = configloader.Load(path, EnvPrefix, &cfg)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SubscriptionList разворачивает products × channels и явный список без повторов.
func (c *Config) SubscriptionList() []feed.Subscription {
	reg := feed.NewRegistry(c.Feed.Subscriptions...)
	for _, ch := range c.Feed.Channels {
		for _, p := range c.Feed.Products {
			reg.Add(feed.Subscription{Channel: strings.TrimSpace(ch), ProductID: strings.TrimSpace(p)})
		}
	}
	return reg.List()
}

// Validate проверяет конфиг; дефолты клиента применяются на месте.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be > 0")
	}

	c.Feed.ApplyDefaults()
	if err := c.Feed.Config.Validate(); err != nil {
		return err
	}
	subs := c.SubscriptionList()
	if len(subs) == 0 {
		return fmt.Errorf("feed: at least one subscription is required")
	}
	for _, s := range subs {
		if s.Channel == "" || s.ProductID == "" {
			return fmt.Errorf("feed: invalid subscription %q", s.String())
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka.enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka.enabled")
		}
		switch strings.ToLower(c.Kafka.RequiredAcks) {
		case "all", "leader", "none":
		default:
			return fmt.Errorf("kafka.acks must be one of [all, leader, none]")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	paths := map[string]string{
		"http.metrics_path": c.HTTP.MetricsPath,
		"http.healthz_path": c.HTTP.HealthzPath,
		"http.readyz_path":  c.HTTP.ReadyzPath,
	}
	for k, p := range paths {
		if p != "" && !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}
