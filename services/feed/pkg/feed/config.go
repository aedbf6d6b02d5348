// services/feed/pkg/feed/config.go
package feed

import (
	"fmt"
	"time"

	"github.com/YaganovValera/market-feed/common/backoff"
	"github.com/YaganovValera/market-feed/services/feed/pkg/dispatch"
)

// DefaultURL - публичная песочница Coinbase Exchange.
const DefaultURL = "wss://ws-feed-public.sandbox.exchange.coinbase.com"

// Config - параметры клиента.
type Config struct {
	URL string `mapstructure:"ws_url"`

	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffJitter     float64       `mapstructure:"backoff_jitter"` // 0 → без джиттера
	BackoffResetAfter time.Duration `mapstructure:"backoff_reset_after"`

	QueueCapacity  int             `mapstructure:"queue_capacity"`
	OverflowPolicy dispatch.Policy `mapstructure:"overflow_policy"`

	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	// GapExemptChannels: каналы, где разрывы sequence ожидаемы
	// (ticker, heartbeat, matches у Coinbase). Дубликаты отбрасываются всё равно.
	GapExemptChannels []string `mapstructure:"gap_exempt_channels"`
}

// DefaultConfig возвращает значения по умолчанию, включая джиттер ±20%.
func DefaultConfig() Config {
	return Config{
		URL:               DefaultURL,
		BackoffBase:       time.Second,
		BackoffMax:        30 * time.Second,
		BackoffJitter:     0.2,
		BackoffResetAfter: 60 * time.Second,
		QueueCapacity:     dispatch.DefaultCapacity,
		OverflowPolicy:    dispatch.DropOldest,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// ApplyDefaults заполняет нулевые поля. Джиттер не трогается:
// ноль означает детерминированное расписание.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffResetAfter <= 0 {
		c.BackoffResetAfter = d.BackoffResetAfter
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
}

// Validate проверяет согласованность значений (после ApplyDefaults).
func (c Config) Validate() error {
	switch {
	case c.BackoffJitter < 0 || c.BackoffJitter > 1:
		return fmt.Errorf("feed: backoff_jitter must be in [0,1]")
	case c.BackoffMax < c.BackoffBase:
		return fmt.Errorf("feed: backoff_max must be >= backoff_base")
	case c.ReadTimeout < 3*time.Millisecond:
		return fmt.Errorf("feed: read_timeout too small")
	case c.OverflowPolicy < dispatch.DropOldest || c.OverflowPolicy > dispatch.Block:
		return fmt.Errorf("feed: invalid overflow_policy %v", c.OverflowPolicy)
	}
	return nil
}

func (c Config) backoffConfig() backoff.Config {
	return backoff.Config{
		InitialInterval:     c.BackoffBase,
		RandomizationFactor: c.BackoffJitter,
		Multiplier:          2,
		MaxInterval:         c.BackoffMax,
		ResetAfter:          c.BackoffResetAfter,
	}
}

func (c Config) pingInterval() time.Duration { return c.ReadTimeout / 3 }
