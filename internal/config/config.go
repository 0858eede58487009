// Package config loads service configuration from defaults, an optional YAML
// file and PAYMENTS_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/iliamunaev/card-settlement/internal/service/gateway"
)

// EnvPrefix prefixes environment overrides, e.g. PAYMENTS_HTTP_ADDR.
const EnvPrefix = "PAYMENTS"

// Store and event backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	EventsNone  = "none"
	EventsKafka = "kafka"
)

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Store      StoreConfig      `mapstructure:"store"`
	Events     EventsConfig     `mapstructure:"events"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Log        LogConfig        `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds the processing of one payment request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// RateLimitPerMinute is the per-client request budget; 0 disables limiting.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`
}

type StoreConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type EventsConfig struct {
	Backend string      `mapstructure:"backend"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string      `mapstructure:"brokers"`
	Topic   string        `mapstructure:"topic"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GatewayConfig mirrors gateway.Policy. Thresholds are decimal strings.
type GatewayConfig struct {
	DeclineSuffix              string        `mapstructure:"decline_suffix"`
	ApproveSuffix              string        `mapstructure:"approve_suffix"`
	TransientErrorRate         float64       `mapstructure:"transient_error_rate"`
	HighAmountThreshold        string        `mapstructure:"high_amount_threshold"`
	HighAmountDeclineRate      float64       `mapstructure:"high_amount_decline_rate"`
	BankDeclineRate            float64       `mapstructure:"bank_decline_rate"`
	InsufficientFundsThreshold string        `mapstructure:"insufficient_funds_threshold"`
	InsufficientFundsRate      float64       `mapstructure:"insufficient_funds_rate"`
	MinDelay                   time.Duration `mapstructure:"min_delay"`
	MaxDelay                   time.Duration `mapstructure:"max_delay"`
	Concurrency                int           `mapstructure:"concurrency"`
	Seed                       uint64        `mapstructure:"seed"` // 0 seeds from the clock
}

type SettlementConfig struct {
	// WriteTimeout bounds the status write that follows an interrupted
	// gateway call.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or text
}

func setDefaults(v *viper.Viper) {
	p := gateway.DefaultPolicy()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 5*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.rate_limit_per_minute", 600)
	v.SetDefault("http.rate_limit_burst", 20)

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "payments:")

	v.SetDefault("events.backend", EventsNone)
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "payments.events")
	v.SetDefault("events.kafka.timeout", 5*time.Second)

	v.SetDefault("gateway.decline_suffix", p.DeclineSuffix)
	v.SetDefault("gateway.approve_suffix", p.ApproveSuffix)
	v.SetDefault("gateway.transient_error_rate", p.TransientErrorRate)
	v.SetDefault("gateway.high_amount_threshold", p.HighAmountThreshold.String())
	v.SetDefault("gateway.high_amount_decline_rate", p.HighAmountDeclineRate)
	v.SetDefault("gateway.bank_decline_rate", p.BankDeclineRate)
	v.SetDefault("gateway.insufficient_funds_threshold", p.InsufficientFundsThreshold.String())
	v.SetDefault("gateway.insufficient_funds_rate", p.InsufficientFundsRate)
	v.SetDefault("gateway.min_delay", p.MinDelay)
	v.SetDefault("gateway.max_delay", p.MaxDelay)
	v.SetDefault("gateway.concurrency", 16)
	v.SetDefault("gateway.seed", 0)

	v.SetDefault("settlement.write_timeout", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Policy converts the gateway section into a gateway.Policy.
func (g GatewayConfig) Policy() (gateway.Policy, error) {
	high, err := decimal.NewFromString(g.HighAmountThreshold)
	if err != nil {
		return gateway.Policy{}, fmt.Errorf("gateway.high_amount_threshold: %w", err)
	}
	funds, err := decimal.NewFromString(g.InsufficientFundsThreshold)
	if err != nil {
		return gateway.Policy{}, fmt.Errorf("gateway.insufficient_funds_threshold: %w", err)
	}
	return gateway.Policy{
		DeclineSuffix:              g.DeclineSuffix,
		ApproveSuffix:              g.ApproveSuffix,
		TransientErrorRate:         g.TransientErrorRate,
		HighAmountThreshold:        high,
		HighAmountDeclineRate:      g.HighAmountDeclineRate,
		BankDeclineRate:            g.BankDeclineRate,
		InsufficientFundsThreshold: funds,
		InsufficientFundsRate:      g.InsufficientFundsRate,
		MinDelay:                   g.MinDelay,
		MaxDelay:                   g.MaxDelay,
	}, nil
}

// Validate reports every setting that cannot be served.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.request_timeout must be positive"))
	}
	if c.HTTP.RateLimitPerMinute < 0 || c.HTTP.RateLimitBurst < 0 {
		errs = append(errs, errors.New("http rate limit settings must not be negative"))
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	switch c.Events.Backend {
	case EventsNone:
	case EventsKafka:
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			errs = append(errs, errors.New("events.kafka needs brokers and a topic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown events.backend %q", c.Events.Backend))
	}

	if p, err := c.Gateway.Policy(); err != nil {
		errs = append(errs, err)
	} else if err := p.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if c.Gateway.Concurrency < 1 {
		errs = append(errs, errors.New("gateway.concurrency must be at least 1"))
	}

	if c.Settlement.WriteTimeout <= 0 {
		errs = append(errs, errors.New("settlement.write_timeout must be positive"))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the slog logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
