// Package config loads process settings from defaults, an optional YAML
// file and IXTRADE_* environment variables, in increasing precedence.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"ixtrade/domain/market"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type EngineConfig struct {
	DefaultScale market.Scale `mapstructure:"default_scale"`
	// Pairs overrides the scale per pair. Keys are normalized on use.
	Pairs    map[string]market.Scale `mapstructure:"pairs"`
	MaxDepth int                     `mapstructure:"max_depth"`

	JournalDir         string        `mapstructure:"journal_dir"`
	JournalSegmentSize int64         `mapstructure:"journal_segment_size"`
	JournalSync        bool          `mapstructure:"journal_sync"`
	SnapshotDir        string        `mapstructure:"snapshot_dir"`
	SnapshotInterval   time.Duration `mapstructure:"snapshot_interval"`
}

type SettlementConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	Backoff        BackoffConfig `mapstructure:"backoff"`
	// StoreDir selects the pebble job store; empty keeps jobs in memory.
	StoreDir string        `mapstructure:"store_dir"`
	Gateway  GatewayConfig `mapstructure:"gateway"`
}

type BackoffConfig struct {
	// Kind is "exponential" or "fixed".
	Kind       string        `mapstructure:"kind"`
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

type GatewayConfig struct {
	// Kind is "dryrun" or "kafka".
	Kind    string   `mapstructure:"kind"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type BroadcastConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	QueueSize     int           `mapstructure:"queue_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Kafka         KafkaConfig   `mapstructure:"kafka"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("engine.default_scale.price_scale", 8)
	v.SetDefault("engine.default_scale.size_scale", 8)
	v.SetDefault("engine.pairs", map[string]any{})
	v.SetDefault("engine.max_depth", 500)
	v.SetDefault("engine.journal_dir", "")
	v.SetDefault("engine.journal_segment_size", 64<<20)
	v.SetDefault("engine.journal_sync", false)
	v.SetDefault("engine.snapshot_dir", "")
	v.SetDefault("engine.snapshot_interval", time.Minute)

	v.SetDefault("settlement.workers", 8)
	v.SetDefault("settlement.queue_size", 4096)
	v.SetDefault("settlement.max_attempts", 5)
	v.SetDefault("settlement.attempt_timeout", 10*time.Second)
	v.SetDefault("settlement.sweep_interval", time.Second)
	v.SetDefault("settlement.backoff.kind", "exponential")
	v.SetDefault("settlement.backoff.initial", 200*time.Millisecond)
	v.SetDefault("settlement.backoff.max", 30*time.Second)
	v.SetDefault("settlement.backoff.multiplier", 2.0)
	v.SetDefault("settlement.store_dir", "")
	v.SetDefault("settlement.gateway.kind", "dryrun")
	v.SetDefault("settlement.gateway.brokers", []string{"localhost:9092"})
	v.SetDefault("settlement.gateway.topic", "ixtrade.settlements")

	v.SetDefault("broadcast.enabled", false)
	v.SetDefault("broadcast.queue_size", 8192)
	v.SetDefault("broadcast.batch_size", 256)
	v.SetDefault("broadcast.flush_interval", 50*time.Millisecond)
	v.SetDefault("broadcast.kafka.enabled", false)
	v.SetDefault("broadcast.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("broadcast.kafka.topic_prefix", "ixtrade.")
	v.SetDefault("broadcast.redis.enabled", false)
	v.SetDefault("broadcast.redis.addr", "localhost:6379")
	v.SetDefault("broadcast.redis.password", "")
	v.SetDefault("broadcast.redis.db", 0)
	v.SetDefault("broadcast.redis.prefix", "ixtrade")
}

// Load reads path (if non-empty) on top of the defaults, then applies
// environment overrides such as IXTRADE_SETTLEMENT_WORKERS=16.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IXTRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in settings.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	if err := validScale(c.Engine.DefaultScale); err != nil {
		return errors.Wrap(err, "engine.default_scale")
	}
	for pair, s := range c.Engine.Pairs {
		if _, err := market.NormalizePair(pair); err != nil {
			return errors.Wrapf(err, "engine.pairs")
		}
		if err := validScale(s); err != nil {
			return errors.Wrapf(err, "engine.pairs.%s", pair)
		}
	}
	switch {
	case c.Engine.MaxDepth <= 0:
		return errors.New("engine.max_depth must be positive")
	case c.Settlement.Workers <= 0:
		return errors.New("settlement.workers must be positive")
	case c.Settlement.QueueSize <= 0:
		return errors.New("settlement.queue_size must be positive")
	case c.Settlement.MaxAttempts <= 0:
		return errors.New("settlement.max_attempts must be positive")
	case c.Settlement.AttemptTimeout <= 0:
		return errors.New("settlement.attempt_timeout must be positive")
	}
	switch c.Settlement.Backoff.Kind {
	case "exponential", "fixed":
	default:
		return errors.Newf("settlement.backoff.kind %q: want exponential or fixed", c.Settlement.Backoff.Kind)
	}
	switch c.Settlement.Gateway.Kind {
	case "dryrun", "kafka":
	default:
		return errors.Newf("settlement.gateway.kind %q: want dryrun or kafka", c.Settlement.Gateway.Kind)
	}
	return nil
}

func validScale(s market.Scale) error {
	if s.Price < 0 || s.Price > 18 || s.Size < 0 || s.Size > 18 {
		return errors.Newf("scale out of range [0,18]: price=%d size=%d", s.Price, s.Size)
	}
	return nil
}
