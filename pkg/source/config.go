package source

import (
	"fmt"
	"time"
)

// Config selects and configures the broker sources the daemon subscribes to.
type Config struct {
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig configures the Redis Pub/Sub source.
type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Channels are the Pub/Sub channels carrying gas payloads.
	Channels []string `mapstructure:"channels"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig configures the Kafka source.
type KafkaConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`

	// InitialOffset is "newest" or "oldest" (default "newest").
	InitialOffset string `mapstructure:"initial_offset"`

	ClientID    string        `mapstructure:"client_id"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	TLS           bool `mapstructure:"tls"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	SASLEnabled bool `mapstructure:"sasl_enabled"`
	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

const (
	OffsetNewest = "newest"
	OffsetOldest = "oldest"
)

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Channels:     []string{"gasmeter:usage"},
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		Topic:         "gasmeter-usage",
		InitialOffset: OffsetNewest,
		ClientID:      "gasmeter",
		DialTimeout:   10 * time.Second,
		SASLMechanism: "PLAIN",
	}
}

// DefaultConfig returns a config with both sources disabled.
func DefaultConfig() Config {
	return Config{
		Redis: DefaultRedisConfig(),
		Kafka: DefaultKafkaConfig(),
	}
}

// Validate checks enabled sources only.
func (c *Config) Validate() error {
	if c.Redis.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one redis channel is required")
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return nil
}

func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one Kafka broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}
	switch c.InitialOffset {
	case "":
		c.InitialOffset = OffsetNewest
	case OffsetNewest, OffsetOldest:
	default:
		return fmt.Errorf("invalid kafka initial offset %q", c.InitialOffset)
	}
	if c.SASLEnabled {
		switch c.SASLMechanism {
		case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("unsupported SASL mechanism %q", c.SASLMechanism)
		}
	}
	return nil
}
