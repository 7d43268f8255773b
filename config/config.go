package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Messaging MessagingConfig `mapstructure:"messaging" yaml:"messaging"`
	Relay     RelayConfig     `mapstructure:"relay" yaml:"relay"`
	Web       WebConfig       `mapstructure:"web" yaml:"web"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`

	// LockTimeout bounds how long the order transaction waits on a row lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	// TxTimeout bounds the whole validate-and-write transaction.
	TxTimeout time.Duration `mapstructure:"tx_timeout" yaml:"tx_timeout"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string. URL wins over the individual fields.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

type MessagingConfig struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"` // "kafka" or "mqtt"
	Kafka            KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
	MQTT             MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
	OrderEventsTopic string        `mapstructure:"order_events_topic" yaml:"order_events_topic"`
	PublishTimeout   time.Duration `mapstructure:"publish_timeout" yaml:"publish_timeout"`
	EnsureTopics     bool          `mapstructure:"ensure_topics" yaml:"ensure_topics"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers" yaml:"brokers"`
	ClientID string   `mapstructure:"client_id" yaml:"client_id"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Port     int    `mapstructure:"port" yaml:"port"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
}

type RelayConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	LeaseDuration time.Duration `mapstructure:"lease_duration" yaml:"lease_duration"`
	BackoffBase   time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	// PurgeAfter reaps sent rows older than this. Zero keeps them forever.
	PurgeAfter time.Duration `mapstructure:"purge_after" yaml:"purge_after"`
}

type WebConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json or console
}

type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size"`
}

// Defaults returns the configuration used when no file or environment overrides exist.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

// Load reads the YAML file at path (optional) and applies environment overrides.
// Nested keys map to upper-case names joined by underscores: relay.batch_size → RELAY_BATCH_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindLegacyEnv(v)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		case os.IsNotExist(err):
			// file is optional; defaults and env still apply
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// bindLegacyEnv keeps the environment names older deployments already set.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("database.postgres.url", "DATABASE_URL")
	_ = v.BindEnv("messaging.kafka.brokers", "KAFKA_BOOTSTRAP_SERVERS")
	_ = v.BindEnv("messaging.order_events_topic", "KAFKA_TOPIC")
}

// Validate checks for configuration errors that would only surface at runtime.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path must not be empty")
		}
	case "postgres":
	default:
		return fmt.Errorf("database.driver %q: must be sqlite or postgres", c.Database.Driver)
	}
	switch c.Messaging.Backend {
	case "kafka":
		if len(c.Messaging.Kafka.Brokers) == 0 {
			return fmt.Errorf("messaging.kafka.brokers must not be empty")
		}
	case "mqtt":
		if c.Messaging.MQTT.Broker == "" {
			return fmt.Errorf("messaging.mqtt.broker must not be empty")
		}
	default:
		return fmt.Errorf("messaging.backend %q: must be kafka or mqtt", c.Messaging.Backend)
	}
	if c.Messaging.OrderEventsTopic == "" {
		return fmt.Errorf("messaging.order_events_topic must not be empty")
	}
	if c.Messaging.PublishTimeout <= 0 {
		return fmt.Errorf("messaging.publish_timeout must be positive")
	}
	if c.Relay.BatchSize <= 0 || c.Relay.Workers <= 0 {
		return fmt.Errorf("relay.batch_size and relay.workers must be positive")
	}
	if c.Relay.LeaseDuration <= c.Messaging.PublishTimeout {
		return fmt.Errorf("relay.lease_duration (%s) must exceed messaging.publish_timeout (%s)",
			c.Relay.LeaseDuration, c.Messaging.PublishTimeout)
	}
	if c.Relay.BackoffBase <= 0 || c.Relay.BackoffMax < c.Relay.BackoffBase {
		return fmt.Errorf("relay.backoff_base must be positive and not exceed relay.backoff_max")
	}
	return nil
}

// Save writes the effective configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func setDefaults(v *viper.Viper) {
	// Database
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", "orderintake.db")
	v.SetDefault("database.postgres.url", "")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "ois")
	v.SetDefault("database.postgres.user", "ois")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_conns", 20)
	v.SetDefault("database.postgres.min_conns", 2)
	v.SetDefault("database.postgres.max_conn_lifetime", "1h")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("database.tx_timeout", "15s")

	// Redis (relay wake-up only)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "ois:outbox:wake")

	// Messaging
	v.SetDefault("messaging.backend", "kafka")
	v.SetDefault("messaging.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("messaging.kafka.client_id", "ois")
	v.SetDefault("messaging.mqtt.broker", "localhost")
	v.SetDefault("messaging.mqtt.port", 1883)
	v.SetDefault("messaging.mqtt.client_id", "ois")
	v.SetDefault("messaging.order_events_topic", "orders")
	v.SetDefault("messaging.publish_timeout", "10s")
	v.SetDefault("messaging.ensure_topics", true)

	// Relay
	v.SetDefault("relay.interval", "2s")
	v.SetDefault("relay.batch_size", 50)
	v.SetDefault("relay.workers", 2)
	v.SetDefault("relay.lease_duration", "1m")
	v.SetDefault("relay.backoff_base", "1s")
	v.SetDefault("relay.backoff_max", "5m")
	v.SetDefault("relay.purge_after", "0s")

	// Web
	v.SetDefault("web.host", "0.0.0.0")
	v.SetDefault("web.port", 8000)
	v.SetDefault("web.read_timeout", "30s")
	v.SetDefault("web.write_timeout", "30s")
	v.SetDefault("web.shutdown_timeout", "15s")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Worker pool
	v.SetDefault("worker.pool_size", 32)
}
