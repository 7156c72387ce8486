// Package config provides configuration management for the custody service
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all custody service configuration
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Events   EventsConfig   `mapstructure:"events"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Custody  CustodyConfig  `mapstructure:"custody"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds redis configuration
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds event publishing configuration
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Enabled bool     `mapstructure:"enabled"`
}

// EventsConfig holds non-broker event sink configuration
type EventsConfig struct {
	// WebhookURL, when set, mirrors every custody event to an HTTP endpoint.
	WebhookURL string `mapstructure:"webhook_url"`
}

// GatewayConfig holds ledger gateway configuration
type GatewayConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
	// OperatorKey is the hex-encoded key that signs outbound transfers.
	// Loaded from the environment, never from a config file.
	OperatorKey string        `mapstructure:"operator_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CustodyConfig holds core approval and distribution parameters
type CustodyConfig struct {
	// ProposalTTL is the window within which a proposal must be approved
	// and executed before it lazily expires.
	ProposalTTL time.Duration `mapstructure:"proposal_ttl"`
	// MinAmount and MaxAmount bound the value of any single proposal.
	MinAmount decimal.Decimal `mapstructure:"min_amount"`
	MaxAmount decimal.Decimal `mapstructure:"max_amount"`
	// MinConfirmations is the confirmation count required before a deposit
	// may be confirmed.
	MinConfirmations int `mapstructure:"min_confirmations"`
	// MaxExecuteRetries bounds transient gateway retries before a
	// transaction fails permanently.
	MaxExecuteRetries int `mapstructure:"max_execute_retries"`
	// IdempotencyKeyTTL is how long an execute idempotency key is held.
	IdempotencyKeyTTL time.Duration `mapstructure:"idempotency_key_ttl"`
	// SweepInterval drives the reporting-accuracy expiry sweeper.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// ConfirmationPollInterval drives the deposit confirmation poller.
	ConfirmationPollInterval time.Duration `mapstructure:"confirmation_poll_interval"`
	// CacheTTL bounds wallet snapshot staleness.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Load reads configuration from the given file (yaml) with COVAULT_-prefixed
// environment overrides, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("COVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decimalDecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Custody.ProposalTTL <= 0 {
		return fmt.Errorf("custody.proposal_ttl must be positive")
	}
	if c.Custody.MinConfirmations < 1 {
		return fmt.Errorf("custody.min_confirmations must be at least 1")
	}
	if c.Custody.MaxExecuteRetries < 0 {
		return fmt.Errorf("custody.max_execute_retries must not be negative")
	}
	if c.Custody.MinAmount.IsNegative() {
		return fmt.Errorf("custody.min_amount must not be negative")
	}
	if c.Custody.MaxAmount.LessThanOrEqual(c.Custody.MinAmount) {
		return fmt.Errorf("custody.max_amount must exceed custody.min_amount")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.topic", "custody.events")
	v.SetDefault("kafka.enabled", false)

	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.retry_delay", 2*time.Second)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("custody.proposal_ttl", 72*time.Hour)
	v.SetDefault("custody.min_amount", "0.00000001")
	v.SetDefault("custody.max_amount", "1000000000")
	v.SetDefault("custody.min_confirmations", 3)
	v.SetDefault("custody.max_execute_retries", 3)
	v.SetDefault("custody.idempotency_key_ttl", 24*time.Hour)
	v.SetDefault("custody.sweep_interval", time.Minute)
	v.SetDefault("custody.confirmation_poll_interval", 30*time.Second)
	v.SetDefault("custody.cache_ttl", 5*time.Minute)
}

// decimalDecodeHook decodes string and numeric config values into
// decimal.Decimal fields.
func decimalDecodeHook() func(from, to reflect.Type, data interface{}) (interface{}, error) {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch val := data.(type) {
		case string:
			return decimal.NewFromString(val)
		case float64:
			return decimal.NewFromFloat(val), nil
		case int:
			return decimal.NewFromInt(int64(val)), nil
		default:
			return data, nil
		}
	}
}
