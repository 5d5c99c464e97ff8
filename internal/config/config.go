package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Geo      GeoConfig      `yaml:"geo"`
	Bidding  BiddingConfig  `yaml:"bidding"`
	Escrow   EscrowConfig   `yaml:"escrow"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection configuration (geo index, caches and
// the task lock share one instance).
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig holds the event-bridge exchange configuration
type RabbitMQConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	VHost              string        `yaml:"vhost"`
	ExchangeName       string        `yaml:"exchange_name"`
	ExchangeType       string        `yaml:"exchange_type"`
	ExchangeDurable    bool          `yaml:"exchange_durable"`
	RoutingKey         string        `yaml:"routing_key"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
	PublishRetries     int           `yaml:"publish_retries"`
	PublishRetryDelay  time.Duration `yaml:"publish_retry_delay"`
	PublishBackoffMult float64       `yaml:"publish_backoff_mult"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// GeoConfig selects the geo index profile and its parameters
type GeoConfig struct {
	Profile         string  `yaml:"profile"` // redis or noop
	IndexKey        string  `yaml:"index_key"`
	DefaultRadiusKm float64 `yaml:"default_radius_km"`
	MaxRetries      int     `yaml:"max_retries"`
	RetryBatchSize  int     `yaml:"retry_batch_size"`
}

// BiddingConfig sizes the duplicate-bid pre-check
type BiddingConfig struct {
	BloomCapacity uint    `yaml:"bloom_capacity"`
	BloomFPRate   float64 `yaml:"bloom_fp_rate"`
}

// EscrowConfig tunes confirmation-code lifetime and lockout
type EscrowConfig struct {
	CodeTTL            time.Duration `yaml:"code_ttl"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RegenerateInterval time.Duration `yaml:"regenerate_interval"`
}

// SweeperConfig holds background sweep intervals
type SweeperConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	ExpireInterval  time.Duration `yaml:"expire_interval"`
	JobMaxAge       time.Duration `yaml:"job_max_age"`
	ExpireBatchSize int           `yaml:"expire_batch_size"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the configuration required by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.ExchangeName == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	return nil
}

// ValidateSweeperConfig checks the configuration required by the sweeper
// service
func (c *Config) ValidateSweeperConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Geo.Profile == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required for the redis geo profile")
	}

	if c.Sweeper.JobMaxAge < 0 {
		return fmt.Errorf("sweeper job_max_age must not be negative")
	}

	return nil
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	switch c.Geo.Profile {
	case "", "redis", "noop":
	default:
		return fmt.Errorf("unknown geo profile: %q (must be redis or noop)", c.Geo.Profile)
	}

	return nil
}
