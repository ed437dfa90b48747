package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for the stats service
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Chain    ChainConfig    `yaml:"chain"`
	Stats    StatsConfig    `yaml:"stats"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ChainConfig holds the CometBFT endpoint the service follows
type ChainConfig struct {
	ChainID        string        `yaml:"chain_id"`
	WSURL          string        `yaml:"ws_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// StatsConfig controls how the tracker is fed and persisted
type StatsConfig struct {
	EventBuffer      int           `yaml:"event_buffer"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	CORSOrigins []string      `yaml:"cors_origins"`
	RateLimit   int           `yaml:"rate_limit"`
	RateBurst   int           `yaml:"rate_burst"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT %q: %w", v, err)
		}
		c.Database.Port = port
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Database = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_PORT %q: %w", v, err)
		}
		c.Redis.Port = port
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	if v := os.Getenv("WS_URL"); v != "" {
		c.Chain.WSURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		c.Chain.ChainID = v
	}
	return nil
}

// Validate checks required fields and fills defaults
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Redis.Port == 0 {
		return fmt.Errorf("redis port is required")
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "netstats:"
	}
	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = time.Minute
	}

	if c.Chain.ChainID == "" {
		return fmt.Errorf("chain ID is required")
	}
	if c.Chain.WSURL == "" {
		return fmt.Errorf("websocket URL is required")
	}
	if c.Chain.ReconnectDelay <= 0 {
		c.Chain.ReconnectDelay = 2 * time.Second
	}
	if c.Chain.MaxReconnects <= 0 {
		c.Chain.MaxReconnects = 10
	}

	if c.Stats.EventBuffer <= 0 {
		c.Stats.EventBuffer = 1000
	}
	if c.Stats.SnapshotInterval <= 0 {
		c.Stats.SnapshotInterval = 30 * time.Second
	}

	if c.API.Port == 0 {
		return fmt.Errorf("API port is required")
	}
	if c.API.RateLimit <= 0 {
		c.API.RateLimit = 100
	}
	if c.API.RateBurst <= 0 {
		c.API.RateBurst = c.API.RateLimit * 2
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 10 * time.Second
	}

	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return fmt.Errorf("metrics port is required when metrics are enabled")
	}

	return nil
}

// GetConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// GetRedisAddr returns the Redis connection address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
