package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option.
type Config struct {
	Server ServerConfig `koanf:"server"`

	// Sources records which files contributed to the snapshot. It is excluded
	// from koanf so the value only reflects what the loader actually read.
	Sources []string `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Cache   CacheConfig   `koanf:"cache"`
	Storage StorageConfig `koanf:"storage"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig drives the report memoization layer. Enabled is the single
// global switch; it may be flipped at runtime by the config watcher.
type CacheConfig struct {
	Enabled       bool `koanf:"enabled"`
	RetainSeconds int  `koanf:"retainSeconds"`
	SweepSeconds  int  `koanf:"sweepSeconds"`
}

// Retention converts RetainSeconds into a duration.
func (c CacheConfig) Retention() time.Duration {
	return time.Duration(c.RetainSeconds) * time.Second
}

// SweepInterval converts SweepSeconds into a duration.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

type StorageConfig struct {
	Backend string             `koanf:"backend"`
	Redis   StorageRedisConfig `koanf:"redis"`
}

type StorageRedisConfig struct {
	Address   string         `koanf:"address"`
	Username  string         `koanf:"username"`
	Password  string         `koanf:"password"`
	DB        int            `koanf:"db"`
	KeyPrefix string         `koanf:"keyPrefix"`
	TLS       RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.RetainSeconds < 0 {
		return fmt.Errorf("config: server.cache.retainSeconds invalid: %d", c.Server.Cache.RetainSeconds)
	}
	if c.Server.Cache.SweepSeconds < 0 {
		return fmt.Errorf("config: server.cache.sweepSeconds invalid: %d", c.Server.Cache.SweepSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Storage.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Storage.Redis.Address) == "" {
			return errors.New("config: server.storage.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.storage.backend unsupported: %s", c.Server.Storage.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Enabled:       true,
				RetainSeconds: 30,
				SweepSeconds:  10,
			},
			Storage: StorageConfig{
				Backend: "memory",
				Redis: StorageRedisConfig{
					KeyPrefix: "gamestats",
				},
			},
		},
	}
}
