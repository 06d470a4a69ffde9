// Package config loads hn-pager's configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/hn-pager/pkg/client"
	"github.com/Sternrassler/hn-pager/pkg/logging"
	"github.com/Sternrassler/hn-pager/pkg/pagination"
	"github.com/Sternrassler/hn-pager/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config is the full binary configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
	Client     ClientConfig     `yaml:"client"`
	Pagination PaginationConfig `yaml:"pagination"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RedisConfig configures the optional Redis connection. An empty Addr
// runs without Redis.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ClientConfig configures the API client.
type ClientConfig struct {
	BaseURL           string        `yaml:"baseURL"`
	UserAgent         string        `yaml:"userAgent"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	MaxRetries        int           `yaml:"maxRetries"`
	InitialBackoff    time.Duration `yaml:"initialBackoff"`
	ItemTTL           time.Duration `yaml:"itemTTL"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
}

// PaginationConfig configures the page orchestrator.
type PaginationConfig struct {
	PageSize       int           `yaml:"pageSize"`
	Deadline       time.Duration `yaml:"deadline"`
	StaggerStep    time.Duration `yaml:"staggerStep"`
	MaxConcurrency int           `yaml:"maxConcurrency"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	cc := client.DefaultConfig(nil, "hn-pager/0.1.0")
	pc := pagination.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Client: ClientConfig{
			BaseURL:           cc.BaseURL,
			UserAgent:         cc.UserAgent,
			RequestsPerSecond: cc.RateLimit.RequestsPerSecond,
			Burst:             cc.RateLimit.Burst,
			MaxRetries:        cc.MaxRetries,
			InitialBackoff:    cc.InitialBackoff,
			ItemTTL:           cc.ItemTTL,
			RequestTimeout:    cc.RequestTimeout,
		},
		Pagination: PaginationConfig{
			PageSize:       pc.PageSize,
			Deadline:       pc.Deadline,
			StaggerStep:    pc.StaggerStep,
			MaxConcurrency: pc.MaxConcurrency,
		},
	}
}

// Load reads path over the defaults and then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	getEnv := func(key, defaultValue string) string {
		if value, ok := lookup(key); ok && value != "" {
			return value
		}
		return defaultValue
	}

	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Client.BaseURL = getEnv("HN_BASE_URL", c.Client.BaseURL)
	c.Client.UserAgent = getEnv("USER_AGENT", c.Client.UserAgent)

	if v := getEnv("LOG_PRETTY", ""); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = pretty
	}
	if v := getEnv("HN_PAGE_DEADLINE", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HN_PAGE_DEADLINE: %w", err)
		}
		c.Pagination.Deadline = d
	}
	return nil
}

// Validate checks the configuration for values the binary cannot run with.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port cannot be empty")
	}
	if c.Client.UserAgent == "" {
		return errors.New("client user agent cannot be empty")
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client maxRetries must be >= 0 (got %d)", c.Client.MaxRetries)
	}
	if c.Pagination.PageSize < 0 {
		return fmt.Errorf("pagination pageSize must be >= 0 (got %d)", c.Pagination.PageSize)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Logging returns the logging configuration.
func (c Config) Logging() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Log.Pretty
	cfg.Service = "hn-pager"
	return cfg
}

// RedisOptions returns the connection options, nil when Redis is disabled.
func (c Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{Addr: c.Redis.Addr, DB: c.Redis.DB}
}

// ClientConfig returns the API client configuration.
func (c Config) ClientConfig(redisClient *redis.Client) client.Config {
	cfg := client.DefaultConfig(redisClient, c.Client.UserAgent)
	cfg.BaseURL = c.Client.BaseURL
	cfg.RateLimit = ratelimit.Config{
		RequestsPerSecond: c.Client.RequestsPerSecond,
		Burst:             c.Client.Burst,
	}
	cfg.MaxRetries = c.Client.MaxRetries
	cfg.InitialBackoff = c.Client.InitialBackoff
	cfg.ItemTTL = c.Client.ItemTTL
	cfg.RequestTimeout = c.Client.RequestTimeout
	return cfg
}

// PaginationConfig returns the orchestrator configuration.
func (c Config) PaginationConfig() pagination.Config {
	return pagination.Config{
		PageSize:       c.Pagination.PageSize,
		Deadline:       c.Pagination.Deadline,
		StaggerStep:    c.Pagination.StaggerStep,
		MaxConcurrency: c.Pagination.MaxConcurrency,
	}
}
