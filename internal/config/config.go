// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // non-streaming routes only
	KeepAlive      time.Duration `yaml:"keep_alive"`      // SSE comment interval
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	CookieName string `yaml:"cookie_name"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // memory|postgres|sqlite|redis
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // retention of terminal records
}

type UpstreamConfig struct {
	Provider        string `yaml:"provider"` // openai|gemini|simulated
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent upstream calls
}

type ResumeConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollDuration time.Duration `yaml:"max_poll_duration"`
	RateLimit       int           `yaml:"rate_limit"` // resumes per owner per window; 0 disables
	RateWindow      time.Duration `yaml:"rate_window"`
}

type StreamConfig struct {
	CheckpointEvery int `yaml:"checkpoint_every"`
}

type SweepConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables the sweeper
	Workers  int           `yaml:"workers"`
	Batch    int           `yaml:"batch"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Redis    RedisConfig    `yaml:"redis"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Resume   ResumeConfig   `yaml:"resume"`
	Stream   StreamConfig   `yaml:"stream"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.KeepAlive <= 0 {
		cfg.HTTP.KeepAlive = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "session"
	}
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "taskstream.db"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	cfg.Upstream.Provider = strings.ToLower(cfg.Upstream.Provider)
	if cfg.Upstream.Provider == "" {
		cfg.Upstream.Provider = "simulated"
	}
	if cfg.Upstream.ConcurrentLimit <= 0 {
		cfg.Upstream.ConcurrentLimit = 16
	}
	if cfg.Upstream.DefaultModel == "" {
		switch cfg.Upstream.Provider {
		case "gemini":
			cfg.Upstream.DefaultModel = "gemini-2.5-flash"
		default:
			cfg.Upstream.DefaultModel = "gpt-4o-mini"
		}
	}

	if cfg.Resume.PollInterval <= 0 {
		cfg.Resume.PollInterval = 2 * time.Second
	}
	if cfg.Resume.MaxPollDuration <= 0 {
		cfg.Resume.MaxPollDuration = 15 * time.Minute
	}
	if cfg.Resume.RateWindow <= 0 {
		cfg.Resume.RateWindow = time.Minute
	}
	if cfg.Stream.CheckpointEvery <= 0 {
		cfg.Stream.CheckpointEvery = 20
	}
	if cfg.Sweep.Workers <= 0 {
		cfg.Sweep.Workers = 4
	}
	if cfg.Sweep.Batch <= 0 {
		cfg.Sweep.Batch = 200
	}
}

func (cfg *Config) validate() error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required for store.driver=postgres")
		}
	case "sqlite":
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required for store.driver=redis")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}
	switch cfg.Upstream.Provider {
	case "openai":
		if cfg.Upstream.OpenAIKey == "" {
			return errors.New("upstream.openai_key is required for provider=openai")
		}
	case "gemini":
		if cfg.Upstream.GeminiKey == "" {
			return errors.New("upstream.gemini_key is required for provider=gemini")
		}
	case "simulated":
	default:
		return fmt.Errorf("unknown upstream.provider %q", cfg.Upstream.Provider)
	}
	if k := cfg.Security.EncryptionKey; k != "" && len(k) != 32 {
		return errors.New("security.encryption_key must be 32 bytes")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}
