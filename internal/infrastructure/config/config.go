package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the optional overlay file.
const FileEnv = "CONFIG_FILE"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Relay     RelayConfig     `yaml:"relay" toml:"relay"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Upstream  UpstreamConfig  `yaml:"upstream" toml:"upstream"`
	Policy    PolicyConfig    `yaml:"policy" toml:"policy"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string   `envconfig:"PORT" yaml:"port" toml:"port"`
	Host            string   `envconfig:"HOST" yaml:"host" toml:"host"`
	ShutdownTimeout Duration `envconfig:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// RelayConfig holds the relay endpoint configuration.
type RelayConfig struct {
	Path    string   `envconfig:"RELAY_PATH" yaml:"path" toml:"path"`
	Aliases []string `envconfig:"RELAY_ALIASES" yaml:"aliases" toml:"aliases"`
	// PublicOrigin overrides the origin derived from inbound requests.
	PublicOrigin string   `envconfig:"PUBLIC_ORIGIN" yaml:"public_origin" toml:"public_origin"`
	Timeout      Duration `envconfig:"RELAY_TIMEOUT" yaml:"timeout" toml:"timeout"`
	MaxBodyBytes int64    `envconfig:"RELAY_MAX_BODY_BYTES" yaml:"max_body_bytes" toml:"max_body_bytes"`
	Dedup        bool     `envconfig:"RELAY_DEDUP" yaml:"dedup" toml:"dedup"`
	UserAgent    string   `envconfig:"RELAY_USER_AGENT" yaml:"user_agent" toml:"user_agent"`
}

// CacheConfig holds response cache limits.
type CacheConfig struct {
	MaxBytes      int64    `envconfig:"CACHE_MAX_BYTES" yaml:"max_bytes" toml:"max_bytes"`
	MaxItemBytes  int64    `envconfig:"CACHE_MAX_ITEM_BYTES" yaml:"max_item_bytes" toml:"max_item_bytes"`
	TTL           Duration `envconfig:"CACHE_TTL" yaml:"ttl" toml:"ttl"`
	SweepInterval Duration `envconfig:"CACHE_SWEEP_INTERVAL" yaml:"sweep_interval" toml:"sweep_interval"`
}

// SessionConfig holds cookie jar lifetimes.
type SessionConfig struct {
	IdleTimeout   Duration `envconfig:"SESSION_IDLE_TIMEOUT" yaml:"idle_timeout" toml:"idle_timeout"`
	SweepInterval Duration `envconfig:"SESSION_SWEEP_INTERVAL" yaml:"sweep_interval" toml:"sweep_interval"`
}

// UpstreamConfig holds upstream client behavior.
type UpstreamConfig struct {
	MaxRedirects    int      `envconfig:"UPSTREAM_MAX_REDIRECTS" yaml:"max_redirects" toml:"max_redirects"`
	Retries         int      `envconfig:"UPSTREAM_RETRIES" yaml:"retries" toml:"retries"`
	RateLimit       float64  `envconfig:"UPSTREAM_RPS" yaml:"rps" toml:"rps"`
	Burst           int      `envconfig:"UPSTREAM_BURST" yaml:"burst" toml:"burst"`
	BreakerFailures uint32   `envconfig:"UPSTREAM_BREAKER_FAILURES" yaml:"breaker_failures" toml:"breaker_failures"`
	BreakerTimeout  Duration `envconfig:"UPSTREAM_BREAKER_TIMEOUT" yaml:"breaker_timeout" toml:"breaker_timeout"`
}

// PolicyConfig restricts which hosts may be fetched.
type PolicyConfig struct {
	DenyHosts    []string `envconfig:"POLICY_DENY_HOSTS" yaml:"deny_hosts" toml:"deny_hosts"`
	BlockPrivate bool     `envconfig:"POLICY_BLOCK_PRIVATE" yaml:"block_private" toml:"block_private"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds inbound rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
	// Global shares one bucket among all clients instead of one per IP.
	Global bool `envconfig:"RATE_LIMIT_GLOBAL" yaml:"global" toml:"global"`
}

// CORSConfig holds allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ORIGINS" yaml:"allowed_origins" toml:"allowed_origins"`
}

// Duration is a time.Duration read from text such as "25s" in every source.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load builds configuration from defaults, the optional CONFIG_FILE overlay
// and environment variables, in increasing precedence.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit overlay path; empty means none.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := overlay(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Relay: RelayConfig{
			Path:         "/proxy",
			Aliases:      []string{"/browse"},
			Timeout:      Duration(25 * time.Second),
			MaxBodyBytes: 50 * 1024 * 1024,
			Dedup:        true,
		},
		Cache: CacheConfig{
			MaxBytes:      100 * 1024 * 1024,
			MaxItemBytes:  5 * 1024 * 1024,
			TTL:           Duration(10 * time.Minute),
			SweepInterval: Duration(time.Minute),
		},
		Session: SessionConfig{
			IdleTimeout:   Duration(30 * time.Minute),
			SweepInterval: Duration(time.Minute),
		},
		Upstream: UpstreamConfig{
			MaxRedirects:    10,
			Retries:         1,
			BreakerFailures: 10,
			BreakerTimeout:  Duration(30 * time.Second),
		},
		Policy: PolicyConfig{
			BlockPrivate: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Relay.Path, "/") {
		return fmt.Errorf("relay path %q must start with /", c.Relay.Path)
	}
	for _, alias := range c.Relay.Aliases {
		if !strings.HasPrefix(alias, "/") {
			return fmt.Errorf("relay alias %q must start with /", alias)
		}
		if alias == c.Relay.Path {
			return fmt.Errorf("relay alias %q duplicates the relay path", alias)
		}
	}
	if c.Relay.PublicOrigin != "" {
		if !strings.HasPrefix(c.Relay.PublicOrigin, "http://") && !strings.HasPrefix(c.Relay.PublicOrigin, "https://") {
			return fmt.Errorf("public origin %q must be an http(s) origin", c.Relay.PublicOrigin)
		}
		c.Relay.PublicOrigin = strings.TrimRight(c.Relay.PublicOrigin, "/")
	}
	if c.Relay.Timeout <= 0 {
		return fmt.Errorf("relay timeout must be positive")
	}
	if c.Cache.SweepInterval <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}
	if c.Cache.MaxItemBytes > c.Cache.MaxBytes {
		return fmt.Errorf("cache item ceiling %d exceeds total ceiling %d", c.Cache.MaxItemBytes, c.Cache.MaxBytes)
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func overlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("config file %s: unsupported format %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
