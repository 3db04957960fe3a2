package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAPIURL          = "http://127.0.0.1:8000"
	DefaultStreamTimeout   = 2 * time.Minute
	DefaultRequestTimeout  = 30 * time.Second
	DefaultHistoryPageSize = 20
	DefaultEdgeThreshold   = 200
)

// Config is the resolved client configuration.
type Config struct {
	APIURL         string        `toml:"api_url"`
	WSURL          string        `toml:"ws_url"`
	AccessToken    string        `toml:"access_token"`
	StreamTimeout  time.Duration `toml:"stream_timeout"`
	RequestTimeout time.Duration `toml:"request_timeout"`

	HistoryPageSize int     `toml:"history_page_size"`
	EdgeThreshold   float64 `toml:"edge_threshold"`

	StatusRetry StatusRetryConfig `toml:"status_retry"`

	RedisURL      string `toml:"redis_url"`
	RedisPassword string `toml:"redis_password"`

	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// StatusRetryConfig controls reconnects of the status push channel.
// MaxAttempts of zero disables reconnecting.
type StatusRetryConfig struct {
	MaxAttempts     int           `toml:"max_attempts"`
	InitialInterval time.Duration `toml:"initial_interval"`
	MaxInterval     time.Duration `toml:"max_interval"`
}

// Default returns the built-in configuration before file and env overrides.
func Default() *Config {
	return &Config{
		APIURL:          DefaultAPIURL,
		StreamTimeout:   DefaultStreamTimeout,
		RequestTimeout:  DefaultRequestTimeout,
		HistoryPageSize: DefaultHistoryPageSize,
		EdgeThreshold:   DefaultEdgeThreshold,
		StatusRetry: StatusRetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load resolves configuration from defaults, an optional TOML file, then the environment.
// An empty path falls back to PHANTOM_CONFIG.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PHANTOM_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("Loaded config file")
	}

	cfg.applyEnv()

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize fills derived settings and validates. Call it again after
// overriding fields, for example from command-line flags.
func (c *Config) Finalize() error {
	if c.WSURL == "" {
		c.WSURL = deriveWSURL(c.APIURL)
	}
	return c.Validate()
}

func (c *Config) applyEnv() {
	c.APIURL = GetEnvOrDefault("PHANTOM_API_URL", c.APIURL)
	c.WSURL = GetEnvOrDefault("PHANTOM_WS_URL", c.WSURL)
	if token := GetAccessToken(); token != "" {
		c.AccessToken = token
	}
	c.StreamTimeout = parseEnvDuration("PHANTOM_STREAM_TIMEOUT", c.StreamTimeout)
	c.RequestTimeout = parseEnvDuration("PHANTOM_REQUEST_TIMEOUT", c.RequestTimeout)
	c.HistoryPageSize = parseEnvInt("PHANTOM_HISTORY_PAGE_SIZE", c.HistoryPageSize)
	c.EdgeThreshold = parseEnvFloat("PHANTOM_EDGE_THRESHOLD", c.EdgeThreshold)

	c.StatusRetry.MaxAttempts = parseEnvInt("PHANTOM_STATUS_RETRY_MAX", c.StatusRetry.MaxAttempts)
	c.StatusRetry.InitialInterval = parseEnvDuration("PHANTOM_STATUS_RETRY_INITIAL", c.StatusRetry.InitialInterval)
	c.StatusRetry.MaxInterval = parseEnvDuration("PHANTOM_STATUS_RETRY_MAX_INTERVAL", c.StatusRetry.MaxInterval)

	if redisURL := GetRedisURL(); redisURL != "" {
		c.RedisURL = redisURL
	}
	c.RedisPassword = GetEnvOrDefault("REDIS_PASSWORD", c.RedisPassword)

	c.LogLevel = GetEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFile = GetEnvOrDefault("LOG_FILE", c.LogFile)
	c.LogFormat = GetEnvOrDefault("LOG_FORMAT", c.LogFormat)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validateURL(c.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("invalid api url: %w", err)
	}
	if err := validateURL(c.WSURL, "ws", "wss"); err != nil {
		return fmt.Errorf("invalid websocket url: %w", err)
	}
	if c.HistoryPageSize <= 0 {
		return errors.New("history page size must be positive")
	}
	if c.EdgeThreshold <= 0 {
		return errors.New("edge threshold must be positive")
	}
	if c.StatusRetry.MaxAttempts < 0 {
		return errors.New("status retry attempts cannot be negative")
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must use one of %v with a host", raw, schemes)
}

// deriveWSURL maps http(s)://host to ws(s)://host.
func deriveWSURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	default:
		return apiURL
	}
}
