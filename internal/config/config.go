package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	dbconfig "chatrelay/pkg/database"
)

// EnvPrefix prefixes every environment variable the relay reads, except DATABASE_URL.
const EnvPrefix = "CHATRELAY_"

// Config is the complete runtime configuration.
type Config struct {
	Database  *dbconfig.Config `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Hub       *HubConfig       `json:"hub"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Port            int           `json:"port"` // 0 picks a free port
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"` // pong wait
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

type HubConfig struct {
	QueueSize int `json:"queue_size"`
}

// RateLimitConfig bounds sendMessage/typing/stopTyping per user. Messages <= 0 disables it.
type RateLimitConfig struct {
	Messages int           `json:"messages"`
	Window   time.Duration `json:"window"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "console"
}

// DefaultConfig returns settings for a single-node deployment on SQLite.
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
		},
		Hub: &HubConfig{
			QueueSize: 1000,
		},
		RateLimit: &RateLimitConfig{
			Messages: 120,
			Window:   time.Minute,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Hub == nil || c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.Messages > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive when limiting is enabled")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// LoadFromEnv overlays environment variables (and a .env file, if present) on the defaults.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	// A database URL selects PostgreSQL unless the driver is set explicitly.
	for _, key := range []string{"DATABASE_URL", EnvPrefix + "DATABASE_URL"} {
		if url := os.Getenv(key); url != "" {
			config.Database.URL = url
			config.Database.Driver = dbconfig.DriverPostgres
		}
	}
	setString(&config.Database.Driver, "DATABASE_DRIVER")
	setString(&config.Database.Path, "DATABASE_PATH")
	setInt(&config.Database.MaxConnections, "DATABASE_MAX_CONNECTIONS")
	setDuration(&config.Database.Timeout, "DATABASE_TIMEOUT")

	setInt(&config.HTTP.Port, "HTTP_PORT")
	setString(&config.HTTP.Host, "HTTP_HOST")
	setDuration(&config.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	setDuration(&config.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")
	setDuration(&config.HTTP.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT")

	setDuration(&config.WebSocket.PingInterval, "WEBSOCKET_PING_INTERVAL")
	setDuration(&config.WebSocket.ReadTimeout, "WEBSOCKET_READ_TIMEOUT")
	setDuration(&config.WebSocket.WriteTimeout, "WEBSOCKET_WRITE_TIMEOUT")
	setInt(&config.WebSocket.BufferSize, "WEBSOCKET_BUFFER_SIZE")

	setInt(&config.Hub.QueueSize, "HUB_QUEUE_SIZE")

	setInt(&config.RateLimit.Messages, "RATE_LIMIT_MESSAGES")
	setDuration(&config.RateLimit.Window, "RATE_LIMIT_WINDOW")

	setString(&config.Log.Level, "LOG_LEVEL")
	setString(&config.Log.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile is the JSON layout on disk. Durations are strings such as "30s".
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Hub       *HubConfig           `json:"hub"`
	RateLimit *RateLimitConfigFile `json:"rate_limit"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Driver         string `json:"driver"`
	Path           string `json:"path"`
	URL            string `json:"url"`
	MaxConnections int    `json:"max_connections"`
	Timeout        string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type RateLimitConfigFile struct {
	Messages *int   `json:"messages"`
	Window   string `json:"window"`
}

// LoadFromFile reads a JSON config file over the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	duration := func(dst *time.Duration, field, v string) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	if db := file.Database; db != nil {
		if db.Driver != "" {
			config.Database.Driver = db.Driver
		}
		if db.Path != "" {
			config.Database.Path = db.Path
		}
		if db.URL != "" {
			config.Database.URL = db.URL
		}
		if db.MaxConnections > 0 {
			config.Database.MaxConnections = db.MaxConnections
		}
		duration(&config.Database.Timeout, "database.timeout", db.Timeout)
	}

	if h := file.HTTP; h != nil {
		if h.Port > 0 {
			config.HTTP.Port = h.Port
		}
		if h.Host != "" {
			config.HTTP.Host = h.Host
		}
		duration(&config.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		duration(&config.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
		duration(&config.HTTP.ShutdownTimeout, "http.shutdown_timeout", h.ShutdownTimeout)
	}

	if ws := file.WebSocket; ws != nil {
		if ws.BufferSize > 0 {
			config.WebSocket.BufferSize = ws.BufferSize
		}
		if ws.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = ws.MaxMessageSize
		}
		duration(&config.WebSocket.PingInterval, "websocket.ping_interval", ws.PingInterval)
		duration(&config.WebSocket.ReadTimeout, "websocket.read_timeout", ws.ReadTimeout)
		duration(&config.WebSocket.WriteTimeout, "websocket.write_timeout", ws.WriteTimeout)
	}

	if file.Hub != nil && file.Hub.QueueSize > 0 {
		config.Hub.QueueSize = file.Hub.QueueSize
	}

	if rl := file.RateLimit; rl != nil {
		if rl.Messages != nil {
			config.RateLimit.Messages = *rl.Messages
		}
		duration(&config.RateLimit.Window, "rate_limit.window", rl.Window)
	}

	if l := file.Log; l != nil {
		if l.Level != "" {
			config.Log.Level = l.Level
		}
		if l.Format != "" {
			config.Log.Format = l.Format
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %w", path, errors.Join(errs...))
	}
	return nil
}

// LoadConfigWithPrecedence builds the configuration as defaults < environment < file.
// An empty path skips the file layer.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
