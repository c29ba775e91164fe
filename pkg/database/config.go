package database

import (
	"errors"
	"fmt"
	"time"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds message store configuration.
type Config struct {
	Driver          string        `json:"driver"`
	Path            string        `json:"path"` // SQLite file
	URL             string        `json:"url"`  // PostgreSQL connection string
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	Timeout         time.Duration `json:"timeout"`
}

// DefaultConfig returns a SQLite configuration suitable for a single node.
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		Path:            "./data/chatrelay.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		Timeout:         5 * time.Second,
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.Path == "" {
			return errors.New("database path cannot be empty")
		}
	case DriverPostgres:
		if c.URL == "" {
			return errors.New("database url cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("database timeout must be greater than 0")
	}
	return nil
}

// SQLiteDSN returns the go-sqlite3 data source name with WAL and a busy timeout.
func (c *Config) SQLiteDSN() string {
	return c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}
