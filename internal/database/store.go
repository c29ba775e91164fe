package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
)

// Store is a message store that also exposes a database/sql handle for migrations.
type Store interface {
	interfaces.MessageStore
	GetDB() *sql.DB
}

var (
	_ Store = (*Manager)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Open connects the store selected by config.Driver.
func Open(ctx context.Context, config *dbconfig.Config, log zerolog.Logger) (Store, error) {
	switch config.Driver {
	case dbconfig.DriverSQLite:
		m, err := NewManager(config, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	case dbconfig.DriverPostgres:
		s, err := NewPostgresStore(ctx, config, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, config.Driver)
	}
}

// Migrate applies pending migrations for the configured dialect and validates the result.
func Migrate(ctx context.Context, store Store, dialect string) error {
	mm := dbconfig.NewMigrationManager(store.GetDB(), dialect)
	if err := mm.ApplyMigrations(ctx); err != nil {
		return err
	}
	if err := mm.ValidateSchema(ctx); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
