package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator checks that the live schema has the tables, columns and indexes the
// message store queries rely on.
type SchemaValidator struct {
	db      *sql.DB
	dialect string
}

// NewSchemaValidator creates a validator for the given dialect.
func NewSchemaValidator(db *sql.DB, dialect string) *SchemaValidator {
	return &SchemaValidator{db: db, dialect: dialect}
}

var requiredTables = []string{"messages", "schema_migrations"}

var requiredIndexes = []string{
	"idx_messages_pair_time",
	"idx_messages_unread",
}

var messageColumns = []string{
	"id", "sender_id", "receiver_id", "content", "created_at", "is_read", "read_at",
}

// Validate runs every check and returns the first failure.
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	if err := v.ValidateColumns(ctx); err != nil {
		return err
	}
	return v.ValidateIndexes(ctx)
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for _, table := range requiredTables {
		exists, err := v.tableExists(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateIndexes verifies that the history and unread-count indexes exist.
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for _, index := range requiredIndexes {
		exists, err := v.indexExists(ctx, index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateColumns verifies that the messages table has every column the store reads.
func (v *SchemaValidator) ValidateColumns(ctx context.Context) error {
	found, err := v.columns(ctx, "messages")
	if err != nil {
		return fmt.Errorf("failed to read columns of messages: %w", err)
	}
	for _, col := range messageColumns {
		if !found[col] {
			return fmt.Errorf("messages table structure invalid: column %s not found", col)
		}
	}
	return nil
}

func (v *SchemaValidator) tableExists(ctx context.Context, table string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.dialect == DriverPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	}
	return v.count(ctx, query, table)
}

func (v *SchemaValidator) indexExists(ctx context.Context, index string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?"
	if v.dialect == DriverPostgres {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1"
	}
	return v.count(ctx, query, index)
}

func (v *SchemaValidator) count(ctx context.Context, query string, arg string) (bool, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (v *SchemaValidator) columns(ctx context.Context, table string) (map[string]bool, error) {
	query := "SELECT name FROM pragma_table_info(?)"
	if v.dialect == DriverPostgres {
		query = "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1"
	}

	rows, err := v.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		found[strings.ToLower(name)] = true
	}
	return found, rows.Err()
}
