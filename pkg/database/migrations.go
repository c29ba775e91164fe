package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/samber/lo"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Statements splits the migration into individual statements.
func (m Migration) Statements() []string {
	parts := strings.Split(m.SQL, ";")
	stmts := lo.Map(parts, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Compact(stmts)
}

// MigrationManager applies the embedded migrations for one dialect.
type MigrationManager struct {
	db      *sql.DB
	dialect string
}

// NewMigrationManager creates a migration manager. dialect is DriverSQLite or DriverPostgres.
func NewMigrationManager(db *sql.DB, dialect string) *MigrationManager {
	return &MigrationManager{db: db, dialect: dialect}
}

// ApplyMigrations applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction.
func (m *MigrationManager) ApplyMigrations(ctx context.Context) error {
	if err := m.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := LoadMigrations(m.dialect)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if lo.Contains(applied, migration.Version) {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// ValidateSchema ensures the database matches what the store expects.
func (m *MigrationManager) ValidateSchema(ctx context.Context) error {
	return NewSchemaValidator(m.db, m.dialect).Validate(ctx)
}

// LoadMigrations returns the embedded migrations for dialect, ordered by version.
func LoadMigrations(dialect string) ([]Migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", dialect, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(migrationFiles, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		// "001_create_messages.sql" -> version "001", description "create_messages"
		name := strings.TrimSuffix(entry.Name(), ".sql")
		version, description, _ := strings.Cut(name, "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *MigrationManager) createMigrationTable(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := m.db.ExecContext(ctx, stmt)
	return err
}

// AppliedVersions returns the recorded migration versions in order.
func (m *MigrationManager) AppliedVersions(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (m *MigrationManager) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range migration.Statements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	record := "INSERT INTO schema_migrations (version) VALUES (" + placeholder(m.dialect, 1) + ")"
	if _, err := tx.ExecContext(ctx, record, migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// placeholder returns the n-th bind parameter in the dialect's syntax.
func placeholder(dialect string, n int) string {
	if dialect == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
