package db

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "schema_migrations"

// Migration is one embedded schema change, identified by its file name
type Migration struct {
	Version string
	SQL     string
}

func loadMigrations() ([]Migration, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: path.Base(name), SQL: string(body)})
	}
	return out, nil
}

// Migrate applies every pending migration
func (db *DB) Migrate() error {
	_, err := db.MigrateWithInfo()
	return err
}

// MigrateWithInfo applies pending migrations in version order, each in its own
// transaction, and returns the versions it applied. It stops at the first
// failure; earlier migrations stay applied.
func (db *DB) MigrateWithInfo() ([]string, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationsTable + ` (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("create %s: %w", migrationsTable, err)
	}

	pending, err := db.pendingMigrations()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range pending {
		if err := db.apply(m); err != nil {
			return applied, err
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

func (db *DB) apply(m Migration) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Version, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("execute migration %s: %w", m.Version, err)
	}
	if _, err = tx.Exec(db.dialect.Rebind(`INSERT INTO `+migrationsTable+` (version) VALUES (?)`), m.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Version, err)
	}
	return nil
}

// MigrationStatus returns the applied versions, oldest first, and the
// embedded versions that have not been applied yet
func (db *DB) MigrationStatus() (applied []string, pending []string, err error) {
	applied, err = db.appliedVersions()
	if err != nil {
		return nil, nil, err
	}
	todo, err := db.pendingMigrations()
	if err != nil {
		return nil, nil, err
	}
	for _, m := range todo {
		pending = append(pending, m.Version)
	}
	return applied, pending, nil
}

func (db *DB) pendingMigrations() ([]Migration, error) {
	all, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	done, err := db.appliedVersions()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(done))
	for _, v := range done {
		seen[v] = true
	}

	var out []Migration
	for _, m := range all {
		if !seen[m.Version] {
			out = append(out, m)
		}
	}
	return out, nil
}

// appliedVersions reads schema_migrations; a database without the table has
// applied nothing
func (db *DB) appliedVersions() ([]string, error) {
	exists, err := db.hasTable(migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", migrationsTable, err)
	}
	if !exists {
		return nil, nil
	}

	rows, err := db.Query(`SELECT version FROM ` + migrationsTable + ` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationsTable, err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", migrationsTable, err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (db *DB) hasTable(name string) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if db.driver == DriverPostgres {
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`
	}
	var n int
	if err := db.QueryRow(query, name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// RequiresMigrationError returns nil when the schema is current, and otherwise
// an error naming the database, its schema version and the pending count
func (db *DB) RequiresMigrationError() error {
	applied, pending, err := db.MigrationStatus()
	if err != nil {
		return fmt.Errorf("check migration status: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	version := "none"
	if len(applied) > 0 {
		version = applied[len(applied)-1]
	}
	return fmt.Errorf("database at %s (version: %s) requires migration: %d pending migration(s). Run 'hluadm migrate' to update",
		db.path, version, len(pending))
}
