// Package db opens the relational store, owns its embedded schema migrations
// and allocates row ids.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// sqlitePragmas are applied to every SQLite connection. The store runs a
// single writer, so one pooled connection keeps them in effect.
var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// DB is a database handle that knows its driver and SQL dialect
type DB struct {
	*sql.DB
	path    string
	driver  string
	dialect Dialect
}

// Open opens (creating if needed) the SQLite database at path
func Open(path string) (*DB, error) {
	return OpenDriver(DriverSQLite, path)
}

// OpenDriver opens a database with the named driver. For sqlite3 the dsn is a
// file path; for pgx it is a Postgres connection string.
func OpenDriver(driver, dsn string) (*DB, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", dsn, err)
		}
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := prepare(conn, driver); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{DB: conn, path: dsn, driver: driver, dialect: dialect}, nil
}

func prepare(conn *sql.DB, driver string) error {
	if driver != DriverSQLite {
		if err := conn.Ping(); err != nil {
			return fmt.Errorf("connect to %s database: %w", driver, err)
		}
		return nil
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range sqlitePragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Path returns the database file path, or the DSN for Postgres
func (db *DB) Path() string { return db.path }

// Driver returns the database/sql driver name
func (db *DB) Driver() string { return db.driver }

// Dialect returns the SQL dialect of the connection
func (db *DB) Dialect() Dialect { return db.dialect }
