// Package store provides the relational persistence layer for incids, their
// polygon shadow copy, child tables, OSMM proposals and history. Every write
// goes through a Tx so a core operation commits or rolls back as one unit.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/sqlfilter"
)

// Store is the root store wrapping a database connection.
type Store struct {
	db *db.DB
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// DB returns the underlying database connection.
func (s *Store) DB() *db.DB {
	return s.db
}

// Dialect returns the SQL dialect of the underlying connection.
func (s *Store) Dialect() db.Dialect {
	return s.db.Dialect()
}

// Begin starts a transaction. Callers own Commit/Rollback.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, dialect: s.db.Dialect()}, nil
}

// WithTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// View executes fn within a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// Tx is a database transaction that rewrites '?' placeholders for its dialect.
// With SQLite limited to one connection, all reads made while a Tx is open
// must go through it.
type Tx struct {
	tx      *sql.Tx
	dialect db.Dialect
	done    bool
}

// Dialect returns the SQL dialect of the transaction.
func (t *Tx) Dialect() db.Dialect {
	return t.dialect
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// ExecContext executes a statement written with '?' placeholders.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryContext runs a query written with '?' placeholders.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryRowContext runs a single-row query written with '?' placeholders.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// Counter returns an id counter positioned after the table's current maximum.
func (t *Tx) Counter(ctx context.Context, spec db.SequenceSpec) (*db.Counter, error) {
	return db.NewCounter(ctx, t, t.dialect, spec)
}

func (t *Tx) table(name string) string {
	return t.dialect.QualifyTableName(name)
}

func (t *Tx) col(name string) string {
	return t.dialect.QuoteIdentifier(name)
}

// where renders a block against this transaction's dialect
func (t *Tx) where(block []sqlfilter.Condition) (string, []any) {
	return sqlfilter.Render(t.dialect, block)
}

// execBlocks runs one statement per where block and sums the affected rows
func (t *Tx) execBlocks(ctx context.Context, prefix string, prefixArgs []any, blocks [][]sqlfilter.Condition) (int64, error) {
	var total int64
	for _, block := range blocks {
		where, args := t.where(block)
		res, err := t.ExecContext(ctx, prefix+" WHERE "+where, append(append([]any{}, prefixArgs...), args...)...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

type scanner interface {
	Scan(dest ...any) error
}
