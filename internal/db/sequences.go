package db

import (
	"context"
	"database/sql"
	"fmt"
)

// SequenceSpec names a table whose integer key is allocated as MAX(column)+1
type SequenceSpec struct {
	Table    string
	IDColumn string
}

// Executor is the subset of *sql.DB / *sql.Tx used for id allocation
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DefaultSequenceSpecs returns the tables with MAX+1 allocated keys
func DefaultSequenceSpecs() []SequenceSpec {
	return []SequenceSpec{
		{Table: "history", IDColumn: "history_id"},
		{Table: "incid_secondary", IDColumn: "secondary_id"},
		{Table: "incid_bap", IDColumn: "bap_id"},
		{Table: "incid_condition", IDColumn: "condition_id"},
		{Table: "incid_sources", IDColumn: "incid_source_id"},
		{Table: "incid_ihs_matrix", IDColumn: "id"},
		{Table: "incid_ihs_formation", IDColumn: "id"},
		{Table: "incid_ihs_management", IDColumn: "id"},
		{Table: "incid_ihs_complex", IDColumn: "id"},
		{Table: "incid_osmm_updates", IDColumn: "incid_osmm_update_id"},
	}
}

// MaxID returns the highest key in the table, or 0 when it is empty.
// Called inside a transaction, the value is stable for that transaction's writes.
func MaxID(ctx context.Context, exec Executor, d Dialect, spec SequenceSpec) (int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s",
		d.QuoteIdentifier(spec.IDColumn), d.QualifyTableName(spec.Table))
	var maxID int64
	if err := exec.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to read max %s.%s: %w", spec.Table, spec.IDColumn, err)
	}
	return maxID, nil
}

// Counter hands out consecutive ids starting after a table's current maximum.
// It keeps no state beyond its own run: a new counter re-reads MAX, so ids
// taken by a rolled back transaction are handed out again.
type Counter struct {
	next int64
}

// NewCounter reads MAX(id) and returns a counter positioned after it
func NewCounter(ctx context.Context, exec Executor, d Dialect, spec SequenceSpec) (*Counter, error) {
	maxID, err := MaxID(ctx, exec, d, spec)
	if err != nil {
		return nil, err
	}
	return &Counter{next: maxID + 1}, nil
}

// Next returns the next id
func (c *Counter) Next() int64 {
	id := c.next
	c.next++
	return id
}

// Reserve returns a contiguous block of n ids
func (c *Counter) Reserve(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = c.Next()
	}
	return ids
}

// KeyGap captures a table whose keys are not dense from 1..MAX
type KeyGap struct {
	Table string
	MaxID int64
	Count int64
}

// KeyGaps reports tables where MAX(id) exceeds COUNT(*), which happens when
// ids are burned by rolled back writes or rows are deleted.
func KeyGaps(ctx context.Context, exec Executor, d Dialect, specs []SequenceSpec) ([]KeyGap, error) {
	gaps := []KeyGap{}
	for _, spec := range specs {
		maxID, err := MaxID(ctx, exec, d, spec)
		if err != nil {
			return nil, err
		}
		var count int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", d.QualifyTableName(spec.Table))
		if err := exec.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", spec.Table, err)
		}
		if maxID > count {
			gaps = append(gaps, KeyGap{Table: spec.Table, MaxID: maxID, Count: count})
		}
	}
	return gaps, nil
}
