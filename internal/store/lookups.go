package store

import (
	"context"
	"fmt"

	"github.com/lherron/hlutool/internal/domain"
)

// Lookup tables referenced by history rows
const (
	LookupReason    = "lut_reason"
	LookupProcess   = "lut_process"
	LookupOperation = "lut_operation"
)

// Lookups returns the code/description pairs of a lookup table
func (t *Tx) Lookups(ctx context.Context, table string) ([]domain.Lookup, error) {
	switch table {
	case LookupReason, LookupProcess, LookupOperation:
	default:
		return nil, fmt.Errorf("unknown lookup table: %s", table)
	}

	rows, err := t.QueryContext(ctx, "SELECT code, description FROM "+t.table(table)+" ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	var out []domain.Lookup
	for rows.Next() {
		var l domain.Lookup
		if err := rows.Scan(&l.Code, &l.Description); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
