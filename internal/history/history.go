// Package history appends audit rows for every mutation of the shadow copy and
// the GIS layer. Rows are built from GIS snapshots plus a set of fixed values
// and are never updated once written.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/store"
)

// Fixed column names stamped on every history row
const (
	ColumnID        = "history_id"
	ColumnUser      = "modified_user_id"
	ColumnDate      = "modified_date"
	ColumnReason    = "modified_reason"
	ColumnProcess   = "modified_process"
	ColumnOperation = "modified_operation"
	ColumnIncid     = "modified_incid"
	ColumnFragID    = "modified_toidfragid"
)

// Tx is the transactional surface the writer needs
type Tx interface {
	HistoryColumns(ctx context.Context) ([]string, error)
	Lookups(ctx context.Context, table string) ([]domain.Lookup, error)
	InsertHistory(ctx context.Context, columns []string, values []any) error
	Counter(ctx context.Context, spec db.SequenceSpec) (*db.Counter, error)
}

// Writer writes history rows for one session
type Writer struct {
	session domain.Session
	logger  *slog.Logger
}

// Option configures a Writer
type Option func(*Writer)

// WithLogger sets the writer's logger
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// NewWriter creates a Writer stamping rows with the session's user, reason and process
func NewWriter(session domain.Session, opts ...Option) *Writer {
	w := &Writer{session: session, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write appends one history row per snapshot row and returns the assigned ids.
// fixed values take precedence over snapshot values for the same column.
// The caller's transaction must roll back if Write fails.
func (w *Writer) Write(ctx context.Context, tx Tx, fixed map[string]any, rows domain.Snapshot, op domain.Operation, ts time.Time) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	auditColumns, err := tx.HistoryColumns(ctx)
	if err != nil {
		return nil, err
	}
	audit := make(map[string]bool, len(auditColumns))
	for _, c := range auditColumns {
		audit[c] = true
	}

	values, err := w.fixedValues(ctx, tx, fixed, op, ts)
	if err != nil {
		return nil, err
	}
	for col := range values {
		if !audit[col] {
			return nil, fmt.Errorf("history has no column %q", col)
		}
	}

	counter, err := tx.Counter(ctx, store.HistorySequence)
	if err != nil {
		return nil, err
	}
	ids := counter.Reserve(len(rows))

	for i, row := range rows {
		mapped := MapColumns(RenameGeometry(row.Columns, w.session.GeometryType), audit)

		cols := []string{ColumnID}
		vals := []any{ids[i]}
		for _, col := range auditColumns {
			if col == ColumnID {
				continue
			}
			if v, ok := values[col]; ok {
				cols = append(cols, col)
				vals = append(vals, blankToNull(v))
				continue
			}
			if src, ok := mapped[col]; ok {
				cols = append(cols, col)
				vals = append(vals, blankToNull(row.Get(src)))
			}
		}

		if err := tx.InsertHistory(ctx, cols, vals); err != nil {
			return nil, err
		}
	}

	w.logger.Debug("history written", "operation", string(op), "rows", len(rows), "first_id", ids[0])
	return ids, nil
}

func (w *Writer) fixedValues(ctx context.Context, tx Tx, fixed map[string]any, op domain.Operation, ts time.Time) (map[string]any, error) {
	reason, err := resolveLookup(ctx, tx, store.LookupReason, w.session.Reason)
	if err != nil {
		return nil, err
	}
	process, err := resolveLookup(ctx, tx, store.LookupProcess, w.session.Process)
	if err != nil {
		return nil, err
	}
	operation, err := resolveLookup(ctx, tx, store.LookupOperation, string(op))
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(fixed)+5)
	for k, v := range fixed {
		values[strings.ToLower(k)] = v
	}
	values[ColumnUser] = w.session.UserID
	values[ColumnDate] = domain.Truncate(ts)
	values[ColumnReason] = reason
	values[ColumnProcess] = process
	values[ColumnOperation] = operation
	return values, nil
}

// RenameGeometry maps snapshot columns to their layer-specific audit names.
// The result maps the audit-side name to the snapshot column it reads from.
// Point layers carry no measurements; line layers carry length only.
func RenameGeometry(columns []string, geom domain.GeometryType) map[string]string {
	out := make(map[string]string, len(columns))
	for _, c := range columns {
		name := strings.ToLower(c)
		switch name {
		case "shape_length":
			if geom == domain.GeometryLine || geom == domain.GeometryPolygon {
				out["length"] = c
			}
		case "shape_area":
			if geom == domain.GeometryPolygon {
				out["area"] = c
			}
		default:
			out[name] = c
		}
	}
	return out
}

// MapColumns maps each renamed column X to audit column X when present, else
// modified_X. Columns with neither counterpart are dropped. The result maps
// audit column to snapshot column.
func MapColumns(renamed map[string]string, audit map[string]bool) map[string]string {
	out := make(map[string]string, len(renamed))
	for name, src := range renamed {
		switch {
		case audit[name]:
			out[name] = src
		case audit["modified_"+name]:
			out["modified_"+name] = src
		}
	}
	return out
}

func blankToNull(v any) any {
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
	case []byte:
		if len(strings.TrimSpace(string(x))) == 0 {
			return nil
		}
	}
	return v
}
