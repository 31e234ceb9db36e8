package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
)

// HistoryTable is the append-only audit table
const HistoryTable = "history"

// HistorySequence allocates history ids as MAX(history_id)+1
var HistorySequence = db.SequenceSpec{Table: HistoryTable, IDColumn: "history_id"}

const historyColumns = `history_id, incid, toid, toidfragid, modified_user_id, modified_date,
	modified_reason, modified_process, modified_operation, modified_incid, modified_toidfragid,
	modified_habprimary, modified_habsecond, modified_determqty, modified_interpqty,
	modified_length, modified_area`

// HistoryColumns discovers the column names of the history table
func (t *Tx) HistoryColumns(ctx context.Context) ([]string, error) {
	rows, err := t.QueryContext(ctx, "SELECT * FROM "+t.table(HistoryTable)+" WHERE 1 = 0")
	if err != nil {
		return nil, fmt.Errorf("failed to read history columns: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read history columns: %w", err)
	}
	for i, c := range cols {
		cols[i] = strings.ToLower(c)
	}
	return cols, nil
}

// InsertHistory appends one history row from parallel column/value slices
func (t *Tx) InsertHistory(ctx context.Context, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("history insert: %d columns but %d values", len(columns), len(values))
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = t.col(c)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	_, err := t.ExecContext(ctx,
		"INSERT INTO "+t.table(HistoryTable)+" ("+strings.Join(quoted, ", ")+") VALUES ("+marks+")",
		values...)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}
	return nil
}

// HistoryQuery filters ListHistory
type HistoryQuery struct {
	Incid   string // matches incid or modified_incid
	AfterID int64  // keyset cursor, exclusive
	Limit   int
}

// ListHistory returns history rows in id order
func (t *Tx) ListHistory(ctx context.Context, q HistoryQuery) ([]domain.HistoryRecord, error) {
	var where []string
	var args []any
	if q.Incid != "" {
		where = append(where, "(incid = ? OR modified_incid = ?)")
		args = append(args, q.Incid, q.Incid)
	}
	if q.AfterID > 0 {
		where = append(where, "history_id > ?")
		args = append(args, q.AfterID)
	}

	query := "SELECT " + historyColumns + " FROM " + t.table(HistoryTable)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY history_id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := t.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		var h domain.HistoryRecord
		var reason, process, operation *string
		err := rows.Scan(&h.HistoryID, &h.Incid, &h.Toid, &h.ToidFragID, &h.ModifiedUserID, &h.ModifiedDate,
			&reason, &process, &operation, &h.ModifiedIncid, &h.ModifiedFragID,
			&h.ModifiedPrimary, &h.ModifiedSecond, &h.ModifiedDetermQty, &h.ModifiedInterpQty,
			&h.ModifiedLength, &h.ModifiedArea)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.ModifiedReason = deref(reason)
		h.ModifiedProcess = deref(process)
		h.ModifiedOperation = deref(operation)
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountHistory returns the number of history rows
func (t *Tx) CountHistory(ctx context.Context) (int64, error) {
	var n int64
	if err := t.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table(HistoryTable)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
