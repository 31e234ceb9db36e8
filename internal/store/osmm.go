package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/sqlfilter"
)

// OSMMTable holds OSMM update proposals
const OSMMTable = "incid_osmm_updates"

var OSMMUpdateTable = &Table[domain.OSMMUpdate]{
	Name: OSMMTable,
	Key:  "incid_osmm_update_id",
	Columns: []string{"incid", "osmm_xref_id", "process_flag", "spatial_flag", "change_flag",
		"status", "last_modified_user_id", "last_modified_date"},
	key: func(u domain.OSMMUpdate) int64 { return u.IncidOSMMUpdateID },
	values: func(u domain.OSMMUpdate) []any {
		return []any{u.Incid, u.OSMMXrefID, u.ProcessFlag, u.SpatialFlag, u.ChangeFlag,
			int(u.Status), u.LastModifiedUser, domain.Truncate(u.LastModifiedDate)}
	},
	scan: func(s scanner) (domain.OSMMUpdate, error) {
		var u domain.OSMMUpdate
		var status int
		err := s.Scan(&u.IncidOSMMUpdateID, &u.Incid, &u.OSMMXrefID, &u.ProcessFlag, &u.SpatialFlag,
			&u.ChangeFlag, &status, &u.LastModifiedUser, &u.LastModifiedDate)
		u.Status = domain.OSMMStatus(status)
		return u, err
	},
}

// OSMMUpdatesWhere returns proposals matching any of the blocks, ordered by incid
func (t *Tx) OSMMUpdatesWhere(ctx context.Context, blocks [][]sqlfilter.Condition) ([]domain.OSMMUpdate, error) {
	var out []domain.OSMMUpdate
	for _, block := range blocks {
		where, args := t.where(block)
		rows, err := t.QueryContext(ctx,
			OSMMUpdateTable.selectSQL(t)+" WHERE "+where+" ORDER BY incid, incid_osmm_update_id", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query osmm updates: %w", err)
		}
		for rows.Next() {
			u, err := OSMMUpdateTable.scan(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan osmm update: %w", err)
			}
			out = append(out, u)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OpenOSMMUpdates returns the proposals still awaiting a decision for an incid
func (t *Tx) OpenOSMMUpdates(ctx context.Context, incid string) ([]domain.OSMMUpdate, error) {
	block := []sqlfilter.Condition{
		sqlfilter.New("", "incid", incid),
		{BooleanOperator: "AND", Column: "status", Operator: ">=", Value: int64(domain.OSMMPending), ValueType: sqlfilter.TypeInteger},
	}
	return t.OSMMUpdatesWhere(ctx, [][]sqlfilter.Condition{block})
}

// SetOSMMStatus moves every matching proposal to status and stamps the audit columns
func (t *Tx) SetOSMMStatus(ctx context.Context, blocks [][]sqlfilter.Condition, status domain.OSMMStatus, userID string, ts time.Time) (int64, error) {
	prefix := "UPDATE " + t.table(OSMMTable) + " SET status = ?, last_modified_user_id = ?, last_modified_date = ?"
	n, err := t.execBlocks(ctx, prefix, []any{int(status), userID, domain.Truncate(ts)}, blocks)
	if err != nil {
		return n, fmt.Errorf("failed to set osmm status: %w", err)
	}
	return n, nil
}

// OSMMStatusCounts returns the number of proposals per status
func (t *Tx) OSMMStatusCounts(ctx context.Context) (map[domain.OSMMStatus]int, error) {
	rows, err := t.QueryContext(ctx, "SELECT status, COUNT(*) FROM "+t.table(OSMMTable)+" GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count osmm updates: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OSMMStatus]int)
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.OSMMStatus(status)] = n
	}
	return counts, rows.Err()
}
