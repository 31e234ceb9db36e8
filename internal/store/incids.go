package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/id"
	"github.com/lherron/hlutool/internal/sqlfilter"
)

const incidColumns = `incid, habitat_primary, habitat_secondaries, quality_determination,
	quality_interpretation, ihs_habitat, created_user_id, created_date,
	last_modified_user_id, last_modified_date`

func scanIncid(s scanner) (domain.Incid, error) {
	var inc domain.Incid
	err := s.Scan(
		&inc.Incid, &inc.HabitatPrimary, &inc.HabitatSecondaries, &inc.QualityDetermination,
		&inc.QualityInterpretation, &inc.IHSHabitat, &inc.CreatedUser, &inc.CreatedDate,
		&inc.LastModifiedUser, &inc.LastModifiedDate,
	)
	return inc, err
}

// GetIncid loads a single incid. Returns domain.ErrNotFound when it does not exist.
func (t *Tx) GetIncid(ctx context.Context, incid string) (*domain.Incid, error) {
	row := t.QueryRowContext(ctx, "SELECT "+incidColumns+" FROM incid WHERE incid = ?", incid)
	inc, err := scanIncid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incid %s: %w", incid, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incid %s: %w", incid, err)
	}
	return &inc, nil
}

// ListIncids returns incids in key order, starting after the given incid
func (t *Tx) ListIncids(ctx context.Context, after string, limit int) ([]domain.Incid, error) {
	query := "SELECT " + incidColumns + " FROM incid WHERE incid > ? ORDER BY incid"
	args := []any{after}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := t.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incids: %w", err)
	}
	defer rows.Close()

	var out []domain.Incid
	for rows.Next() {
		inc, err := scanIncid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incid: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// InsertIncid creates a new incid row
func (t *Tx) InsertIncid(ctx context.Context, inc domain.Incid) error {
	_, err := t.ExecContext(ctx, `
		INSERT INTO incid (`+incidColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inc.Incid, inc.HabitatPrimary, inc.HabitatSecondaries, inc.QualityDetermination,
		inc.QualityInterpretation, inc.IHSHabitat, inc.CreatedUser, domain.Truncate(inc.CreatedDate),
		inc.LastModifiedUser, domain.Truncate(inc.LastModifiedDate),
	)
	if err != nil {
		return fmt.Errorf("failed to insert incid %s: %w", inc.Incid, err)
	}
	return nil
}

// UpdateIncid writes the attribute and audit columns of an existing incid
func (t *Tx) UpdateIncid(ctx context.Context, inc domain.Incid) error {
	res, err := t.ExecContext(ctx, `
		UPDATE incid SET
			habitat_primary = ?, habitat_secondaries = ?, quality_determination = ?,
			quality_interpretation = ?, ihs_habitat = ?,
			last_modified_user_id = ?, last_modified_date = ?
		WHERE incid = ?
	`,
		inc.HabitatPrimary, inc.HabitatSecondaries, inc.QualityDetermination,
		inc.QualityInterpretation, inc.IHSHabitat,
		inc.LastModifiedUser, domain.Truncate(inc.LastModifiedDate), inc.Incid,
	)
	if err != nil {
		return fmt.Errorf("failed to update incid %s: %w", inc.Incid, err)
	}
	return expectOne(res, "incid", inc.Incid)
}

// TouchIncid stamps last-modified user and date on an incid
func (t *Tx) TouchIncid(ctx context.Context, incid, userID string, ts time.Time) error {
	res, err := t.ExecContext(ctx,
		"UPDATE incid SET last_modified_user_id = ?, last_modified_date = ? WHERE incid = ?",
		userID, domain.Truncate(ts), incid)
	if err != nil {
		return fmt.Errorf("failed to touch incid %s: %w", incid, err)
	}
	return expectOne(res, "incid", incid)
}

// DeleteOrphanIncids removes the given incids when no polygon references them.
// Child rows go with them through ON DELETE CASCADE.
func (t *Tx) DeleteOrphanIncids(ctx context.Context, incids []string, pageSize int) (int64, error) {
	prefix := `DELETE FROM incid WHERE NOT EXISTS (
		SELECT 1 FROM incid_mm_polygons p WHERE p.incid = incid.incid
	) AND`
	var total int64
	for _, block := range sqlfilter.Incids(incids, pageSize, "") {
		where, args := t.where(block)
		res, err := t.ExecContext(ctx, prefix+" ("+where+")", args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete orphan incids: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// OrphanIncids returns those of the given incids that no polygon references
func (t *Tx) OrphanIncids(ctx context.Context, incids []string, pageSize int) ([]string, error) {
	incidTable := t.table("incid")
	query := `SELECT ` + incidTable + `.incid FROM ` + incidTable + `
		LEFT JOIN ` + t.table(PolygonTable) + ` p ON p.incid = ` + incidTable + `.incid
		WHERE %s
		GROUP BY ` + incidTable + `.incid
		HAVING COUNT(p.incid) = 0
		ORDER BY ` + incidTable + `.incid`

	var out []string
	for _, block := range sqlfilter.Incids(incids, pageSize, "incid") {
		where, args := t.where(block)
		rows, err := t.QueryContext(ctx, fmt.Sprintf(query, where), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to find orphan incids: %w", err)
		}
		for rows.Next() {
			var incid string
			if err := rows.Scan(&incid); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, incid)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NextIncid returns the incid following the highest one stored for a site
func (t *Tx) NextIncid(ctx context.Context, site int) (string, error) {
	var last sql.NullString
	err := t.QueryRowContext(ctx, "SELECT MAX(incid) FROM incid WHERE incid LIKE ?",
		fmt.Sprintf("%04d:%%", site)).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("failed to read last incid: %w", err)
	}
	if !last.Valid {
		return id.FormatIncid(site, 1), nil
	}
	parsed, err := id.ParseIncid(last.String)
	if err != nil {
		return "", err
	}
	return id.FormatIncid(site, parsed.Seq+1), nil
}

func expectOne(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, key, domain.ErrNotFound)
	}
	return nil
}
