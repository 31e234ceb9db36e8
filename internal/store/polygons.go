package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/sqlfilter"
)

// PolygonTable is the relational shadow copy of the GIS layer
const PolygonTable = "incid_mm_polygons"

const polygonColumns = `incid, toid, toidfragid, habprimary, habsecond, determqty, interpqty,
	shape_length, shape_area`

func scanPolygon(s scanner) (domain.IncidPolygon, error) {
	var p domain.IncidPolygon
	err := s.Scan(&p.Incid, &p.Toid, &p.ToidFragID, &p.HabPrimary, &p.HabSecond,
		&p.DetermQty, &p.InterpQty, &p.ShapeLength, &p.ShapeArea)
	return p, err
}

// PolygonsWhere returns the polygons matching any of the blocks, in key order
func (t *Tx) PolygonsWhere(ctx context.Context, blocks [][]sqlfilter.Condition) ([]domain.IncidPolygon, error) {
	seen := make(map[domain.FeatureKey]bool)
	var out []domain.IncidPolygon
	for _, block := range blocks {
		where, args := t.where(block)
		rows, err := t.QueryContext(ctx,
			"SELECT "+polygonColumns+" FROM "+t.table(PolygonTable)+" WHERE "+where+" ORDER BY toid, toidfragid",
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query polygons: %w", err)
		}
		for rows.Next() {
			p, err := scanPolygon(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan polygon: %w", err)
			}
			if !seen[p.Key()] {
				seen[p.Key()] = true
				out = append(out, p)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PolygonsForIncid returns every polygon belonging to an incid
func (t *Tx) PolygonsForIncid(ctx context.Context, incid string) ([]domain.IncidPolygon, error) {
	return t.PolygonsWhere(ctx, [][]sqlfilter.Condition{{sqlfilter.New("", "incid", incid)}})
}

// CountPolygons returns how many polygons reference an incid
func (t *Tx) CountPolygons(ctx context.Context, incid string) (int, error) {
	var n int
	err := t.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table(PolygonTable)+" WHERE incid = ?", incid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count polygons for %s: %w", incid, err)
	}
	return n, nil
}

// CountFragments returns how many fragments share a toid
func (t *Tx) CountFragments(ctx context.Context, toid string) (int, error) {
	var n int
	err := t.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table(PolygonTable)+" WHERE toid = ?", toid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count fragments for %s: %w", toid, err)
	}
	return n, nil
}

// MaxFragID returns the highest numeric fragment id used for a toid
func (t *Tx) MaxFragID(ctx context.Context, toid string) (string, error) {
	var frag string
	err := t.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(toidfragid), '') FROM "+t.table(PolygonTable)+" WHERE toid = ?", toid).Scan(&frag)
	if err != nil {
		return "", fmt.Errorf("failed to read max fragment for %s: %w", toid, err)
	}
	return frag, nil
}

// InsertPolygon adds a polygon to the shadow copy
func (t *Tx) InsertPolygon(ctx context.Context, p domain.IncidPolygon) error {
	_, err := t.ExecContext(ctx,
		"INSERT INTO "+t.table(PolygonTable)+" ("+polygonColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.Incid, p.Toid, p.ToidFragID, p.HabPrimary, p.HabSecond, p.DetermQty, p.InterpQty,
		p.ShapeLength, p.ShapeArea)
	if err != nil {
		return fmt.Errorf("failed to insert polygon %s/%s: %w", p.Toid, p.ToidFragID, err)
	}
	return nil
}

// UpdatePolygonsShared sets the shared attributes on every matching polygon
func (t *Tx) UpdatePolygonsShared(ctx context.Context, blocks [][]sqlfilter.Condition, attrs domain.SharedAttributes) (int64, error) {
	sets := make([]string, 0, 4)
	for _, c := range attrs.Columns() {
		sets = append(sets, t.col(c)+" = ?")
	}
	prefix := "UPDATE " + t.table(PolygonTable) + " SET " + strings.Join(sets, ", ")
	n, err := t.execBlocks(ctx, prefix, attrs.Values(), blocks)
	if err != nil {
		return n, fmt.Errorf("failed to update polygon attributes: %w", err)
	}
	return n, nil
}

// ReassignPolygons moves matching polygons to another incid and shared attribute set
func (t *Tx) ReassignPolygons(ctx context.Context, blocks [][]sqlfilter.Condition, incid string, attrs domain.SharedAttributes) (int64, error) {
	sets := []string{"incid = ?"}
	for _, c := range attrs.Columns() {
		sets = append(sets, t.col(c)+" = ?")
	}
	prefix := "UPDATE " + t.table(PolygonTable) + " SET " + strings.Join(sets, ", ")
	n, err := t.execBlocks(ctx, prefix, append([]any{incid}, attrs.Values()...), blocks)
	if err != nil {
		return n, fmt.Errorf("failed to reassign polygons to %s: %w", incid, err)
	}
	return n, nil
}

// DeletePolygons removes matching polygons from the shadow copy
func (t *Tx) DeletePolygons(ctx context.Context, blocks [][]sqlfilter.Condition) (int64, error) {
	n, err := t.execBlocks(ctx, "DELETE FROM "+t.table(PolygonTable), nil, blocks)
	if err != nil {
		return n, fmt.Errorf("failed to delete polygons: %w", err)
	}
	return n, nil
}

// UpdateFragment rekeys a polygon to a new fragment id and writes its measurements
func (t *Tx) UpdateFragment(ctx context.Context, key domain.FeatureKey, newFragID string, length, area sql.NullFloat64) error {
	res, err := t.ExecContext(ctx,
		"UPDATE "+t.table(PolygonTable)+" SET toidfragid = ?, shape_length = ?, shape_area = ? WHERE toid = ? AND toidfragid = ?",
		newFragID, length, area, key.Toid, key.ToidFragID)
	if err != nil {
		return fmt.Errorf("failed to update fragment %s/%s: %w", key.Toid, key.ToidFragID, err)
	}
	return expectOne(res, "polygon", key.Toid+"/"+key.ToidFragID)
}
