// Package shadow keeps the relational copy of GIS polygon attributes
// (incid_mm_polygons) consistent with the GIS layer and the owning incid.
package shadow

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/sqlfilter"
	"github.com/lherron/hlutool/internal/store"
)

// Tx is the transactional surface the reconciler needs
type Tx interface {
	UpdatePolygonsShared(ctx context.Context, blocks [][]sqlfilter.Condition, attrs domain.SharedAttributes) (int64, error)
	ReassignPolygons(ctx context.Context, blocks [][]sqlfilter.Condition, incid string, attrs domain.SharedAttributes) (int64, error)
	DeletePolygons(ctx context.Context, blocks [][]sqlfilter.Condition) (int64, error)
	UpdateFragment(ctx context.Context, key domain.FeatureKey, newFragID string, length, area sql.NullFloat64) error
	InsertPolygon(ctx context.Context, p domain.IncidPolygon) error
	PolygonsForIncid(ctx context.Context, incid string) ([]domain.IncidPolygon, error)
}

// Reconciler applies attribute and membership changes to the shadow copy
type Reconciler struct {
	pageSize int
	logger   *slog.Logger
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithLogger sets the reconciler's logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New creates a Reconciler batching keyed statements in blocks of pageSize rows.
func New(pageSize int, opts ...Option) *Reconciler {
	r := &Reconciler{pageSize: pageSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IncidWhere addresses every shadow row of an incid
func IncidWhere(incid string) [][]sqlfilter.Condition {
	return sqlfilter.Incids([]string{incid}, 1, store.PolygonTable)
}

// KeyWhere addresses shadow rows by feature key in blocks
func (r *Reconciler) KeyWhere(keys []domain.FeatureKey) [][]sqlfilter.Condition {
	return sqlfilter.FeatureKeys(keys, r.pageSize, store.PolygonTable)
}

// SyncSharedAttributes pushes new shared attribute values onto every matching
// shadow row. It reports false when no row was affected.
func (r *Reconciler) SyncSharedAttributes(ctx context.Context, tx Tx, where [][]sqlfilter.Condition, values domain.SharedAttributes) (bool, error) {
	n, err := tx.UpdatePolygonsShared(ctx, where, values)
	if err != nil {
		return false, err
	}
	r.logger.Debug("shadow attributes synced", "rows", n)
	return n > 0, nil
}

// Reassign moves the keyed rows to incid, copying its shared attributes.
// The affected count must equal len(keys), otherwise the shadow copy is out
// of step with the selection.
func (r *Reconciler) Reassign(ctx context.Context, tx Tx, keys []domain.FeatureKey, incid string, attrs domain.SharedAttributes) error {
	n, err := tx.ReassignPolygons(ctx, r.KeyWhere(keys), incid, attrs)
	if err != nil {
		return err
	}
	if int(n) != len(keys) {
		return &domain.DesyncError{Incid: incid, Detail: fmt.Sprintf("reassigned %d shadow rows for %d features", n, len(keys))}
	}
	return nil
}

// DeleteFragments removes the keyed rows
func (r *Reconciler) DeleteFragments(ctx context.Context, tx Tx, keys []domain.FeatureKey) error {
	if len(keys) == 0 {
		return nil
	}
	n, err := tx.DeletePolygons(ctx, r.KeyWhere(keys))
	if err != nil {
		return err
	}
	if int(n) != len(keys) {
		return &domain.DesyncError{Detail: fmt.Sprintf("deleted %d shadow rows for %d fragments", n, len(keys))}
	}
	return nil
}

// ApplyMeasurements rekeys a surviving fragment and writes the aggregate
// measurements carried by a GIS result row.
func (r *Reconciler) ApplyMeasurements(ctx context.Context, tx Tx, key domain.FeatureKey, newFragID string, result domain.FeatureSnapshot, geom domain.GeometryType) error {
	length, area := Measurements(result, geom)
	return tx.UpdateFragment(ctx, key, newFragID, length, area)
}

// Measurements extracts length and area from a snapshot row. Points carry
// neither and lines carry length only.
func Measurements(row domain.FeatureSnapshot, geom domain.GeometryType) (length, area sql.NullFloat64) {
	if geom == domain.GeometryLine || geom == domain.GeometryPolygon {
		length = toNullFloat(row.Get("shape_length"))
	}
	if geom == domain.GeometryPolygon {
		area = toNullFloat(row.Get("shape_area"))
	}
	return length, area
}

// Verify compares the shadow rows of an incid against the GIS features that
// carry it and reports any difference as a DesyncError.
func (r *Reconciler) Verify(ctx context.Context, tx Tx, incid string, features []domain.FeatureKey) error {
	rows, err := tx.PolygonsForIncid(ctx, incid)
	if err != nil {
		return err
	}

	want := make(map[domain.FeatureKey]int, len(features))
	for _, k := range features {
		want[k]++
	}
	var missing, extra []string
	for _, p := range rows {
		if want[p.Key()] == 0 {
			extra = append(extra, p.Toid+"/"+p.ToidFragID)
			continue
		}
		want[p.Key()]--
	}
	for k, n := range want {
		if n > 0 {
			missing = append(missing, k.Toid+"/"+k.ToidFragID)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &domain.DesyncError{
		Incid:  incid,
		Detail: fmt.Sprintf("%d GIS features missing from database %v, %d database rows missing from GIS %v", len(missing), missing, len(extra), extra),
	}
}

func toNullFloat(v any) sql.NullFloat64 {
	switch x := v.(type) {
	case float64:
		return sql.NullFloat64{Float64: x, Valid: true}
	case float32:
		return sql.NullFloat64{Float64: float64(x), Valid: true}
	case int64:
		return sql.NullFloat64{Float64: float64(x), Valid: true}
	case int:
		return sql.NullFloat64{Float64: float64(x), Valid: true}
	case sql.NullFloat64:
		return x
	}
	return sql.NullFloat64{}
}
