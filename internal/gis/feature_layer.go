package gis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"

	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/id"
	"github.com/lherron/hlutool/internal/sqlfilter"
)

const featureTable = "gis_features"

const layerSchema = `
CREATE TABLE IF NOT EXISTS gis_layer (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS gis_features (
    toid       TEXT NOT NULL,
    toidfragid TEXT NOT NULL,
    incid      TEXT NOT NULL,
    habprimary TEXT,
    habsecond  TEXT,
    determqty  TEXT,
    interpqty  TEXT,
    geometry   BLOB,
    PRIMARY KEY (toid, toidfragid)
);

CREATE INDEX IF NOT EXISTS idx_gis_features_incid ON gis_features (incid);
`

const featureSelect = `SELECT incid, toid, toidfragid, habprimary, habsecond, determqty, interpqty, geometry FROM gis_features`

// FeatureLayer is a GIS layer stored in its own SQLite file. All reads and
// writes run on the layer's dispatcher goroutine.
type FeatureLayer struct {
	db     *db.DB
	geom   domain.GeometryType
	d      *Dispatcher
	logger *slog.Logger
}

// LayerOption configures a FeatureLayer
type LayerOption func(*FeatureLayer)

// WithLayerLogger sets the layer's logger
func WithLayerLogger(l *slog.Logger) LayerOption {
	return func(f *FeatureLayer) { f.logger = l }
}

// OpenFeatureLayer opens or creates a layer file. A new layer records geom as
// its geometry type; an existing layer must match it.
func OpenFeatureLayer(path string, geom domain.GeometryType, opts ...LayerOption) (*FeatureLayer, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gis layer: %w", err)
	}
	if _, err := database.Exec(layerSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create gis layer schema: %w", err)
	}

	var stored string
	err = database.QueryRow(`SELECT value FROM gis_layer WHERE key = 'geometry_type'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := database.Exec(`INSERT INTO gis_layer (key, value) VALUES ('geometry_type', ?)`, string(geom)); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to record geometry type: %w", err)
		}
	case err != nil:
		database.Close()
		return nil, fmt.Errorf("failed to read geometry type: %w", err)
	case stored != string(geom):
		database.Close()
		return nil, fmt.Errorf("gis layer %s holds %s features, not %s", path, stored, geom)
	}

	l := &FeatureLayer{db: database, geom: geom, d: NewDispatcher(), logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close stops the dispatcher and closes the layer file
func (l *FeatureLayer) Close() error {
	l.d.Close()
	return l.db.Close()
}

// Path returns the layer file path
func (l *FeatureLayer) Path() string {
	return l.db.Path()
}

func (l *FeatureLayer) GeometryType() domain.GeometryType {
	return l.geom
}

func (l *FeatureLayer) NewEditOperation(name string) *EditOperation {
	return newEditOperation(name, l, l.d)
}

// feature is one stored GIS feature
type feature struct {
	incid  string
	key    domain.FeatureKey
	shared domain.SharedAttributes
	geom   orb.Geometry
}

func (f feature) value(col string) any {
	switch strings.ToLower(col) {
	case ColIncid:
		return f.incid
	case ColToid:
		return f.key.Toid
	case ColToidFragID:
		return f.key.ToidFragID
	case ColHabPrimary:
		return nullable(f.shared.HabPrimary)
	case ColHabSecond:
		return nullable(f.shared.HabSecond)
	case ColDetermQty:
		return nullable(f.shared.DetermQty)
	case ColInterpQty:
		return nullable(f.shared.InterpQty)
	case ColShapeLength:
		length, _ := measure(f.geom)
		return length
	case ColShapeArea:
		_, area := measure(f.geom)
		return area
	}
	return nil
}

func (f feature) snapshot(columns []string) domain.FeatureSnapshot {
	row := domain.FeatureSnapshot{Columns: append([]string{}, columns...), Values: make(map[string]any, len(columns))}
	for _, c := range columns {
		row.Values[c] = f.value(c)
	}
	return row
}

// polygon returns the feature as a shadow-copy row measured for geom
func (f feature) polygon(geom domain.GeometryType) domain.IncidPolygon {
	p := domain.IncidPolygon{Incid: f.incid, Toid: f.key.Toid, ToidFragID: f.key.ToidFragID}.WithShared(f.shared)
	length, area := measure(f.geom)
	if geom == domain.GeometryLine || geom == domain.GeometryPolygon {
		p.ShapeLength = sql.NullFloat64{Float64: length, Valid: true}
	}
	if geom == domain.GeometryPolygon {
		p.ShapeArea = sql.NullFloat64{Float64: area, Valid: true}
	}
	return p
}

func measure(g orb.Geometry) (length, area float64) {
	if g == nil {
		return 0, 0
	}
	return planar.Length(g), math.Abs(planar.Area(g))
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// load returns features matching any block, deduplicated and ordered by key
func load(ctx context.Context, q queryer, where [][]sqlfilter.Condition) ([]feature, error) {
	queries := []string{featureSelect}
	argsets := [][]any{nil}
	if where != nil {
		queries, argsets = nil, nil
		for _, block := range sqlfilter.Retarget(where, "") {
			clause, args := sqlfilter.Render(db.SQLiteDialect{}, block)
			queries = append(queries, featureSelect+" WHERE "+clause)
			argsets = append(argsets, args)
		}
	}

	seen := make(map[domain.FeatureKey]bool)
	var out []feature
	for i, query := range queries {
		rows, err := q.QueryContext(ctx, query, argsets[i]...)
		if err != nil {
			return nil, fmt.Errorf("failed to query gis features: %w", err)
		}
		for rows.Next() {
			var f feature
			var blob []byte
			if err := rows.Scan(&f.incid, &f.key.Toid, &f.key.ToidFragID, &f.shared.HabPrimary, &f.shared.HabSecond,
				&f.shared.DetermQty, &f.shared.InterpQty, &blob); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan gis feature: %w", err)
			}
			if len(blob) > 0 {
				g, err := wkb.Unmarshal(blob)
				if err != nil {
					rows.Close()
					return nil, fmt.Errorf("failed to decode geometry of %s/%s: %w", f.key.Toid, f.key.ToidFragID, err)
				}
				f.geom = g
			}
			if !seen[f.key] {
				seen[f.key] = true
				out = append(out, f)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].key.Toid != out[j].key.Toid {
			return out[i].key.Toid < out[j].key.Toid
		}
		return domain.CompareFragIDs(out[i].key.ToidFragID, out[j].key.ToidFragID) < 0
	})
	return out, nil
}

func insert(ctx context.Context, x execer, f feature) error {
	var blob []byte
	if f.geom != nil {
		var err error
		if blob, err = wkb.Marshal(f.geom); err != nil {
			return fmt.Errorf("failed to encode geometry of %s/%s: %w", f.key.Toid, f.key.ToidFragID, err)
		}
	}
	_, err := x.ExecContext(ctx, `
		INSERT INTO gis_features (incid, toid, toidfragid, habprimary, habsecond, determqty, interpqty, geometry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.incid, f.key.Toid, f.key.ToidFragID, f.shared.HabPrimary, f.shared.HabSecond, f.shared.DetermQty, f.shared.InterpQty, blob)
	if err != nil {
		return fmt.Errorf("failed to insert gis feature %s/%s: %w", f.key.Toid, f.key.ToidFragID, err)
	}
	return nil
}

func setGeometry(ctx context.Context, x execer, key domain.FeatureKey, g orb.Geometry) error {
	blob, err := wkb.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode geometry of %s/%s: %w", key.Toid, key.ToidFragID, err)
	}
	_, err = x.ExecContext(ctx, `UPDATE gis_features SET geometry = ? WHERE toid = ? AND toidfragid = ?`,
		blob, key.Toid, key.ToidFragID)
	return err
}

// updateWhere sets columns on every feature matching where and returns the count
func updateWhere(ctx context.Context, x execer, columns []string, values []any, where [][]sqlfilter.Condition) (int64, error) {
	if len(columns) != len(values) {
		return 0, fmt.Errorf("update has %d columns but %d values", len(columns), len(values))
	}
	sets := make([]string, len(columns))
	for i, c := range columns {
		if !isWritable(c) {
			return 0, fmt.Errorf("gis column %q is not writable", c)
		}
		sets[i] = db.SQLiteDialect{}.QuoteIdentifier(strings.ToLower(c)) + " = ?"
	}

	var total int64
	for _, block := range sqlfilter.Retarget(where, "") {
		clause, args := sqlfilter.Render(db.SQLiteDialect{}, block)
		res, err := x.ExecContext(ctx, "UPDATE gis_features SET "+strings.Join(sets, ", ")+" WHERE "+clause,
			append(append([]any{}, values...), args...)...)
		if err != nil {
			return total, fmt.Errorf("failed to update gis features: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func isWritable(col string) bool {
	switch strings.ToLower(col) {
	case ColIncid, ColHabPrimary, ColHabSecond, ColDetermQty, ColInterpQty:
		return true
	}
	return false
}

// withTx runs fn in a layer transaction on the dispatcher goroutine
func (l *FeatureLayer) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return l.d.Do(ctx, func(ctx context.Context) error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin gis transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (l *FeatureLayer) GetHistory(ctx context.Context, columns []string, where [][]sqlfilter.Condition) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := l.d.Do(ctx, func(ctx context.Context) error {
		features, err := load(ctx, l.db, where)
		if err != nil {
			return err
		}
		for _, f := range features {
			snap = append(snap, f.snapshot(columns))
		}
		return nil
	})
	return snap, err
}

// Features returns the features matching where as shadow-copy rows
func (l *FeatureLayer) Features(ctx context.Context, where [][]sqlfilter.Condition) ([]domain.IncidPolygon, error) {
	var out []domain.IncidPolygon
	err := l.d.Do(ctx, func(ctx context.Context) error {
		features, err := load(ctx, l.db, where)
		if err != nil {
			return err
		}
		for _, f := range features {
			out = append(out, f.polygon(l.geom))
		}
		return nil
	})
	return out, err
}

func (l *FeatureLayer) UpdateFeatures(ctx context.Context, op *EditOperation, columns []string, values []any, where [][]sqlfilter.Condition) error {
	if len(columns) != len(values) {
		return fmt.Errorf("update has %d columns but %d values", len(columns), len(values))
	}
	for _, c := range columns {
		if !isWritable(c) {
			return fmt.Errorf("gis column %q is not writable", c)
		}
	}
	return op.queue(AttributeEdit{Columns: columns, Values: values, Where: where})
}

func (l *FeatureLayer) applyEdits(ctx context.Context, edits []AttributeEdit) error {
	// Already on the dispatcher goroutine; must not call l.d.Do again
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin gis transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range edits {
		n, err := updateWhere(ctx, tx, e.Columns, e.Values, e.Where)
		if err != nil {
			return err
		}
		l.logger.Debug("gis edit applied", "columns", e.Columns, "features", n)
	}
	return tx.Commit()
}

func (l *FeatureLayer) MergeFeaturesLogically(ctx context.Context, survivorIncid string, keys []domain.FeatureKey, historyColumns []string) (domain.Snapshot, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var snap domain.Snapshot
	where := sqlfilter.FeatureKeys(keys, len(keys), featureTable)
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		features, err := load(ctx, tx, where)
		if err != nil || len(features) == 0 {
			return err
		}

		var survivor *feature
		for i := range features {
			if features[i].incid == survivorIncid {
				survivor = &features[i]
				break
			}
		}
		if survivor == nil {
			return fmt.Errorf("survivor incid %s is not among the selected features", survivorIncid)
		}

		for _, f := range features {
			snap = append(snap, f.snapshot(historyColumns))
		}

		values := append([]any{survivorIncid}, survivor.shared.Values()...)
		_, err = updateWhere(ctx, tx, append([]string{ColIncid}, SharedColumns...), values, where)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (l *FeatureLayer) MergeFeatures(ctx context.Context, survivorFragID string, where [][]sqlfilter.Condition, historyColumns []string) (domain.Snapshot, error) {
	if len(where) == 0 {
		return nil, nil
	}
	var snap domain.Snapshot
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		features, err := load(ctx, tx, where)
		if err != nil || len(features) == 0 {
			return err
		}

		var survivor *feature
		geoms := make([]orb.Geometry, 0, len(features))
		for i, f := range features {
			if f.key.Toid != features[0].key.Toid || f.incid != features[0].incid {
				return fmt.Errorf("cannot merge fragments of different toids or incids")
			}
			if f.key.ToidFragID == survivorFragID {
				survivor = &features[i]
			}
			if f.geom != nil {
				geoms = append(geoms, f.geom)
			}
			snap = append(snap, f.snapshot(historyColumns))
		}
		if survivor == nil {
			return fmt.Errorf("survivor fragment %s is not among the selected features", survivorFragID)
		}

		merged := Combine(geoms)
		result := *survivor
		result.geom = merged
		snap = append(snap, result.snapshot(historyColumns))

		for _, f := range features {
			if f.key == survivor.key {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM gis_features WHERE toid = ? AND toidfragid = ?`,
				f.key.Toid, f.key.ToidFragID); err != nil {
				return fmt.Errorf("failed to delete gis feature: %w", err)
			}
		}
		if merged != nil {
			return setGeometry(ctx, tx, survivor.key, merged)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (l *FeatureLayer) SplitFeaturesLogically(ctx context.Context, newIncid string, keys []domain.FeatureKey, historyColumns []string) (domain.Snapshot, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var snap domain.Snapshot
	where := sqlfilter.FeatureKeys(keys, len(keys), featureTable)
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		features, err := load(ctx, tx, where)
		if err != nil || len(features) == 0 {
			return err
		}
		for _, f := range features {
			snap = append(snap, f.snapshot(historyColumns))
		}
		_, err = updateWhere(ctx, tx, []string{ColIncid}, []any{newIncid}, where)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (l *FeatureLayer) SplitFeaturesPhysically(ctx context.Context, key domain.FeatureKey, historyColumns []string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		features, err := load(ctx, tx, sqlfilter.FeatureKeys([]domain.FeatureKey{key}, 1, featureTable))
		if err != nil || len(features) == 0 {
			return err
		}
		orig := features[0]
		parts := Explode(orig.geom)
		if len(parts) < 2 {
			return fmt.Errorf("feature %s/%s has a single part and cannot be split", key.Toid, key.ToidFragID)
		}

		siblings, err := load(ctx, tx, [][]sqlfilter.Condition{{sqlfilter.New("", ColToid, key.Toid)}})
		if err != nil {
			return err
		}
		next := 0
		for _, s := range siblings {
			if n, err := id.ParseFragID(s.key.ToidFragID); err == nil && n > next {
				next = n
			}
		}

		if err := setGeometry(ctx, tx, orig.key, parts[0]); err != nil {
			return err
		}
		first := orig
		first.geom = parts[0]
		snap = append(snap, first.snapshot(historyColumns))

		for _, part := range parts[1:] {
			next++
			f := orig
			f.key.ToidFragID = id.FormatFragID(next)
			f.geom = part
			if err := insert(ctx, tx, f); err != nil {
				return err
			}
			snap = append(snap, f.snapshot(historyColumns))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (l *FeatureLayer) Flash(ctx context.Context, keys []domain.FeatureKey) error {
	l.logger.Info("flash features", "count", len(keys), "keys", keys)
	return nil
}

// AddFeature inserts a new feature
func (l *FeatureLayer) AddFeature(ctx context.Context, p domain.IncidPolygon, g orb.Geometry) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		return insert(ctx, tx, feature{incid: p.Incid, key: p.Key(), shared: p.Shared(), geom: g})
	})
}

type checkpoint struct {
	toids    []string
	features []feature
}

func (c *checkpoint) Toids() []string { return c.toids }

func toidWhere(toids []string) [][]sqlfilter.Condition {
	values := make([]any, len(toids))
	for i, t := range toids {
		values[i] = t
	}
	return sqlfilter.BuildPagedInClause(values, 100, ColToid, featureTable)
}

func (l *FeatureLayer) Checkpoint(ctx context.Context, toids []string) (Checkpoint, error) {
	cp := &checkpoint{toids: dedupe(toids)}
	err := l.d.Do(ctx, func(ctx context.Context) error {
		features, err := load(ctx, l.db, toidWhere(cp.toids))
		cp.features = features
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (l *FeatureLayer) Restore(ctx context.Context, c Checkpoint) error {
	cp, ok := c.(*checkpoint)
	if !ok {
		return fmt.Errorf("checkpoint was not taken from this layer")
	}
	return l.withTx(ctx, func(tx *sql.Tx) error {
		for _, block := range sqlfilter.Retarget(toidWhere(cp.toids), "") {
			clause, args := sqlfilter.Render(db.SQLiteDialect{}, block)
			if _, err := tx.ExecContext(ctx, "DELETE FROM gis_features WHERE "+clause, args...); err != nil {
				return fmt.Errorf("failed to clear gis features: %w", err)
			}
		}
		for _, f := range cp.features {
			if err := insert(ctx, tx, f); err != nil {
				return err
			}
		}
		l.logger.Warn("gis layer restored from checkpoint", "toids", len(cp.toids), "features", len(cp.features))
		return nil
	})
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func nullable(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}
