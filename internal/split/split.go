// Package split moves selected features to a new incid (logical split) or
// explodes a multi-part feature into separate fragments (physical split).
package split

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/gis"
	"github.com/lherron/hlutool/internal/history"
	"github.com/lherron/hlutool/internal/id"
	"github.com/lherron/hlutool/internal/metrics"
	"github.com/lherron/hlutool/internal/saga"
	"github.com/lherron/hlutool/internal/shadow"
	"github.com/lherron/hlutool/internal/store"
)

// LogicalResult describes a completed logical split
type LogicalResult struct {
	SourceIncid string
	NewIncid    string
	Features    int
	HistoryIDs  []int64
}

// PhysicalResult describes a completed physical split
type PhysicalResult struct {
	Incid      string
	Toid       string
	Fragments  []string
	HistoryIDs []int64
}

// Engine runs splits for one session
type Engine struct {
	session domain.Session
	store   *store.Store
	layer   gis.Layer
	shadow  *shadow.Reconciler
	history *history.Writer
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine's logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the recorder observing each split
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithClock overrides the time source used for stamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine
func New(session domain.Session, st *store.Store, layer gis.Layer, opts ...Option) *Engine {
	e := &Engine{
		session: session,
		store:   st,
		layer:   layer,
		metrics: metrics.Nop{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.shadow = shadow.New(session.PageSize, shadow.WithLogger(e.logger))
	e.history = history.NewWriter(session, history.WithLogger(e.logger))
	return e
}

// LogicalSplit moves the selected features of one incid to a new incid on
// the same site. The new incid copies the attributes, secondary habitats and
// BAP habitats of the original.
func (e *Engine) LogicalSplit(ctx context.Context, keys []domain.FeatureKey) (*LogicalResult, error) {
	var res *LogicalResult
	err := metrics.Track(ctx, e.metrics, "logical_split", func() error {
		var err error
		res, err = e.logicalSplit(ctx, keys)
		return err
	})
	return res, err
}

func (e *Engine) logicalSplit(ctx context.Context, keys []domain.FeatureKey) (*LogicalResult, error) {
	const op = "logical split"
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return nil, &domain.PreconditionError{Op: op, Reason: "select at least one feature"}
	}

	var polygons []domain.IncidPolygon
	var total int
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		polygons, err = tx.PolygonsWhere(ctx, e.shadow.KeyWhere(keys))
		if err != nil || len(polygons) == 0 {
			return err
		}
		total, err = tx.CountPolygons(ctx, polygons[0].Incid)
		return err
	})
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}
	if len(polygons) != len(keys) {
		return nil, &domain.PreconditionError{
			Op:     op,
			Reason: fmt.Sprintf("%d of %d selected features are missing from the database", len(keys)-len(polygons), len(keys)),
		}
	}
	source := polygons[0].Incid
	for _, p := range polygons[1:] {
		if p.Incid != source {
			return nil, &domain.PreconditionError{Op: op, Reason: "selected features must belong to one incid"}
		}
	}
	if total <= len(keys) {
		return nil, &domain.PreconditionError{Op: op, Reason: fmt.Sprintf("incid %s would be left without features", source)}
	}
	parsed, err := id.ParseIncid(source)
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}
	defer tx.Rollback()

	ts := e.now()
	newIncid, inc, err := e.copyIncid(ctx, tx, source, parsed.Site, ts)
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}

	res := &LogicalResult{SourceIncid: source, NewIncid: newIncid, Features: len(keys)}
	logger := e.logger.With("op", op, "incid", source, "new_incid", newIncid)

	cp, err := e.layer.Checkpoint(ctx, toidsOf(keys))
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}

	var snap domain.Snapshot
	run := saga.New(op, saga.WithLogger(logger)).
		Step("gis reassign", func(ctx context.Context) error {
			snap, err = e.layer.SplitFeaturesLogically(ctx, newIncid, keys, gis.HistoryColumns(e.session.GeometryType))
			if err != nil {
				return err
			}
			if len(snap) != len(keys) {
				return &domain.DesyncError{Incid: source, Detail: fmt.Sprintf("GIS layer split %d of %d features", len(snap), len(keys))}
			}
			return nil
		}, func(ctx context.Context) error {
			return e.layer.Restore(ctx, cp)
		}).
		Step("database", func(ctx context.Context) error {
			if err := e.shadow.Reassign(ctx, tx, keys, newIncid, inc.Shared()); err != nil {
				return err
			}
			ids, err := e.history.Write(ctx, tx, map[string]any{history.ColumnIncid: newIncid}, snap, domain.OpLogicalSplit, ts)
			if err != nil {
				return err
			}
			res.HistoryIDs = ids
			if err := tx.TouchIncid(ctx, source, e.session.UserID, ts); err != nil {
				return err
			}
			return tx.Commit()
		}, nil)

	if err := run.Run(ctx); err != nil {
		return nil, operationError(op, err)
	}
	logger.Info("logical split complete", "features", len(keys), "history_rows", len(res.HistoryIDs))
	return res, nil
}

// copyIncid inserts a new incid on site carrying the attributes and the
// secondary and BAP habitats of source
func (e *Engine) copyIncid(ctx context.Context, tx *store.Tx, source string, site int, ts time.Time) (string, domain.Incid, error) {
	orig, err := tx.GetIncid(ctx, source)
	if err != nil {
		return "", domain.Incid{}, err
	}
	newIncid, err := tx.NextIncid(ctx, site)
	if err != nil {
		return "", domain.Incid{}, err
	}

	inc := *orig
	inc.Incid = newIncid
	inc.CreatedUser, inc.LastModifiedUser = e.session.UserID, e.session.UserID
	inc.CreatedDate, inc.LastModifiedDate = domain.Truncate(ts), domain.Truncate(ts)
	if err := tx.InsertIncid(ctx, inc); err != nil {
		return "", domain.Incid{}, err
	}

	if err := copyRows(ctx, tx, store.SecondaryTable, source, newIncid); err != nil {
		return "", domain.Incid{}, err
	}
	if err := copyRows(ctx, tx, store.BapTable, source, newIncid); err != nil {
		return "", domain.Incid{}, err
	}
	return newIncid, inc, nil
}

type assignable[T any] interface {
	Assign(id int64, incid string) T
}

func copyRows[T assignable[T]](ctx context.Context, tx *store.Tx, tbl *store.Table[T], from, to string) error {
	rows, err := store.List(ctx, tx, tbl, from)
	if err != nil || len(rows) == 0 {
		return err
	}
	var c *db.Counter
	if c, err = tx.Counter(ctx, tbl.Sequence()); err != nil {
		return err
	}
	for _, row := range rows {
		n := c.Next()
		if err := store.Insert(ctx, tx, tbl, n, row.Assign(n, to)); err != nil {
			return err
		}
	}
	return nil
}

// PhysicalSplit explodes a multi-part feature. The first part keeps the
// feature's key and every other part becomes a new fragment of the toid.
func (e *Engine) PhysicalSplit(ctx context.Context, key domain.FeatureKey) (*PhysicalResult, error) {
	var res *PhysicalResult
	err := metrics.Track(ctx, e.metrics, "physical_split", func() error {
		var err error
		res, err = e.physicalSplit(ctx, key)
		return err
	})
	return res, err
}

func (e *Engine) physicalSplit(ctx context.Context, key domain.FeatureKey) (*PhysicalResult, error) {
	const op = "physical split"

	var polygon domain.IncidPolygon
	err := e.store.View(ctx, func(tx *store.Tx) error {
		polygons, err := tx.PolygonsWhere(ctx, e.shadow.KeyWhere([]domain.FeatureKey{key}))
		if err != nil {
			return err
		}
		if len(polygons) != 1 {
			return &domain.PreconditionError{Op: op, Reason: fmt.Sprintf("feature %s/%s is missing from the database", key.Toid, key.ToidFragID)}
		}
		polygon = polygons[0]
		return nil
	})
	if err != nil {
		if domain.IsPrecondition(err) {
			return nil, err
		}
		return nil, &domain.OperationError{Op: op, Err: err}
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}
	defer tx.Rollback()

	cp, err := e.layer.Checkpoint(ctx, []string{key.Toid})
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}

	res := &PhysicalResult{Incid: polygon.Incid, Toid: key.Toid}
	logger := e.logger.With("op", op, "toid", key.Toid, "fragment", key.ToidFragID)

	var snap domain.Snapshot
	run := saga.New(op, saga.WithLogger(logger)).
		Step("gis explode", func(ctx context.Context) error {
			snap, err = e.layer.SplitFeaturesPhysically(ctx, key, gis.HistoryColumns(e.session.GeometryType))
			if err != nil {
				return err
			}
			if len(snap) < 2 {
				return &domain.DesyncError{Incid: polygon.Incid, Detail: "GIS split returned fewer than two fragments"}
			}
			return nil
		}, func(ctx context.Context) error {
			return e.layer.Restore(ctx, cp)
		}).
		Step("database", func(ctx context.Context) error {
			ts := e.now()
			if err := e.shadow.ApplyMeasurements(ctx, tx, key, key.ToidFragID, snap[0], e.session.GeometryType); err != nil {
				return err
			}
			res.Fragments = append(res.Fragments, key.ToidFragID)

			for _, row := range snap[1:] {
				p := polygon
				p.ToidFragID = row.String(gis.ColToidFragID)
				p.ShapeLength, p.ShapeArea = shadow.Measurements(row, e.session.GeometryType)
				if err := tx.InsertPolygon(ctx, p); err != nil {
					return err
				}
				res.Fragments = append(res.Fragments, p.ToidFragID)
			}

			ids, err := e.history.Write(ctx, tx, nil, snap, domain.OpPhysicalSplit, ts)
			if err != nil {
				return err
			}
			res.HistoryIDs = ids
			if err := tx.TouchIncid(ctx, polygon.Incid, e.session.UserID, ts); err != nil {
				return err
			}
			return tx.Commit()
		}, nil)

	if err := run.Run(ctx); err != nil {
		return nil, operationError(op, err)
	}
	logger.Info("physical split complete", "fragments", res.Fragments)
	return res, nil
}

func dedupeKeys(keys []domain.FeatureKey) []domain.FeatureKey {
	seen := make(map[domain.FeatureKey]bool, len(keys))
	var out []domain.FeatureKey
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func toidsOf(keys []domain.FeatureKey) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		if !seen[k.Toid] {
			seen[k.Toid] = true
			out = append(out, k.Toid)
		}
	}
	return out
}

func operationError(op string, err error) error {
	var se *saga.Error
	if errors.As(err, &se) {
		return &domain.OperationError{Op: op, Err: se.Err, CompensationErr: se.Compensation}
	}
	return &domain.OperationError{Op: op, Err: err}
}
