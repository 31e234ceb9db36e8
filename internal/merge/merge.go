// Package merge combines selected GIS features into one incid (logical merge)
// or one feature (physical merge), keeping the shadow copy, the incid table
// and the history trail in step with the GIS layer.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/gis"
	"github.com/lherron/hlutool/internal/history"
	"github.com/lherron/hlutool/internal/id"
	"github.com/lherron/hlutool/internal/metrics"
	"github.com/lherron/hlutool/internal/saga"
	"github.com/lherron/hlutool/internal/shadow"
	"github.com/lherron/hlutool/internal/store"
)

// Candidate is one choice offered when picking a survivor
type Candidate struct {
	Incid   string
	Key     domain.FeatureKey
	Polygon domain.IncidPolygon
}

// Chooser asks the user to decide between alternatives
type Chooser interface {
	// ChooseSurvivor returns one of candidates, or domain.ErrCancelled
	ChooseSurvivor(ctx context.Context, candidates []Candidate) (Candidate, error)
	// Confirm asks a yes/no question
	Confirm(ctx context.Context, question string) (bool, error)
}

// Selection is the set of features the user selected in the GIS layer
type Selection struct {
	Keys []domain.FeatureKey
}

// LogicalResult describes a completed logical merge
type LogicalResult struct {
	SurvivorIncid string
	Features      int
	DeletedIncids []string
	HistoryIDs    []int64
	Physical      *PhysicalResult
}

// PhysicalResult describes a completed physical merge
type PhysicalResult struct {
	Incid          string
	Toid           string
	SurvivorFragID string
	Consumed       []domain.FeatureKey
	HistoryIDs     []int64
}

// Engine runs merges for one session
type Engine struct {
	session domain.Session
	store   *store.Store
	layer   gis.Layer
	chooser Chooser
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

// WithMetrics sets the recorder observing each merge
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithClock overrides the time source used for stamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. chooser may be nil, in which case survivors are
// picked deterministically and chained physical merges are skipped.
func New(session domain.Session, st *store.Store, layer gis.Layer, chooser Chooser, opts ...Option) *Engine {
	e := &Engine{
		session: session,
		store:   st,
		layer:   layer,
		chooser: chooser,
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

// LogicalMerge gives every selected feature the incid of a survivor chosen
// by the user, then deletes incids left without polygons. When the features
// are fragments of one toid the user is offered a physical merge afterwards.
func (e *Engine) LogicalMerge(ctx context.Context, sel Selection) (*LogicalResult, error) {
	var res *LogicalResult
	err := metrics.Track(ctx, e.metrics, "logical_merge", func() error {
		var err error
		res, err = e.logicalMerge(ctx, sel)
		return err
	})
	return res, err
}

func (e *Engine) logicalMerge(ctx context.Context, sel Selection) (*LogicalResult, error) {
	const op = "logical merge"
	keys := dedupeKeys(sel.Keys)
	if len(keys) < 2 {
		return nil, &domain.PreconditionError{Op: op, Reason: "select at least two features"}
	}

	polygons, err := e.selected(ctx, op, keys)
	if err != nil {
		return nil, err
	}
	candidates := incidCandidates(polygons)
	if len(candidates) < 2 {
		return nil, &domain.PreconditionError{Op: op, Reason: "selected features already belong to one incid"}
	}

	survivor, err := e.chooseSurvivor(ctx, candidates, func(a, b Candidate) bool {
		c, err := id.CompareIncids(a.Incid, b.Incid)
		if err != nil {
			return a.Incid < b.Incid
		}
		return c < 0
	})
	if err != nil {
		return nil, err
	}

	toids := toidsOf(keys)
	res := &LogicalResult{SurvivorIncid: survivor.Incid, Features: len(keys)}
	logger := e.logger.With("op", op, "survivor", survivor.Incid, "features", len(keys))

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}
	defer tx.Rollback()

	cp, err := e.layer.Checkpoint(ctx, toids)
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}

	var snap domain.Snapshot
	run := saga.New(op, saga.WithLogger(logger)).
		Step("gis reassign", func(ctx context.Context) error {
			snap, err = e.layer.MergeFeaturesLogically(ctx, survivor.Incid, keys, gis.HistoryColumns(e.session.GeometryType))
			if err != nil {
				return err
			}
			if len(snap) == 0 {
				return &domain.DesyncError{Incid: survivor.Incid, Detail: "GIS layer returned no features to merge"}
			}
			return nil
		}, func(ctx context.Context) error {
			return e.layer.Restore(ctx, cp)
		}).
		Step("database", func(ctx context.Context) error {
			ts := e.now()
			attrs := survivorAttributes(snap, survivor, polygons)
			if err := e.shadow.Reassign(ctx, tx, keys, survivor.Incid, attrs); err != nil {
				return err
			}

			ids, err := e.history.Write(ctx, tx, map[string]any{history.ColumnIncid: survivor.Incid}, snap, domain.OpLogicalMerge, ts)
			if err != nil {
				return err
			}
			res.HistoryIDs = ids

			var others []string
			for _, c := range candidates {
				if c.Incid != survivor.Incid {
					others = append(others, c.Incid)
				}
			}
			orphans, err := tx.OrphanIncids(ctx, others, e.session.PageSize)
			if err != nil {
				return err
			}
			if len(orphans) > 0 {
				n, err := tx.DeleteOrphanIncids(ctx, orphans, e.session.PageSize)
				if err != nil {
					return err
				}
				if int(n) != len(orphans) {
					return fmt.Errorf("deleted %d of %d orphan incids", n, len(orphans))
				}
			}
			res.DeletedIncids = orphans

			if err := tx.TouchIncid(ctx, survivor.Incid, e.session.UserID, ts); err != nil {
				return err
			}
			return tx.Commit()
		}, nil)

	if err := run.Run(ctx); err != nil {
		return nil, operationError(op, err)
	}
	logger.Info("logical merge complete", "deleted_incids", res.DeletedIncids, "history_rows", len(res.HistoryIDs))

	if len(toids) == 1 && e.chooser != nil {
		ok, err := e.chooser.Confirm(ctx, fmt.Sprintf("Also merge the %d fragments of toid %s physically?", len(keys), toids[0]))
		if err != nil && !errors.Is(err, domain.ErrCancelled) {
			return res, err
		}
		if ok {
			phys, err := e.PhysicalMerge(ctx, Selection{Keys: keys})
			if err != nil {
				return res, err
			}
			res.Physical = phys
		}
	}
	return res, nil
}

// PhysicalMerge collapses fragments of one toid and incid into a single
// feature kept under the lowest fragment id, unless the fragments disagree on
// shared attributes, in which case the user chooses which one survives.
func (e *Engine) PhysicalMerge(ctx context.Context, sel Selection) (*PhysicalResult, error) {
	var res *PhysicalResult
	err := metrics.Track(ctx, e.metrics, "physical_merge", func() error {
		var err error
		res, err = e.physicalMerge(ctx, sel)
		return err
	})
	return res, err
}

func (e *Engine) physicalMerge(ctx context.Context, sel Selection) (*PhysicalResult, error) {
	const op = "physical merge"
	keys := dedupeKeys(sel.Keys)
	if len(keys) < 2 {
		return nil, &domain.PreconditionError{Op: op, Reason: "select at least two fragments"}
	}

	polygons, err := e.selected(ctx, op, keys)
	if err != nil {
		return nil, err
	}
	first := polygons[0]
	uniform := true
	for _, p := range polygons[1:] {
		if p.Incid != first.Incid || p.Toid != first.Toid {
			return nil, &domain.PreconditionError{Op: op, Reason: "selected fragments must share one incid and one toid"}
		}
		if p.Shared() != first.Shared() {
			uniform = false
		}
	}

	candidates := make([]Candidate, len(polygons))
	for i, p := range polygons {
		candidates[i] = Candidate{Incid: p.Incid, Key: p.Key(), Polygon: p}
	}
	lowest := func(a, b Candidate) bool {
		return domain.CompareFragIDs(a.Key.ToidFragID, b.Key.ToidFragID) < 0
	}
	var survivor Candidate
	if uniform {
		survivor = LowestFragment(candidates)
	} else if survivor, err = e.chooseSurvivor(ctx, candidates, lowest); err != nil {
		return nil, err
	}

	res := &PhysicalResult{Incid: first.Incid, Toid: first.Toid, SurvivorFragID: survivor.Key.ToidFragID}
	for _, k := range keys {
		if k != survivor.Key {
			res.Consumed = append(res.Consumed, k)
		}
	}
	logger := e.logger.With("op", op, "toid", first.Toid, "survivor", survivor.Key.ToidFragID)

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}
	defer tx.Rollback()

	cp, err := e.layer.Checkpoint(ctx, []string{first.Toid})
	if err != nil {
		return nil, &domain.OperationError{Op: op, Err: err}
	}

	var snap domain.Snapshot
	run := saga.New(op, saga.WithLogger(logger)).
		Step("gis merge", func(ctx context.Context) error {
			where := e.shadow.KeyWhere(keys)
			snap, err = e.layer.MergeFeatures(ctx, survivor.Key.ToidFragID, where, gis.HistoryColumns(e.session.GeometryType))
			if err != nil {
				return err
			}
			if len(snap) < 2 {
				return &domain.DesyncError{Incid: first.Incid, Detail: "GIS merge returned no result row"}
			}
			return nil
		}, func(ctx context.Context) error {
			return e.layer.Restore(ctx, cp)
		}).
		Step("database", func(ctx context.Context) error {
			ts := e.now()
			result := snap[len(snap)-1]
			consumed := snap[:len(snap)-1]

			if err := e.shadow.DeleteFragments(ctx, tx, res.Consumed); err != nil {
				return err
			}
			if err := e.shadow.ApplyMeasurements(ctx, tx, survivor.Key, survivor.Key.ToidFragID, result, e.session.GeometryType); err != nil {
				return err
			}

			fixed := map[string]any{
				gis.ColIncid:         first.Incid,
				gis.ColToid:          first.Toid,
				history.ColumnFragID: survivor.Key.ToidFragID,
			}
			ids, err := e.history.Write(ctx, tx, fixed, consumed, domain.OpPhysicalMerge, ts)
			if err != nil {
				return err
			}
			res.HistoryIDs = ids

			if err := tx.TouchIncid(ctx, first.Incid, e.session.UserID, ts); err != nil {
				return err
			}
			return tx.Commit()
		}, nil)

	if err := run.Run(ctx); err != nil {
		return nil, operationError(op, err)
	}
	logger.Info("physical merge complete", "consumed", len(res.Consumed))
	return res, nil
}

// LowestFragment returns the candidate with the numerically lowest fragment id
func LowestFragment(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if domain.CompareFragIDs(c.Key.ToidFragID, best.Key.ToidFragID) < 0 {
			best = c
		}
	}
	return best
}

// selected loads the shadow rows of keys and checks that every key is present
func (e *Engine) selected(ctx context.Context, op string, keys []domain.FeatureKey) ([]domain.IncidPolygon, error) {
	var polygons []domain.IncidPolygon
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		polygons, err = tx.PolygonsWhere(ctx, e.shadow.KeyWhere(keys))
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
	return polygons, nil
}

// chooseSurvivor asks the chooser, or picks the least candidate under less
// when there is no chooser. The answer must be one of the candidates.
func (e *Engine) chooseSurvivor(ctx context.Context, candidates []Candidate, less func(a, b Candidate) bool) (Candidate, error) {
	sorted := append([]Candidate{}, candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if e.chooser == nil {
		return sorted[0], nil
	}

	picked, err := e.chooser.ChooseSurvivor(ctx, sorted)
	if err != nil {
		return Candidate{}, err
	}
	for _, c := range sorted {
		if c.Incid == picked.Incid && c.Key == picked.Key {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("survivor %s (%s/%s) was not offered", picked.Incid, picked.Key.Toid, picked.Key.ToidFragID)
}

// incidCandidates returns the first polygon of each distinct incid
func incidCandidates(polygons []domain.IncidPolygon) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	for _, p := range polygons {
		if seen[p.Incid] {
			continue
		}
		seen[p.Incid] = true
		out = append(out, Candidate{Incid: p.Incid, Key: p.Key(), Polygon: p})
	}
	return out
}

// survivorAttributes returns the shared attributes the GIS layer copied onto
// the merged features: those of the first snapshot row carrying the survivor
// incid, falling back to the candidate's shadow row.
func survivorAttributes(snap domain.Snapshot, survivor Candidate, polygons []domain.IncidPolygon) domain.SharedAttributes {
	for _, row := range snap {
		if row.String(gis.ColIncid) != survivor.Incid {
			continue
		}
		return domain.SharedAttributes{
			HabPrimary: domain.NullString(row.String(gis.ColHabPrimary)),
			HabSecond:  domain.NullString(row.String(gis.ColHabSecond)),
			DetermQty:  domain.NullString(row.String(gis.ColDetermQty)),
			InterpQty:  domain.NullString(row.String(gis.ColInterpQty)),
		}
	}
	for _, p := range polygons {
		if p.Key() == survivor.Key {
			return p.Shared()
		}
	}
	return survivor.Polygon.Shared()
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
	sort.Strings(out)
	return out
}

// operationError folds a saga failure into the single error reported to the caller
func operationError(op string, err error) error {
	var se *saga.Error
	if errors.As(err, &se) {
		return &domain.OperationError{Op: op, Err: se.Err, CompensationErr: se.Compensation}
	}
	return &domain.OperationError{Op: op, Err: err}
}
