// Package update saves an edited incid record across the database and the GIS
// layer as one unit: the incid row, its child tables, the shadow copy, the
// GIS features and the history trail.
package update

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lherron/hlutool/internal/config"
	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/gis"
	"github.com/lherron/hlutool/internal/history"
	"github.com/lherron/hlutool/internal/metrics"
	"github.com/lherron/hlutool/internal/saga"
	"github.com/lherron/hlutool/internal/shadow"
	"github.com/lherron/hlutool/internal/sqlfilter"
	"github.com/lherron/hlutool/internal/store"
)

// Policy holds the configurable rules applied on every save
type Policy struct {
	IHSClear           config.IHSClearPolicy
	IgnoreOSMM         bool
	SecondaryDelimiter string
}

// DefaultPolicy clears IHS codes on a primary change and ignores open OSMM
// proposals when a record is edited by hand.
func DefaultPolicy() Policy {
	return Policy{IHSClear: config.ClearOnPrimaryChange, IgnoreOSMM: true, SecondaryDelimiter: "."}
}

// PolicyFromConfig reads the save policy from configuration
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		IHSClear:           cfg.IHSClearPolicy,
		IgnoreOSMM:         cfg.OSMMIgnoreOnManualUpdate,
		SecondaryDelimiter: cfg.SecondaryDelimiter,
	}
}

// SaveResult describes a save attempt
type SaveResult struct {
	Saved       bool
	Features    int
	HistoryIDs  []int64
	IHSCleared  bool
	OSMMIgnored int64
	Secondary   Counts
	Bap         Counts
}

// Counts summarises a change set
type Counts struct {
	Deleted, Updated, Inserted int
}

func countsOf[T any](cs ChangeSet[T]) Counts {
	return Counts{Deleted: len(cs.Deletes), Updated: len(cs.Updates), Inserted: len(cs.Inserts)}
}

// Orchestrator saves records for one session
type Orchestrator struct {
	session domain.Session
	policy  Policy
	store   *store.Store
	layer   gis.Layer
	shadow  *shadow.Reconciler
	history *history.Writer
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the recorder observing each save
func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithClock overrides the time source used for stamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator
func New(session domain.Session, policy Policy, st *store.Store, layer gis.Layer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session: session,
		policy:  policy,
		store:   st,
		layer:   layer,
		metrics: metrics.Nop{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy.SecondaryDelimiter == "" {
		o.policy.SecondaryDelimiter = "."
	}
	o.shadow = shadow.New(session.PageSize, shadow.WithLogger(o.logger))
	o.history = history.NewWriter(session, history.WithLogger(o.logger))
	return o
}

// Save writes rec to the database and its shared attributes to the GIS
// layer. On success rec holds the saved state; on failure rec is unchanged,
// nothing is committed and the GIS edit is aborted.
func (o *Orchestrator) Save(ctx context.Context, rec *Record) (*SaveResult, error) {
	var res *SaveResult
	err := metrics.Track(ctx, o.metrics, "save", func() error {
		var err error
		res, err = o.save(ctx, rec)
		return err
	})
	return res, err
}

func (o *Orchestrator) save(ctx context.Context, rec *Record) (*SaveResult, error) {
	const op = "save"
	incid := rec.ID()
	logger := o.logger.With("op", op, "incid", incid)
	res := &SaveResult{}

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return res, &domain.OperationError{Op: op, Err: err}
	}
	defer tx.Rollback()

	edit := o.layer.NewEditOperation("Update incid " + incid)
	executed := false

	next, err := o.write(ctx, tx, edit, rec, res)
	if err == nil {
		var cp gis.Checkpoint
		cp, err = o.layer.Checkpoint(ctx, toidsOf(next.snapshot))
		if err == nil {
			err = saga.New(op, saga.WithLogger(logger)).
				Step("gis execute", func(ctx context.Context) error {
					ok, err := edit.Execute(ctx)
					executed = err == nil && ok
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("GIS edit operation for incid %s did not execute", incid)
					}
					return nil
				}, func(ctx context.Context) error {
					if !executed {
						return nil
					}
					return o.layer.Restore(ctx, cp)
				}).
				Step("commit", func(ctx context.Context) error {
					return tx.Commit()
				}, nil).
				Run(ctx)
		}
	}

	if err != nil {
		tx.Rollback()
		opErr := &domain.OperationError{Op: op, Err: err}
		var se *saga.Error
		if errors.As(err, &se) {
			opErr.Err, opErr.CompensationErr = se.Err, se.Compensation
		}
		if !executed {
			if abortErr := edit.Abort(); abortErr != nil {
				logger.Warn("failed to abort GIS edit operation", "error", abortErr)
				opErr.CompensationErr = errors.Join(opErr.CompensationErr, abortErr)
			}
		}
		logger.Error("save failed", "error", err)
		return &SaveResult{}, opErr
	}

	*rec = *next.record
	res.Saved = true
	logger.Info("incid saved", "features", res.Features, "history_rows", len(res.HistoryIDs),
		"ihs_cleared", res.IHSCleared, "osmm_ignored", res.OSMMIgnored)
	return res, nil
}

// pending is the state a save will accept once committed
type pending struct {
	record   *Record
	snapshot domain.Snapshot
}

// write performs every database step and queues the GIS update on edit
func (o *Orchestrator) write(ctx context.Context, tx *store.Tx, edit *gis.EditOperation, rec *Record, res *SaveResult) (*pending, error) {
	ts := o.now()
	work := rec.clone()
	incid := work.ID()

	// Derived columns
	inc := work.Incid.Current
	orig := work.Incid.Original
	inc.HabitatSecondaries = domain.NullString(SecondarySummary(work.Secondary, o.policy.SecondaryDelimiter))
	if o.clearIHS(orig, inc) {
		inc.IHSHabitat = sql.NullString{}
		for f, rows := range work.IHS {
			for i := range rows {
				rows[i].Deleted = true
			}
			work.IHS[f] = rows
		}
		res.IHSCleared = true
	}
	inc.LastModifiedUser = o.session.UserID
	inc.LastModifiedDate = domain.Truncate(ts)

	if err := tx.UpdateIncid(ctx, inc); err != nil {
		return nil, err
	}

	out := &Record{Incid: domain.Track(inc), IHS: make(map[domain.IHSFamily][]domain.Tracked[domain.IHSMultiplex])}

	for _, f := range domain.IHSFamilies {
		rows := work.IHS[f]
		if !domain.AnyDirty(rows) {
			out.IHS[f] = rows
			continue
		}
		result, err := applyTracked(ctx, tx, store.IHSTable(f), incid, rows)
		if err != nil {
			return nil, err
		}
		out.IHS[f] = track(result)
	}

	out.Conditions = work.Conditions
	if domain.AnyDirty(work.Conditions) {
		result, err := applyTracked(ctx, tx, store.ConditionTable, incid, work.Conditions)
		if err != nil {
			return nil, err
		}
		out.Conditions = track(result)
	}

	secondary, err := reconcileTracked(ctx, tx, store.SecondaryTable, incid, work.Secondary, nil)
	if err != nil {
		return nil, err
	}
	res.Secondary = countsOf(secondary)
	out.Secondary = track(secondary.Result)

	bap, err := reconcileTracked(ctx, tx, store.BapTable, incid, work.Bap, PreferAutoBap)
	if err != nil {
		return nil, err
	}
	res.Bap = countsOf(bap)
	out.Bap = track(bap.Result)

	sources := Resequence(work.Sources)
	out.Sources = sources
	if domain.AnyDirty(sources) {
		result, err := applyTracked(ctx, tx, store.SourceTable, incid, sources)
		if err != nil {
			return nil, err
		}
		out.Sources = track(result)
	}

	if o.policy.IgnoreOSMM {
		block := []sqlfilter.Condition{
			sqlfilter.New("", "incid", incid),
			{BooleanOperator: "AND", Column: "status", Operator: ">=", Value: int64(domain.OSMMPending), ValueType: sqlfilter.TypeInteger},
		}
		n, err := tx.SetOSMMStatus(ctx, [][]sqlfilter.Condition{block}, domain.OSMMIgnored, o.session.UserID, ts)
		if err != nil {
			return nil, err
		}
		res.OSMMIgnored = n
	}

	where := sqlfilter.Incids([]string{incid}, 1, "")
	snap, err := o.layer.GetHistory(ctx, gis.HistoryColumns(o.session.GeometryType), where)
	if err != nil {
		return nil, err
	}
	if len(snap) == 0 {
		return nil, &domain.DesyncError{Incid: incid, Detail: "GIS layer has no features for the incid"}
	}
	res.Features = len(snap)

	shared := inc.Shared()
	ok, err := o.shadow.SyncSharedAttributes(ctx, tx, shadow.IncidWhere(incid), shared)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.DesyncError{Incid: incid, Detail: "database has no polygons for the incid"}
	}
	if err := o.layer.UpdateFeatures(ctx, edit, gis.SharedColumns, shared.Values(), where); err != nil {
		return nil, err
	}

	ids, err := o.history.Write(ctx, tx, map[string]any{history.ColumnIncid: incid}, snap, domain.OpAttributeUpdate, ts)
	if err != nil {
		return nil, err
	}
	res.HistoryIDs = ids

	return &pending{record: out, snapshot: snap}, nil
}

// clearIHS applies the IHS clear policy to the pre-edit and edited incid
func (o *Orchestrator) clearIHS(orig, edited domain.Incid) bool {
	primaryChanged := orig.HabitatPrimary != edited.HabitatPrimary
	secondaryChanged := orig.HabitatSecondaries != edited.HabitatSecondaries
	switch o.policy.IHSClear {
	case config.ClearAlways:
		return true
	case config.ClearOnPrimaryOrSecondaryChange:
		return primaryChanged || secondaryChanged
	default:
		return primaryChanged
	}
}

// counter allocates ids for one table on first use within a transaction
type counter struct {
	ctx  context.Context
	tx   *store.Tx
	spec db.SequenceSpec
	c    *db.Counter
	err  error
}

func (c *counter) next() int64 {
	if c.c == nil && c.err == nil {
		c.c, c.err = c.tx.Counter(c.ctx, c.spec)
	}
	if c.err != nil {
		return domain.NewRowID
	}
	return c.c.Next()
}

func applyTracked[T Row[T]](ctx context.Context, tx *store.Tx, tbl *store.Table[T], incid string, rows []domain.Tracked[T]) ([]T, error) {
	ids := &counter{ctx: ctx, tx: tx, spec: tbl.Sequence()}
	cs := Changes(incid, rows, ids.next)
	if ids.err != nil {
		return nil, ids.err
	}
	if err := Apply(ctx, tx, tbl, cs); err != nil {
		return nil, err
	}
	return cs.Result, nil
}

func reconcileTracked[T KeyedRow[T]](ctx context.Context, tx *store.Tx, tbl *store.Table[T], incid string, rows []domain.Tracked[T], prefer func(candidate, kept T) bool) (ChangeSet[T], error) {
	current, persisted := split(rows)
	ids := &counter{ctx: ctx, tx: tx, spec: tbl.Sequence()}
	cs := Reconcile(incid, current, persisted, prefer, ids.next)
	if ids.err != nil {
		return cs, ids.err
	}
	if err := Apply(ctx, tx, tbl, cs); err != nil {
		return cs, err
	}
	return cs, nil
}

func toidsOf(snap domain.Snapshot) []string {
	seen := make(map[string]bool)
	var out []string
	for _, row := range snap {
		t := row.String(gis.ColToid)
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
