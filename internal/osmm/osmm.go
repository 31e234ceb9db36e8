// Package osmm moves OS MasterMap update proposals through their review
// states, one incid at a time or across a working set of incids.
package osmm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/id"
	"github.com/lherron/hlutool/internal/metrics"
	"github.com/lherron/hlutool/internal/sqlfilter"
	"github.com/lherron/hlutool/internal/store"
)

// Action is a reviewer decision on a proposal
type Action string

const (
	Accept Action = "accept"
	Skip   Action = "skip"
	Reject Action = "reject"
)

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case Accept, Skip, Reject:
		return a, nil
	default:
		return "", fmt.Errorf("invalid osmm action %q: must be one of: accept, skip, reject", s)
	}
}

// Transition returns the status a proposal moves to under action. Skipping a
// proposal raises its severity by one; accepting parks it as pending;
// rejecting is final from any state.
func Transition(status domain.OSMMStatus, action Action) (domain.OSMMStatus, error) {
	if action == Reject {
		return domain.OSMMRejected, nil
	}
	switch {
	case status.IsProposed() && action == Skip:
		return status + 1, nil
	case status.IsOpen() && action == Accept:
		return domain.OSMMPending, nil
	case status == domain.OSMMPending && action == Skip:
		return status, &domain.PreconditionError{Op: "osmm " + string(action), Reason: "a pending update cannot be skipped"}
	case !status.IsOpen():
		return status, &domain.PreconditionError{Op: "osmm " + string(action), Reason: fmt.Sprintf("update is already %s", status)}
	default:
		return status, fmt.Errorf("unknown osmm action %q", action)
	}
}

// bulkTarget is the single status a bulk action writes
func bulkTarget(action Action) (domain.OSMMStatus, error) {
	switch action {
	case Accept:
		return domain.OSMMPending, nil
	case Reject:
		return domain.OSMMRejected, nil
	default:
		return 0, &domain.PreconditionError{Op: "osmm bulk", Reason: fmt.Sprintf("%s cannot be applied in bulk", action)}
	}
}

// WorkingSet is the ordered selection of incids a reviewer steps through.
// Predicate, when set, is the stored filter the selection was built from.
type WorkingSet struct {
	Incids    []string
	Current   int
	Predicate [][]sqlfilter.Condition
}

// Done reports whether every incid of the set has been processed
func (ws *WorkingSet) Done() bool {
	return ws.Current >= len(ws.Incids)
}

// Processor applies reviewer actions to stored proposals
type Processor struct {
	session domain.Session
	store   *store.Store
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the processor's logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithMetrics sets the recorder observing each action
func WithMetrics(r metrics.Recorder) Option {
	return func(p *Processor) { p.metrics = r }
}

// WithClock overrides the time source used for stamps
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor
func NewProcessor(session domain.Session, st *store.Store, opts ...Option) *Processor {
	p := &Processor{
		session: session,
		store:   st,
		metrics: metrics.Nop{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply applies action to the open proposals of one incid and returns them
// as stored. Closed proposals (applied, ignored or rejected) are skipped and
// keep their status, so Reject never reaches them through Apply. An incid
// without open proposals is a precondition failure.
func (p *Processor) Apply(ctx context.Context, incid string, action Action) ([]domain.OSMMUpdate, error) {
	op := "osmm " + string(action)
	var out []domain.OSMMUpdate
	err := metrics.Track(ctx, p.metrics, "osmm_"+string(action), func() error {
		tx, err := p.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		open, err := tx.OpenOSMMUpdates(ctx, incid)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return &domain.PreconditionError{Op: op, Reason: fmt.Sprintf("incid %s has no open OSMM update", incid)}
		}

		ts := domain.Truncate(p.now())
		for _, u := range open {
			next, err := Transition(u.Status, action)
			if err != nil {
				return err
			}
			u.Status = next
			u.LastModifiedUser = p.session.UserID
			u.LastModifiedDate = ts
			if err := store.Update(ctx, tx, store.OSMMUpdateTable, u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return tx.Commit()
	})
	if err != nil {
		if domain.IsPrecondition(err) {
			return nil, err
		}
		p.logger.Error("osmm update failed", "incid", incid, "action", action, "error", err)
		return nil, &domain.OperationError{Op: op, Err: err}
	}
	p.logger.Info("osmm update applied", "incid", incid, "action", action, "proposals", len(out))
	return out, nil
}

// ApplyBulk applies action to every open proposal from the working set's
// current incid onwards. With a stored predicate this is one UPDATE per
// predicate block; otherwise each incid of the set not below the current
// one is updated in turn. Both paths order incids by site, then sequence:
// the zero-padded text comparison in SQL agrees with CompareIncids, and a
// malformed incid in the set fails the whole update. On success the working set
// is marked as fully processed.
func (p *Processor) ApplyBulk(ctx context.Context, ws *WorkingSet, action Action) (int64, error) {
	const op = "osmm bulk"
	if ws.Done() {
		return 0, &domain.PreconditionError{Op: op, Reason: "working set is empty or already processed"}
	}
	target, err := bulkTarget(action)
	if err != nil {
		return 0, err
	}
	from := ws.Incids[ws.Current]
	if _, err := id.ParseIncid(from); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var total int64
	err = metrics.Track(ctx, p.metrics, "osmm_bulk", func() error {
		tx, err := p.store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		ts := p.now()
		if len(ws.Predicate) > 0 {
			bound := [][]sqlfilter.Condition{{
				{Column: "incid", Operator: ">=", Value: from, ValueType: sqlfilter.TypeString},
				openCondition(),
			}}
			total, err = tx.SetOSMMStatus(ctx, sqlfilter.JoinWhereClauseLists(ws.Predicate, bound), target, p.session.UserID, ts)
			if err != nil {
				return err
			}
			return tx.Commit()
		}

		for _, incid := range ws.Incids {
			c, err := id.CompareIncids(incid, from)
			if err != nil {
				return err
			}
			if c < 0 {
				continue
			}
			block := []sqlfilter.Condition{sqlfilter.New("", "incid", incid), openCondition()}
			affected, err := tx.SetOSMMStatus(ctx, [][]sqlfilter.Condition{block}, target, p.session.UserID, ts)
			if err != nil {
				return err
			}
			total += affected
		}
		return tx.Commit()
	})
	if err != nil {
		p.logger.Error("osmm bulk update failed", "from", from, "action", action, "error", err)
		return 0, &domain.OperationError{Op: op, Err: err}
	}

	ws.Current = len(ws.Incids)
	p.logger.Info("osmm bulk update applied", "from", from, "action", action, "status", target, "updated", total)
	return total, nil
}

func openCondition() sqlfilter.Condition {
	return sqlfilter.Condition{
		BooleanOperator: "AND",
		Column:          "status",
		Operator:        ">=",
		Value:           int64(domain.OSMMPending),
		ValueType:       sqlfilter.TypeInteger,
	}
}
