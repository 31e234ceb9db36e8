// Package saga runs a sequence of steps across the database and the GIS layer,
// each paired with a compensating action.
//
// The two stores do not share a transaction. When a step fails, the
// compensations of every step that started run in reverse order. A GIS change
// that has already been applied cannot be rolled back by the database, so if
// its compensation also fails the stores are left inconsistent until repaired.
// That window is reported through Error.Compensation and never hidden.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Action is a step body or a compensation
type Action func(ctx context.Context) error

type step struct {
	name       string
	do         Action
	compensate Action
}

// Saga is an ordered list of compensable steps
type Saga struct {
	name   string
	id     string
	steps  []step
	logger *slog.Logger
}

// Option configures a Saga
type Option func(*Saga)

// WithLogger sets the saga's logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Saga) { s.logger = l }
}

// New creates an empty saga. Each run gets a fresh id for log correlation.
func New(name string, opts ...Option) *Saga {
	s := &Saga{name: name, id: uuid.NewString(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the run id
func (s *Saga) ID() string {
	return s.id
}

// Step appends a step. compensate may be nil. Compensations must tolerate a
// partially applied step since the failing step is compensated too.
func (s *Saga) Step(name string, do, compensate Action) *Saga {
	s.steps = append(s.steps, step{name: name, do: do, compensate: compensate})
	return s
}

// Error reports the step that failed and any compensations that failed after it
type Error struct {
	Saga         string
	Step         string
	Err          error
	Compensation error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: step %q failed: %v", e.Saga, e.Step, e.Err)
	if e.Compensation != nil {
		msg += fmt.Sprintf(" (compensation failed: %v)", e.Compensation)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Run executes the steps in order. On the first failure it compensates every
// started step in reverse and returns an *Error.
func (s *Saga) Run(ctx context.Context) error {
	log := s.logger.With("saga", s.name, "run_id", s.id)

	for i, st := range s.steps {
		if err := ctx.Err(); err != nil {
			return s.unwind(ctx, log, i-1, st.name, err)
		}
		log.Debug("saga step", "step", st.name)
		if err := st.do(ctx); err != nil {
			return s.unwind(ctx, log, i, st.name, err)
		}
	}
	return nil
}

func (s *Saga) unwind(ctx context.Context, log *slog.Logger, last int, failed string, cause error) error {
	log.Warn("saga step failed, compensating", "step", failed, "error", cause)

	// Compensations run even if the caller's context is already done
	cctx := context.WithoutCancel(ctx)

	var errs []error
	for i := last; i >= 0; i-- {
		st := s.steps[i]
		if st.compensate == nil {
			continue
		}
		if err := st.compensate(cctx); err != nil {
			log.Error("compensation failed", "step", st.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
		}
	}

	return &Error{Saga: s.name, Step: failed, Err: cause, Compensation: errors.Join(errs...)}
}
