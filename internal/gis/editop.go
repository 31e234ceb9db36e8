package gis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lherron/hlutool/internal/sqlfilter"
)

// Edit operation errors
var (
	ErrOperationClosed = errors.New("edit operation is no longer open")
)

// AttributeEdit sets columns to values on every feature matching Where
type AttributeEdit struct {
	Columns []string
	Values  []any
	Where   [][]sqlfilter.Condition
}

// editApplier applies queued edits as one unit on the dispatcher goroutine
type editApplier interface {
	applyEdits(ctx context.Context, edits []AttributeEdit) error
}

type opState int

const (
	opOpen opState = iota
	opExecuted
	opFailed
	opAborted
)

// EditOperation collects attribute edits and applies them together when
// executed. Nothing reaches the layer before Execute.
type EditOperation struct {
	id   string
	name string

	mu      sync.Mutex
	state   opState
	edits   []AttributeEdit
	applier editApplier
	d       *Dispatcher
}

func newEditOperation(name string, applier editApplier, d *Dispatcher) *EditOperation {
	return &EditOperation{id: uuid.NewString(), name: name, applier: applier, d: d}
}

// ID returns the operation's unique id
func (o *EditOperation) ID() string { return o.id }

// Name returns the operation's display name
func (o *EditOperation) Name() string { return o.name }

// IsEmpty reports whether nothing has been queued
func (o *EditOperation) IsEmpty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.edits) == 0
}

func (o *EditOperation) queue(e AttributeEdit) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != opOpen {
		return fmt.Errorf("%s: %w", o.name, ErrOperationClosed)
	}
	o.edits = append(o.edits, e)
	return nil
}

// Execute applies the queued edits on the GIS dispatcher. It returns false
// when the operation is empty or the edits fail; on failure nothing is applied.
func (o *EditOperation) Execute(ctx context.Context) (bool, error) {
	o.mu.Lock()
	if o.state != opOpen {
		o.mu.Unlock()
		return false, fmt.Errorf("%s: %w", o.name, ErrOperationClosed)
	}
	edits := o.edits
	if len(edits) == 0 {
		o.state = opFailed
		o.mu.Unlock()
		return false, nil
	}
	o.state = opExecuted
	o.mu.Unlock()

	if err := o.d.Do(ctx, func(ctx context.Context) error {
		return o.applier.applyEdits(ctx, edits)
	}); err != nil {
		o.mu.Lock()
		o.state = opFailed
		o.mu.Unlock()
		return false, fmt.Errorf("%s: %w", o.name, err)
	}
	return true, nil
}

// Abort discards queued edits. Aborting an executed operation is an error;
// aborting a failed or already aborted operation is a no-op.
func (o *EditOperation) Abort() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case opExecuted:
		return fmt.Errorf("%s: cannot abort an executed edit operation", o.name)
	case opAborted, opFailed:
		return nil
	}
	o.state = opAborted
	o.edits = nil
	return nil
}
