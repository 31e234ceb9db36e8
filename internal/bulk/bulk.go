// Package bulk runs one operation over many incids, sequentially or with a
// bounded worker pool, and summarises the outcome.
package bulk

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Operation configures a bulk run. Jobs <= 0 uses one worker per CPU;
// Ordered forces a single worker so items run in input order.
type Operation struct {
	Jobs            int
	ContinueOnError bool
	Ordered         bool

	// Progress receives one line per attempted item when set
	Progress io.Writer
}

// Result counts the outcome of a run. Skipped items were never attempted.
type Result struct {
	TotalItems int
	Succeeded  int
	Failed     int
	Skipped    int
	Errors     []ItemError
}

// ItemError is the failure of one item
type ItemError struct {
	Item  string
	Error error
}

// ItemFunc processes one item
type ItemFunc func(ctx context.Context, item string) error

// Execute runs fn over items. Without ContinueOnError the first failure stops
// new items from starting; a cancelled ctx does the same without counting as
// a failure. Errors are reported in input order.
func (op *Operation) Execute(ctx context.Context, items []string, fn ItemFunc) *Result {
	res := &Result{TotalItems: len(items)}
	if len(items) == 0 {
		return res
	}

	var (
		mu      sync.Mutex
		stopped bool
		failed  []int
		errs    = make(map[int]error)
	)
	halted := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopped || ctx.Err() != nil
	}

	g := new(errgroup.Group)
	g.SetLimit(op.workers())
	for i, item := range items {
		if halted() {
			break
		}
		i, item := i, item
		g.Go(func() error {
			if halted() {
				return nil
			}
			err := fn(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			op.report(item, err)
			if err == nil {
				res.Succeeded++
				return nil
			}
			failed = append(failed, i)
			errs[i] = err
			if !op.ContinueOnError {
				stopped = true
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(failed)
	for _, i := range failed {
		res.Errors = append(res.Errors, ItemError{Item: items[i], Error: errs[i]})
	}
	res.Failed = len(failed)
	res.Skipped = res.TotalItems - res.Succeeded - res.Failed
	return res
}

func (op *Operation) workers() int {
	switch {
	case op.Ordered:
		return 1
	case op.Jobs > 0:
		return op.Jobs
	default:
		return runtime.NumCPU()
	}
}

func (op *Operation) report(item string, err error) {
	if op.Progress == nil {
		return
	}
	if err != nil {
		fmt.Fprintf(op.Progress, "%s: error: %v\n", item, err)
		return
	}
	fmt.Fprintf(op.Progress, "%s: success\n", item)
}

// ExitCode is 0 when nothing failed, 5 when some items succeeded and some
// failed, and 1 when every attempted item failed
func (r *Result) ExitCode() int {
	switch {
	case r.Failed == 0:
		return 0
	case r.Succeeded > 0:
		return 5
	default:
		return 1
	}
}

// Err returns nil when nothing failed, otherwise an *Error carrying the
// result's exit code
func (r *Result) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return &Error{Result: r}
}

// Error reports a bulk run with failures
type Error struct {
	Result *Result
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d of %d operations failed", e.Result.Failed, e.Result.TotalItems)
}

// ExitCode returns the exit code of the failed run
func (e *Error) ExitCode() int { return e.Result.ExitCode() }

// maxSummaryErrors bounds the error lines PrintSummary writes
const maxSummaryErrors = 10

// PrintSummary writes a human-readable outcome line, the skipped count and
// the first few item errors
func (r *Result) PrintSummary(w io.Writer) {
	switch r.ExitCode() {
	case 0:
		fmt.Fprintf(w, "\nAll %d operations succeeded\n", r.Succeeded)
	case 5:
		fmt.Fprintf(w, "\nPartial success: %d succeeded, %d failed (out of %d)\n", r.Succeeded, r.Failed, r.TotalItems)
	default:
		fmt.Fprintf(w, "\nAll %d attempted operations failed\n", r.Failed)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(w, "%d not attempted\n", r.Skipped)
	}
	if len(r.Errors) == 0 {
		return
	}

	shown := r.Errors
	if len(shown) > maxSummaryErrors {
		fmt.Fprintf(w, "\nFirst %d of %d errors:\n", maxSummaryErrors, len(shown))
		shown = shown[:maxSummaryErrors]
	} else {
		fmt.Fprintln(w, "\nErrors:")
	}
	for _, e := range shown {
		fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
	}
}
