package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/bulk"
	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/id"
	"github.com/lherron/hlutool/internal/osmm"
	"github.com/lherron/hlutool/internal/render"
	"github.com/lherron/hlutool/internal/sqlfilter"
	"github.com/lherron/hlutool/internal/store"
)

var osmmCmd = &cobra.Command{
	Use:   "osmm",
	Short: "Review machine proposed OSMM habitat updates",
}

var osmmApplyCmd = &cobra.Command{
	Use:   "apply <accept|skip|reject> <incid>...",
	Short: "Accept, skip or reject the open proposals of each incid",
	Long: `Apply moves every open OSMM proposal of each incid to a new status.
Accepting marks the proposal pending, skipping defers a proposed update to its
next review pass and rejecting closes it for good.

Examples:
  hlutool osmm apply accept 2024:0000001 2024:0000002
  hlutool osmm apply reject 2024:0000003 --continue-on-error`,
	Args: cobra.MinimumNArgs(2),
	RunE: appctx.WithApp(appctx.WithSession(), runOSMMApply),
}

var osmmBulkCmd = &cobra.Command{
	Use:   "bulk <accept|reject>",
	Short: "Accept or reject every open proposal from an incid onwards",
	Long: `Bulk resolves the open proposals of every incid in the working set,
starting at --from. The working set is every incid with an open proposal,
optionally narrowed by --filter terms on the proposal table.

Examples:
  hlutool osmm bulk accept --from 2024:0000100
  hlutool osmm bulk reject --filter process_flag=3 --filter "spatial_flag=A"`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.WithSession(), runOSMMBulk),
}

var osmmStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count proposals by status",
	Args:  cobra.NoArgs,
	RunE:  appctx.WithApp(appctx.DBOnly(), runOSMMStatus),
}

var (
	osmmContinueOnError bool
	osmmFrom            string
	osmmFilters         []string
)

func init() {
	rootCmd.AddCommand(osmmCmd)
	osmmCmd.AddCommand(osmmApplyCmd, osmmBulkCmd, osmmStatusCmd)

	osmmApplyCmd.Flags().BoolVar(&osmmContinueOnError, "continue-on-error", false, "Keep going after an incid fails")

	osmmBulkCmd.Flags().StringVar(&osmmFrom, "from", "", "First incid of the working set to process (default: the first)")
	osmmBulkCmd.Flags().StringArrayVar(&osmmFilters, "filter", nil, "Proposal filter as <column><op><value> (repeatable, ANDed)")
}

func osmmProcessor(app *appctx.App) *osmm.Processor {
	return osmm.NewProcessor(app.Session, app.Store, osmm.WithLogger(app.Logger), osmm.WithMetrics(app.Metrics))
}

func runOSMMApply(app *appctx.App, cmd *cobra.Command, args []string) error {
	action, err := osmm.ParseAction(args[0])
	if err != nil {
		return exitError(2, err)
	}
	processor := osmmProcessor(app)

	var (
		mu      sync.Mutex
		applied []domain.OSMMUpdate
	)
	// One operation in flight per session: incids are applied in the order given
	op := &bulk.Operation{Ordered: true, ContinueOnError: osmmContinueOnError, Progress: cmd.ErrOrStderr()}
	result := op.Execute(cmd.Context(), args[1:], func(ctx context.Context, incid string) error {
		updates, err := processor.Apply(ctx, incid, action)
		if err != nil {
			return err
		}
		mu.Lock()
		applied = append(applied, updates...)
		mu.Unlock()
		return nil
	})

	sort.Slice(applied, func(i, j int) bool { return applied[i].IncidOSMMUpdateID < applied[j].IncidOSMMUpdateID })
	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := r.Render(applied, osmmTable(applied)); err != nil {
		return err
	}
	if result.Failed > 0 || result.Skipped > 0 {
		result.PrintSummary(cmd.ErrOrStderr())
	}
	return result.Err()
}

func runOSMMBulk(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	action, err := osmm.ParseAction(args[0])
	if err != nil {
		return exitError(2, err)
	}

	ws := &osmm.WorkingSet{}
	if len(osmmFilters) > 0 {
		block, err := sqlfilter.ParseBlock(osmmFilters)
		if err != nil {
			return exitError(2, err)
		}
		ws.Predicate = [][]sqlfilter.Condition{block}
	}
	if ws.Incids, err = openIncids(ctx, app.Store, ws.Predicate); err != nil {
		return err
	}
	if osmmFrom != "" {
		ws.Current = -1
		for i, incid := range ws.Incids {
			if incid == osmmFrom {
				ws.Current = i
				break
			}
		}
		if ws.Current < 0 {
			return exitError(2, fmt.Errorf("incid %s has no open proposal in the working set", osmmFrom))
		}
	}

	processor := osmmProcessor(app)
	n, err := processor.ApplyBulk(ctx, ws, action)
	if err != nil {
		return err
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	summary := map[string]any{"action": string(action), "incids": len(ws.Incids), "updated": n}
	return r.Render(summary, render.Table{
		Headers: []string{"ACTION", "INCIDS", "UPDATED"},
		Rows:    [][]string{{string(action), strconv.Itoa(len(ws.Incids)), strconv.FormatInt(n, 10)}},
	})
}

// openIncids lists the incids holding an open proposal that matches
// predicate, in incid order
func openIncids(ctx context.Context, st *store.Store, predicate [][]sqlfilter.Condition) ([]string, error) {
	open := [][]sqlfilter.Condition{{{Column: "status", Operator: ">=", Value: int64(domain.OSMMPending), ValueType: sqlfilter.TypeInteger}}}
	if len(predicate) > 0 {
		open = sqlfilter.JoinWhereClauseLists(predicate, open)
	}

	seen := make(map[string]bool)
	var incids []string
	err := st.View(ctx, func(tx *store.Tx) error {
		updates, err := tx.OSMMUpdatesWhere(ctx, open)
		if err != nil {
			return err
		}
		for _, u := range updates {
			if !seen[u.Incid] {
				seen[u.Incid] = true
				incids = append(incids, u.Incid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(incids, func(i, j int) bool {
		c, err := id.CompareIncids(incids[i], incids[j])
		if err != nil {
			return incids[i] < incids[j]
		}
		return c < 0
	})
	return incids, nil
}

func runOSMMStatus(app *appctx.App, cmd *cobra.Command, args []string) error {
	var counts map[domain.OSMMStatus]int
	err := app.Store.View(cmd.Context(), func(tx *store.Tx) error {
		var err error
		counts, err = tx.OSMMStatusCounts(cmd.Context())
		return err
	})
	if err != nil {
		return err
	}

	statuses := make([]int, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, int(s))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(statuses)))

	byName := make(map[string]int, len(counts))
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		status := domain.OSMMStatus(s)
		byName[status.String()] += counts[status]
		rows = append(rows, []string{strconv.Itoa(s), status.String(), strconv.Itoa(counts[status])})
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(byName, render.Table{Headers: []string{"STATUS", "NAME", "COUNT"}, Rows: rows})
}

func osmmTable(updates []domain.OSMMUpdate) render.Table {
	rows := make([][]string, 0, len(updates))
	for _, u := range updates {
		rows = append(rows, []string{
			u.Incid,
			strconv.FormatInt(u.IncidOSMMUpdateID, 10),
			strconv.FormatInt(u.OSMMXrefID, 10),
			strconv.Itoa(int(u.Status)),
			u.Status.String(),
		})
	}
	return render.Table{Headers: []string{"INCID", "UPDATE", "XREF", "STATUS", "NAME"}, Rows: rows}
}
