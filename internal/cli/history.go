package cli

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/cursor"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/render"
	"github.com/lherron/hlutool/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history [incid]",
	Short: "Show the audit trail of an incid",
	Long: `History lists audit rows in the order they were written. Each row holds
the state of one feature before the operation named in OP changed it. Rows are
matched on either the incid they were written for or the incid they recorded.

Examples:
  hlutool history 2024:0000001
  hlutool history 2024:0000001 --limit 20 --cursor <next_cursor>
  hlutool history 2024:0000001 --diff`,
	Args: cobra.MaximumNArgs(1),
	RunE: appctx.WithApp(appctx.DBOnly(), runHistory),
}

var (
	historyLimit  int
	historyCursor string
	historyDiff   bool
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Limit number of rows (default: page_size from config, 0 = unlimited with --diff)")
	historyCmd.Flags().StringVar(&historyCursor, "cursor", "", "Pagination cursor from previous page")
	historyCmd.Flags().BoolVar(&historyDiff, "diff", false, "Show how each fragment's recorded state changed between rows")
}

func runHistory(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var incid string
	if len(args) == 1 {
		incid = args[0]
	}

	afterID, err := cursor.Resume(historyCursor, incid)
	if err != nil {
		return exitError(2, err)
	}
	limit := historyLimit
	if limit == 0 && !historyDiff {
		limit = app.Config.PageSize
	}

	var rows []domain.HistoryRecord
	err = app.Store.View(ctx, func(tx *store.Tx) error {
		var err error
		rows, err = tx.ListHistory(ctx, store.HistoryQuery{Incid: incid, AfterID: afterID, Limit: limit})
		return err
	})
	if err != nil {
		return err
	}

	ids := make([]int64, len(rows))
	for i, h := range rows {
		ids[i] = h.HistoryID
	}
	next, err := cursor.Next(incid, ids, limit)
	if err != nil {
		return err
	}
	if next != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "next_cursor=%s\n", next)
	}

	if historyDiff {
		return writeHistoryDiff(cmd, rows)
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(rows, historyTable(rows))
}

func historyTable(rows []domain.HistoryRecord) render.Table {
	out := make([][]string, 0, len(rows))
	for _, h := range rows {
		out = append(out, []string{
			strconv.FormatInt(h.HistoryID, 10),
			h.ModifiedDate.Format("2006-01-02 15:04:05"),
			h.ModifiedUserID,
			h.ModifiedOperation,
			h.Incid,
			h.Toid.String + "/" + h.ToidFragID.String,
			h.ModifiedIncid.String,
			h.ModifiedPrimary.String,
		})
	}
	return render.Table{
		Headers: []string{"ID", "DATE", "USER", "OP", "INCID", "FEATURE", "WAS_INCID", "WAS_PRIMARY"},
		Rows:    out,
	}
}

// writeHistoryDiff prints a unified diff of the recorded state between
// consecutive rows of each fragment
func writeHistoryDiff(cmd *cobra.Command, rows []domain.HistoryRecord) error {
	w := cmd.OutOrStdout()
	last := make(map[string]domain.HistoryRecord)
	for _, h := range rows {
		key := h.Toid.String + "/" + h.ToidFragID.String
		prev, ok := last[key]
		last[key] = h
		if !ok {
			continue
		}

		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(recordedState(prev)),
			B:        difflib.SplitLines(recordedState(h)),
			FromFile: fmt.Sprintf("%s@%d (%s)", key, prev.HistoryID, prev.ModifiedOperation),
			ToFile:   fmt.Sprintf("%s@%d (%s)", key, h.HistoryID, h.ModifiedOperation),
			Context:  1,
		}
		text, err := difflib.GetUnifiedDiffString(diff)
		if err != nil {
			return fmt.Errorf("failed to diff history rows: %w", err)
		}
		if text != "" {
			fmt.Fprint(w, text)
		}
	}
	return nil
}

// recordedState renders the attribute values a history row captured
func recordedState(h domain.HistoryRecord) string {
	var sb strings.Builder
	for _, f := range []struct {
		name  string
		value sql.NullString
	}{
		{"incid", h.ModifiedIncid},
		{"toidfragid", h.ModifiedFragID},
		{"habprimary", h.ModifiedPrimary},
		{"habsecond", h.ModifiedSecond},
		{"determqty", h.ModifiedDetermQty},
		{"interpqty", h.ModifiedInterpQty},
	} {
		fmt.Fprintf(&sb, "%s: %s\n", f.name, f.value.String)
	}
	if h.ModifiedLength.Valid {
		fmt.Fprintf(&sb, "shape_length: %g\n", h.ModifiedLength.Float64)
	}
	if h.ModifiedArea.Valid {
		fmt.Fprintf(&sb, "shape_area: %g\n", h.ModifiedArea.Float64)
	}
	return sb.String()
}
