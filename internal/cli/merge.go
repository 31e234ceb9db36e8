package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/merge"
	"github.com/lherron/hlutool/internal/render"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge features into one incid or one fragment",
}

var mergeLogicalCmd = &cobra.Command{
	Use:   "logical <toid/fragid>...",
	Short: "Give the selected features a single incid",
	Long: `Logical merge moves every selected feature to a surviving incid and
deletes incids that are left without polygons. When the selection is made of
fragments of one toid a physical merge is offered afterwards.

Examples:
  hlutool merge logical osgb1/00001 osgb2/00001
  hlutool merge logical osgb1/00001 osgb1/00002 --survivor 2024:0000003 --yes`,
	Args: cobra.MinimumNArgs(2),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runMergeLogical),
}

var mergePhysicalCmd = &cobra.Command{
	Use:   "physical <toid/fragid>...",
	Short: "Collapse fragments of one toid into a single fragment",
	Long: `Physical merge combines the geometry of the selected fragments of one toid
into a surviving fragment. The fragments must already share an incid.

Examples:
  hlutool merge physical osgb1/00001 osgb1/00002
  hlutool merge physical osgb1/00001 osgb1/00002 --survivor 00002`,
	Args: cobra.MinimumNArgs(2),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runMergePhysical),
}

var (
	mergeSurvivor string
	mergeYes      bool
	mergeAuto     bool
)

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.AddCommand(mergeLogicalCmd, mergePhysicalCmd)

	mergeCmd.PersistentFlags().StringVar(&mergeSurvivor, "survivor", "", "Surviving incid or fragment id")
	mergeCmd.PersistentFlags().BoolVarP(&mergeYes, "yes", "y", false, "Answer yes to follow-up questions")
	mergeCmd.PersistentFlags().BoolVar(&mergeAuto, "auto", false, "Never prompt; pick survivors deterministically")
}

func mergeEngine(app *appctx.App, cmd *cobra.Command) *merge.Engine {
	var chooser merge.Chooser
	if !mergeAuto {
		chooser = newPromptChooser(cmd.InOrStdin(), cmd.ErrOrStderr(), mergeYes)
	}
	if mergeSurvivor != "" {
		chooser = survivorChooser{want: mergeSurvivor, next: chooser}
	}
	return merge.New(app.Session, app.Store, app.Layer, chooser,
		merge.WithLogger(app.Logger), merge.WithMetrics(app.Metrics))
}

func runMergeLogical(app *appctx.App, cmd *cobra.Command, args []string) error {
	keys, err := parseFeatureKeys(args)
	if err != nil {
		return exitError(2, err)
	}

	res, err := mergeEngine(app, cmd).LogicalMerge(cmd.Context(), merge.Selection{Keys: keys})
	if err != nil {
		return err
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	rows := [][]string{{"logical", res.SurvivorIncid, strconv.Itoa(res.Features), strings.Join(res.DeletedIncids, ","), strconv.Itoa(len(res.HistoryIDs))}}
	if p := res.Physical; p != nil {
		rows = append(rows, physicalRow(p))
	}
	return r.Render(res, mergeTable(rows))
}

func runMergePhysical(app *appctx.App, cmd *cobra.Command, args []string) error {
	keys, err := parseFeatureKeys(args)
	if err != nil {
		return exitError(2, err)
	}

	res, err := mergeEngine(app, cmd).PhysicalMerge(cmd.Context(), merge.Selection{Keys: keys})
	if err != nil {
		return err
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(res, mergeTable([][]string{physicalRow(res)}))
}

func physicalRow(p *merge.PhysicalResult) []string {
	consumed := make([]string, len(p.Consumed))
	for i, k := range p.Consumed {
		consumed[i] = formatKey(k)
	}
	survivor := formatKey(domain.FeatureKey{Toid: p.Toid, ToidFragID: p.SurvivorFragID})
	return []string{"physical", fmt.Sprintf("%s %s", p.Incid, survivor), strconv.Itoa(len(p.Consumed) + 1), strings.Join(consumed, ","), strconv.Itoa(len(p.HistoryIDs))}
}

func mergeTable(rows [][]string) render.Table {
	return render.Table{Headers: []string{"MERGE", "SURVIVOR", "FEATURES", "REMOVED", "HISTORY"}, Rows: rows}
}
