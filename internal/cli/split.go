package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/render"
	"github.com/lherron/hlutool/internal/split"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split features off an incid or a multi-part feature into fragments",
}

var splitLogicalCmd = &cobra.Command{
	Use:   "logical <toid/fragid>...",
	Short: "Move the selected features to a new incid",
	Long: `Logical split copies the incid of the selected features to a new incid on
the same site and moves the features to it. The source incid must keep at
least one feature.

Example:
  hlutool split logical osgb1/00002 osgb2/00001`,
	Args: cobra.MinimumNArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runSplitLogical),
}

var splitPhysicalCmd = &cobra.Command{
	Use:   "physical <toid/fragid>",
	Short: "Explode a multi-part feature into one fragment per part",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.DefaultOptions(), runSplitPhysical),
}

func init() {
	rootCmd.AddCommand(splitCmd)
	splitCmd.AddCommand(splitLogicalCmd, splitPhysicalCmd)
}

func splitEngine(app *appctx.App) *split.Engine {
	return split.New(app.Session, app.Store, app.Layer, split.WithLogger(app.Logger), split.WithMetrics(app.Metrics))
}

func runSplitLogical(app *appctx.App, cmd *cobra.Command, args []string) error {
	keys, err := parseFeatureKeys(args)
	if err != nil {
		return exitError(2, err)
	}

	res, err := splitEngine(app).LogicalSplit(cmd.Context(), keys)
	if err != nil {
		return err
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(res, render.Table{
		Headers: []string{"SOURCE", "NEW", "FEATURES", "HISTORY"},
		Rows:    [][]string{{res.SourceIncid, res.NewIncid, strconv.Itoa(res.Features), strconv.Itoa(len(res.HistoryIDs))}},
	})
}

func runSplitPhysical(app *appctx.App, cmd *cobra.Command, args []string) error {
	keys, err := parseFeatureKeys(args)
	if err != nil {
		return exitError(2, err)
	}

	res, err := splitEngine(app).PhysicalSplit(cmd.Context(), keys[0])
	if err != nil {
		return err
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(res, render.Table{
		Headers: []string{"INCID", "TOID", "FRAGMENTS", "HISTORY"},
		Rows:    [][]string{{res.Incid, res.Toid, strings.Join(res.Fragments, ","), strconv.Itoa(len(res.HistoryIDs))}},
	})
}
