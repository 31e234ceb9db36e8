package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/render"
	"github.com/lherron/hlutool/internal/shadow"
	"github.com/lherron/hlutool/internal/sqlfilter"
	"github.com/lherron/hlutool/internal/store"
)

var polygonsCmd = &cobra.Command{
	Use:   "polygons <incid>",
	Short: "List the polygons of an incid",
	Long: `Polygons lists the shadow rows that carry an incid. With --verify the
rows are compared against the features of the GIS layer and any difference
is reported as an error.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runPolygons),
}

var polygonsVerify bool

func init() {
	rootCmd.AddCommand(polygonsCmd)
	polygonsCmd.Flags().BoolVar(&polygonsVerify, "verify", false, "Check the rows against the GIS layer")
}

func runPolygons(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	incid := args[0]

	var polygons []domain.IncidPolygon
	err := app.Store.View(ctx, func(tx *store.Tx) error {
		var err error
		if polygons, err = tx.PolygonsForIncid(ctx, incid); err != nil {
			return err
		}
		if !polygonsVerify {
			return nil
		}
		return verifyIncid(cmd, app, tx, incid)
	})
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(polygons))
	for _, p := range polygons {
		rows = append(rows, []string{
			p.Toid,
			p.ToidFragID,
			p.HabPrimary.String,
			p.HabSecond.String,
			formatFloat(p.ShapeLength.Float64, p.ShapeLength.Valid),
			formatFloat(p.ShapeArea.Float64, p.ShapeArea.Valid),
		})
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(polygons, render.Table{
		Headers: []string{"TOID", "FRAG", "PRIMARY", "SECONDARY", "LENGTH", "AREA"},
		Rows:    rows,
	})
}

// verifyIncid compares an incid's shadow rows with the layer's features
func verifyIncid(cmd *cobra.Command, app *appctx.App, tx *store.Tx, incid string) error {
	ctx := cmd.Context()
	features, err := app.Layer.Features(ctx, sqlfilter.Incids([]string{incid}, 1, ""))
	if err != nil {
		return err
	}
	keys := make([]domain.FeatureKey, len(features))
	for i, f := range features {
		keys[i] = f.Key()
	}
	reconciler := shadow.New(app.Session.PageSize, shadow.WithLogger(app.Logger))
	return reconciler.Verify(ctx, tx, incid, keys)
}

func formatFloat(v float64, valid bool) string {
	if !valid {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
