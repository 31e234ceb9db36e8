package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/gis"
	"github.com/lherron/hlutool/internal/render"
	"github.com/lherron/hlutool/internal/saga"
	"github.com/lherron/hlutool/internal/store"
)

var importAdmCmd = &cobra.Command{
	Use:   "import <file.geojson>",
	Short: "Load features from a GeoJSON feature collection",
	Long: `Import adds every feature of a GeoJSON feature collection to the GIS
layer and writes the matching polygon rows to the database. Features need
incid and toid properties; toidfragid defaults to 00001 and habprimary,
habsecond, determqty and interpqty are copied when present. Incids that do not
exist yet are created from the attributes of their first feature.

If the database write fails the features are removed from the layer again.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runImportAdm),
}

func init() {
	rootAdmCmd.AddCommand(importAdmCmd)
}

// importSummary describes a completed import
type importSummary struct {
	Features int      `json:"features" yaml:"features"`
	Created  []string `json:"created_incids" yaml:"created_incids"`
}

func runImportAdm(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := os.ReadFile(args[0])
	if err != nil {
		return exitError(2, fmt.Errorf("failed to read %s: %w", args[0], err))
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return exitError(2, fmt.Errorf("failed to parse geojson: %w", err))
	}

	toids := make([]string, 0, len(fc.Features))
	for _, f := range fc.Features {
		toids = append(toids, f.Properties.MustString(gis.ColToid, ""))
	}

	summary, err := importFeatures(ctx, app, data, toids, time.Now())
	if err != nil {
		return err
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(summary, render.Table{
		Headers: []string{"FEATURES", "CREATED_INCIDS"},
		Rows:    [][]string{{strconv.Itoa(summary.Features), strconv.Itoa(len(summary.Created))}},
	})
}

// importFeatures adds the collection to the layer and the database as one
// unit, restoring the touched toids in the layer when the database write fails
func importFeatures(ctx context.Context, app *appctx.App, data []byte, toids []string, now time.Time) (*importSummary, error) {
	const op = "import"
	cp, err := app.Layer.Checkpoint(ctx, toids)
	if err != nil {
		return nil, err
	}

	tx, err := app.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		imported []domain.IncidPolygon
		summary  = &importSummary{}
	)
	run := saga.New(op, saga.WithLogger(app.Logger)).
		Step("gis import", func(ctx context.Context) error {
			imported, err = app.Layer.ImportGeoJSON(ctx, bytes.NewReader(data))
			return err
		}, func(ctx context.Context) error {
			return app.Layer.Restore(ctx, cp)
		}).
		Step("database", func(ctx context.Context) error {
			ts := domain.Truncate(now)
			for _, p := range imported {
				created, err := ensureIncid(ctx, tx, p, app.Session.UserID, ts)
				if err != nil {
					return err
				}
				if created {
					summary.Created = append(summary.Created, p.Incid)
				}
				if err := tx.InsertPolygon(ctx, p); err != nil {
					return err
				}
			}
			summary.Features = len(imported)
			return tx.Commit()
		}, nil)

	if err := run.Run(ctx); err != nil {
		var se *saga.Error
		if errors.As(err, &se) {
			return nil, &domain.OperationError{Op: op, Err: se.Err, CompensationErr: se.Compensation}
		}
		return nil, &domain.OperationError{Op: op, Err: err}
	}
	app.Logger.Info("features imported", "features", summary.Features, "created_incids", len(summary.Created))
	return summary, nil
}

// ensureIncid creates the incid of p from p's shared attributes unless it exists
func ensureIncid(ctx context.Context, tx *store.Tx, p domain.IncidPolygon, userID string, ts time.Time) (bool, error) {
	_, err := tx.GetIncid(ctx, p.Incid)
	if err == nil {
		return false, nil
	}
	if !domain.IsNotFound(err) {
		return false, err
	}
	attrs := p.Shared()
	inc := domain.Incid{
		Incid:                 p.Incid,
		HabitatPrimary:        attrs.HabPrimary,
		HabitatSecondaries:    attrs.HabSecond,
		QualityDetermination:  attrs.DetermQty,
		QualityInterpretation: attrs.InterpQty,
		CreatedUser:           userID,
		CreatedDate:           ts,
		LastModifiedUser:      userID,
		LastModifiedDate:      ts,
	}
	return true, tx.InsertIncid(ctx, inc)
}
