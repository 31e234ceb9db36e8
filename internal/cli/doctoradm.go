package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/render"
	"github.com/lherron/hlutool/internal/shadow"
	"github.com/lherron/hlutool/internal/sqlfilter"
	"github.com/lherron/hlutool/internal/store"
)

var doctorAdmCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the database and the GIS layer for drift",
	Long: `Doctor checks that every incid's polygon rows match the features that
carry it in the GIS layer, that every incid still has polygons, and that the
MAX+1 allocated keys have no gaps. Gaps are reported as warnings; the other
checks fail the command.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runDoctorAdm),
}

func init() {
	rootAdmCmd.AddCommand(doctorAdmCmd)
}

type checkResultAdm struct {
	Name    string   `json:"name" yaml:"name"`
	Status  string   `json:"status" yaml:"status"` // "ok", "warning", "error"
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
	Details []string `json:"details,omitempty" yaml:"details,omitempty"`
}

type doctorReportAdm struct {
	DBPath        string           `json:"db_path" yaml:"db_path"`
	GISPath       string           `json:"gis_path" yaml:"gis_path"`
	Checks        []checkResultAdm `json:"checks" yaml:"checks"`
	Warnings      int              `json:"warnings" yaml:"warnings"`
	Errors        int              `json:"errors" yaml:"errors"`
	OverallStatus string           `json:"overall_status" yaml:"overall_status"`
}

func (r *doctorReportAdm) add(c checkResultAdm) {
	switch c.Status {
	case "warning":
		r.Warnings++
	case "error":
		r.Errors++
	}
	r.Checks = append(r.Checks, c)
}

func runDoctorAdm(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	report := &doctorReportAdm{DBPath: app.Config.DBPath, GISPath: app.Layer.Path(), OverallStatus: "ok"}

	err := app.Store.View(ctx, func(tx *store.Tx) error {
		gaps, err := db.KeyGaps(ctx, tx, tx.Dialect(), db.DefaultSequenceSpecs())
		if err != nil {
			return err
		}
		report.add(keyGapCheck(gaps))

		sync, orphans, err := checkIncids(ctx, app, tx)
		if err != nil {
			return err
		}
		report.add(sync)
		report.add(orphans)
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case report.Errors > 0:
		report.OverallStatus = "error"
	case report.Warnings > 0:
		report.OverallStatus = "warning"
	}

	rows := make([][]string, 0, len(report.Checks))
	for _, c := range report.Checks {
		rows = append(rows, []string{c.Name, c.Status, c.Message})
		for _, d := range c.Details {
			rows = append(rows, []string{"", "", "  " + d})
		}
	}
	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := r.Render(report, render.Table{Headers: []string{"CHECK", "STATUS", "MESSAGE"}, Rows: rows}); err != nil {
		return err
	}
	if report.Errors > 0 {
		return exitError(1, fmt.Errorf("doctor found %d error(s)", report.Errors))
	}
	return nil
}

func keyGapCheck(gaps []db.KeyGap) checkResultAdm {
	c := checkResultAdm{Name: "key_gaps", Status: "ok", Message: "keys are dense"}
	if len(gaps) == 0 {
		return c
	}
	c.Status = "warning"
	c.Message = fmt.Sprintf("%d table(s) have burned or deleted keys", len(gaps))
	for _, g := range gaps {
		c.Details = append(c.Details, fmt.Sprintf("%s: max id %d, %d rows", g.Table, g.MaxID, g.Count))
	}
	return c
}

// checkIncids pages through every incid, verifying its polygon rows against
// the layer and collecting incids without polygons
func checkIncids(ctx context.Context, app *appctx.App, tx *store.Tx) (sync, orphans checkResultAdm, err error) {
	sync = checkResultAdm{Name: "shadow_sync", Status: "ok"}
	orphans = checkResultAdm{Name: "orphan_incids", Status: "ok", Message: "every incid has polygons"}
	reconciler := shadow.New(app.Session.PageSize, shadow.WithLogger(app.Logger))

	checked := 0
	after := ""
	for {
		page, err := tx.ListIncids(ctx, after, app.Session.PageSize)
		if err != nil {
			return sync, orphans, err
		}
		if len(page) == 0 {
			break
		}

		ids := make([]string, len(page))
		for i, inc := range page {
			ids[i] = inc.Incid
			features, err := app.Layer.Features(ctx, sqlfilter.Incids([]string{inc.Incid}, 1, ""))
			if err != nil {
				return sync, orphans, err
			}
			keys := make([]domain.FeatureKey, len(features))
			for j, f := range features {
				keys[j] = f.Key()
			}
			if err := reconciler.Verify(ctx, tx, inc.Incid, keys); err != nil {
				var desync *domain.DesyncError
				if !errors.As(err, &desync) {
					return sync, orphans, err
				}
				sync.Details = append(sync.Details, desync.Error())
			}
		}
		checked += len(page)

		found, err := tx.OrphanIncids(ctx, ids, app.Session.PageSize)
		if err != nil {
			return sync, orphans, err
		}
		orphans.Details = append(orphans.Details, found...)
		after = page[len(page)-1].Incid
	}

	sync.Message = fmt.Sprintf("%d incid(s) checked", checked)
	if len(sync.Details) > 0 {
		sync.Status = "error"
		sync.Message = fmt.Sprintf("%d of %d incid(s) out of step with the GIS layer", len(sync.Details), checked)
	}
	if len(orphans.Details) > 0 {
		orphans.Status = "error"
		orphans.Message = fmt.Sprintf("%d incid(s) without polygons", len(orphans.Details))
	}
	return sync, orphans, nil
}
