package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/cli/appctx"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/parse"
	"github.com/lherron/hlutool/internal/render"
	"github.com/lherron/hlutool/internal/update"
)

var updateCmd = &cobra.Command{
	Use:   "update <incid>",
	Short: "Edit an incid and push its attributes to every feature",
	Long: `Update edits an incid and its child rows, then writes the shared
attributes to the polygon shadow copy and the GIS features in one unit.
Every affected feature gets a history row.

Edits come from flags, from a YAML or JSON file, or both (flags apply last):

  primary: WOOD
  determination: D1
  interpretation: I1
  secondary_add: ["G:S1", "G:S2"]
  secondary_remove: [S3]
  bap_add: ["B1:user"]
  bap_remove: [B2]

Examples:
  hlutool update 2024:0000001 --primary WOOD --secondary-add G:S1
  hlutool update 2024:0000001 --file edit.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runUpdate),
}

var (
	updatePrimary         string
	updateDetermination   string
	updateInterpretation  string
	updateSecondaryAdd    []string
	updateSecondaryRemove []string
	updateBapAdd          []string
	updateBapRemove       []string
	updateFile            string
)

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().StringVar(&updatePrimary, "primary", "", "Primary habitat code")
	updateCmd.Flags().StringVar(&updateDetermination, "determination", "", "Determination quality")
	updateCmd.Flags().StringVar(&updateInterpretation, "interpretation", "", "Interpretation quality")
	updateCmd.Flags().StringArrayVar(&updateSecondaryAdd, "secondary-add", nil, "Add a secondary habitat as group:code (repeatable)")
	updateCmd.Flags().StringArrayVar(&updateSecondaryRemove, "secondary-remove", nil, "Remove a secondary habitat code (repeatable)")
	updateCmd.Flags().StringArrayVar(&updateBapAdd, "bap-add", nil, "Add a BAP habitat as code[:auto|user] (repeatable)")
	updateCmd.Flags().StringArrayVar(&updateBapRemove, "bap-remove", nil, "Remove a BAP habitat code (repeatable)")
	updateCmd.Flags().StringVarP(&updateFile, "file", "f", "", "YAML or JSON file describing the edit")
}

// recordEdit is a declarative change to a record
type recordEdit struct {
	Primary         *string  `json:"primary" yaml:"primary"`
	Determination   *string  `json:"determination" yaml:"determination"`
	Interpretation  *string  `json:"interpretation" yaml:"interpretation"`
	SecondaryAdd    []string `json:"secondary_add" yaml:"secondary_add"`
	SecondaryRemove []string `json:"secondary_remove" yaml:"secondary_remove"`
	BapAdd          []string `json:"bap_add" yaml:"bap_add"`
	BapRemove       []string `json:"bap_remove" yaml:"bap_remove"`
}

func loadRecordEdit(path string) (recordEdit, error) {
	var edit recordEdit
	data, err := os.ReadFile(path)
	if err != nil {
		return edit, fmt.Errorf("failed to read edit file: %w", err)
	}
	if err := parse.Decode(data, parse.FormatForPath(path), &edit); err != nil {
		return edit, fmt.Errorf("failed to parse edit file: %w", err)
	}
	return edit, nil
}

// flagEdit collects the edit expressed on the command line
func flagEdit(cmd *cobra.Command) recordEdit {
	edit := recordEdit{
		SecondaryAdd:    updateSecondaryAdd,
		SecondaryRemove: updateSecondaryRemove,
		BapAdd:          updateBapAdd,
		BapRemove:       updateBapRemove,
	}
	if cmd.Flags().Changed("primary") {
		edit.Primary = &updatePrimary
	}
	if cmd.Flags().Changed("determination") {
		edit.Determination = &updateDetermination
	}
	if cmd.Flags().Changed("interpretation") {
		edit.Interpretation = &updateInterpretation
	}
	return edit
}

// apply stages the edit on rec
func (e recordEdit) apply(rec *update.Record) error {
	inc := &rec.Incid.Current
	if e.Primary != nil {
		inc.HabitatPrimary = domain.NullString(strings.TrimSpace(*e.Primary))
	}
	if e.Determination != nil {
		inc.QualityDetermination = domain.NullString(strings.TrimSpace(*e.Determination))
	}
	if e.Interpretation != nil {
		inc.QualityInterpretation = domain.NullString(strings.TrimSpace(*e.Interpretation))
	}

	for _, code := range e.SecondaryRemove {
		for i := range rec.Secondary {
			if rec.Secondary[i].Current.SecondaryHabitat == code {
				rec.Secondary[i].Deleted = true
			}
		}
	}
	for _, spec := range e.SecondaryAdd {
		group, code, ok := strings.Cut(spec, ":")
		if !ok || group == "" || code == "" {
			return fmt.Errorf("invalid secondary habitat %q: expected group:code", spec)
		}
		rec.AddSecondary(group, code)
	}

	for _, code := range e.BapRemove {
		for i := range rec.Bap {
			if rec.Bap[i].Current.BapHabitat == code {
				rec.Bap[i].Deleted = true
			}
		}
	}
	for _, spec := range e.BapAdd {
		code, source, _ := strings.Cut(spec, ":")
		if source == "" {
			source = string(domain.BapSourceUser)
		}
		if err := domain.ValidateBapSource(source); err != nil {
			return err
		}
		if code == "" {
			return fmt.Errorf("invalid bap habitat %q: expected code[:source]", spec)
		}
		rec.AddBap(code, domain.BapSource(source))
	}
	return nil
}

func runUpdate(app *appctx.App, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	incid := args[0]

	var edits []recordEdit
	if updateFile != "" {
		fileEdit, err := loadRecordEdit(updateFile)
		if err != nil {
			return exitError(2, err)
		}
		edits = append(edits, fileEdit)
	}
	edits = append(edits, flagEdit(cmd))

	rec, err := update.Load(ctx, app.Store, incid)
	if err != nil {
		return err
	}
	for _, e := range edits {
		if err := e.apply(rec); err != nil {
			return exitError(2, err)
		}
	}

	orchestrator := update.New(app.Session, update.PolicyFromConfig(app.Config), app.Store, app.Layer,
		update.WithLogger(app.Logger), update.WithMetrics(app.Metrics))
	res, err := orchestrator.Save(ctx, rec)
	if err != nil {
		return err
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(res, render.Table{
		Headers: []string{"INCID", "SAVED", "FEATURES", "HISTORY", "IHS_CLEARED", "OSMM_IGNORED"},
		Rows: [][]string{{
			incid,
			strconv.FormatBool(res.Saved),
			strconv.Itoa(res.Features),
			strconv.Itoa(len(res.HistoryIDs)),
			strconv.FormatBool(res.IHSCleared),
			strconv.FormatInt(res.OSMMIgnored, 10),
		}},
	})
}

var showCmd = &cobra.Command{
	Use:   "show <incid>",
	Short: "Show an incid with its secondary and BAP habitats",
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.DBOnly(), runShow),
}

func init() {
	rootCmd.AddCommand(showCmd)
}

// incidView is the rendered form of a record
type incidView struct {
	domain.Incid `yaml:",inline"`
	Secondary    []domain.SecondaryHabitat `json:"secondary" yaml:"secondary"`
	Bap          []domain.BapEnvironment   `json:"bap" yaml:"bap"`
}

func runShow(app *appctx.App, cmd *cobra.Command, args []string) error {
	rec, err := update.Load(cmd.Context(), app.Store, args[0])
	if err != nil {
		return err
	}

	view := incidView{Incid: rec.Incid.Current}
	for _, s := range rec.Secondary {
		view.Secondary = append(view.Secondary, s.Current)
	}
	for _, b := range rec.Bap {
		view.Bap = append(view.Bap, b.Current)
	}

	rows := [][]string{
		{"incid", view.Incid.Incid},
		{"habitat_primary", view.HabitatPrimary.String},
		{"habitat_secondaries", view.HabitatSecondaries.String},
		{"quality_determination", view.QualityDetermination.String},
		{"quality_interpretation", view.QualityInterpretation.String},
		{"last_modified", view.LastModifiedUser + " " + view.LastModifiedDate.Format("2006-01-02 15:04:05")},
	}
	for _, s := range view.Secondary {
		rows = append(rows, []string{"secondary", s.SecondaryGroup + ":" + s.SecondaryHabitat})
	}
	for _, b := range view.Bap {
		rows = append(rows, []string{"bap", b.BapHabitat + ":" + string(b.Source)})
	}

	r, err := app.Renderer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return r.Render(view, render.Table{Headers: []string{"FIELD", "VALUE"}, Rows: rows})
}
