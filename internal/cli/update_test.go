package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/testutil"
)

func resetUpdateGlobals() {
	updatePrimary = ""
	updateDetermination = ""
	updateInterpretation = ""
	updateSecondaryAdd = nil
	updateSecondaryRemove = nil
	updateBapAdd = nil
	updateBapRemove = nil
	updateFile = ""
}

// updateCommand returns a command carrying the update flags, set from args
func updateCommand(t *testing.T, flags ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	resetUpdateGlobals()
	t.Cleanup(resetUpdateGlobals)

	cmd, out, _ := testCommand("")
	cmd.Flags().StringVar(&updatePrimary, "primary", "", "")
	cmd.Flags().StringVar(&updateDetermination, "determination", "", "")
	cmd.Flags().StringVar(&updateInterpretation, "interpretation", "", "")
	cmd.Flags().StringArrayVar(&updateSecondaryAdd, "secondary-add", nil, "")
	cmd.Flags().StringArrayVar(&updateSecondaryRemove, "secondary-remove", nil, "")
	cmd.Flags().StringArrayVar(&updateBapAdd, "bap-add", nil, "")
	cmd.Flags().StringArrayVar(&updateBapRemove, "bap-remove", nil, "")
	cmd.Flags().StringVarP(&updateFile, "file", "f", "", "")
	for i := 0; i+1 < len(flags); i += 2 {
		if err := cmd.Flags().Set(flags[i], flags[i+1]); err != nil {
			t.Fatalf("Failed to set --%s: %v", flags[i], err)
		}
	}
	return cmd, out
}

func TestUpdateFromFlags(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS",
		testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0},
		testutil.Fragment{Toid: "osgb2", FragID: "00001", X: 2})

	cmd, out := updateCommand(t,
		"primary", "WOOD",
		"secondary-add", "G:S1",
		"secondary-add", "G:S2",
		"bap-add", "B1",
	)
	if err := runUpdate(app, cmd, []string{"2024:0000001"}); err != nil {
		t.Fatalf("runUpdate failed: %v", err)
	}
	if !strings.Contains(out.String(), "2024:0000001  true") {
		t.Errorf("Expected a saved row, got:\n%s", out.String())
	}

	stored := env.Incid(t, "2024:0000001")
	if stored.HabitatPrimary.String != "WOOD" {
		t.Errorf("Primary = %q, want WOOD", stored.HabitatPrimary.String)
	}
	if stored.HabitatSecondaries.String != "S1.S2" {
		t.Errorf("Secondaries = %q, want S1.S2", stored.HabitatSecondaries.String)
	}
	if stored.LastModifiedUser != "tester" {
		t.Errorf("Last modified by %q, want tester", stored.LastModifiedUser)
	}
	for _, f := range env.Features(t, "2024:0000001") {
		if f.HabPrimary.String != "WOOD" || f.HabSecond.String != "S1.S2" {
			t.Errorf("Feature %s not updated: %+v", f.Key(), f)
		}
	}
	if got := len(env.History(t, "2024:0000001")); got != 2 {
		t.Errorf("Expected one history row per feature, got %d", got)
	}
}

func TestUpdateFromFileThenFlags(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS", testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0})

	path := testutil.WriteFile(t, t.TempDir(), "edit.yaml", `primary: HEATH
determination: D1
secondary_add: ["G:S1"]
`)
	cmd, _ := updateCommand(t, "file", path, "primary", "WOOD")
	if err := runUpdate(app, cmd, []string{"2024:0000001"}); err != nil {
		t.Fatalf("runUpdate failed: %v", err)
	}

	stored := env.Incid(t, "2024:0000001")
	if stored.HabitatPrimary.String != "WOOD" {
		t.Errorf("Flags should apply after the file: primary = %q", stored.HabitatPrimary.String)
	}
	if stored.QualityDetermination.String != "D1" {
		t.Errorf("Determination = %q, want D1", stored.QualityDetermination.String)
	}
	if stored.HabitatSecondaries.String != "S1" {
		t.Errorf("Secondaries = %q, want S1", stored.HabitatSecondaries.String)
	}
}

func TestUpdateFromJSONFile(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS", testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0})

	path := testutil.WriteFile(t, t.TempDir(), "edit.json", `{"interpretation": "I2", "bap_add": ["B7:auto"]}`)
	cmd, _ := updateCommand(t, "file", path)
	if err := runUpdate(app, cmd, []string{"2024:0000001"}); err != nil {
		t.Fatalf("runUpdate failed: %v", err)
	}
	if got := env.Incid(t, "2024:0000001").QualityInterpretation.String; got != "I2" {
		t.Errorf("Interpretation = %q, want I2", got)
	}
}

func TestUpdateRejectsBadEdits(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS", testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0})

	tests := []struct {
		name  string
		flags []string
	}{
		{name: "secondary without group", flags: []string{"secondary-add", "S1"}},
		{name: "unknown bap source", flags: []string{"bap-add", "B1:robot"}},
		{name: "misspelt file key", flags: []string{"file", testutil.WriteFile(t, t.TempDir(), "bad.yaml", "primry: WOOD\n")}},
		{name: "missing file", flags: []string{"file", "/nonexistent/edit.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _ := updateCommand(t, tt.flags...)
			err := runUpdate(app, cmd, []string{"2024:0000001"})
			if ExitCode(err) != 2 {
				t.Errorf("Expected exit code 2, got %d (%v)", ExitCode(err), err)
			}
		})
	}

	if got := env.Incid(t, "2024:0000001").HabitatPrimary.String; got != "GRASS" {
		t.Errorf("Rejected edits must not change the incid, primary = %q", got)
	}
}

func TestUpdateUnknownIncid(t *testing.T) {
	app, _ := createTestApp(t)
	cmd, _ := updateCommand(t, "primary", "WOOD")
	err := runUpdate(app, cmd, []string{"2024:0000404"})
	if !domain.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestShow(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS", testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0})
	cmd, _ := updateCommand(t, "secondary-add", "G:S1", "bap-add", "B1:auto")
	if err := runUpdate(app, cmd, []string{"2024:0000001"}); err != nil {
		t.Fatalf("runUpdate failed: %v", err)
	}

	showCmd, out, _ := testCommand("")
	if err := runShow(app, showCmd, []string{"2024:0000001"}); err != nil {
		t.Fatalf("runShow failed: %v", err)
	}
	for _, want := range []string{"habitat_primary", "GRASS", "secondary", "G:S1", "bap", "B1:auto"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, out.String())
		}
	}

	app.Config.Output = "yaml"
	showCmd, out, _ = testCommand("")
	if err := runShow(app, showCmd, []string{"2024:0000001"}); err != nil {
		t.Fatalf("runShow yaml failed: %v", err)
	}
	if !strings.Contains(out.String(), "secondary:") {
		t.Errorf("yaml output missing secondary list:\n%s", out.String())
	}
}
