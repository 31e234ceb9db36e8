package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/store"
	"github.com/lherron/hlutool/internal/testutil"
)

func TestPolygonsVerify(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS",
		testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0},
		testutil.Fragment{Toid: "osgb1", FragID: "00002", X: 1})

	polygonsVerify = true
	defer func() { polygonsVerify = false }()

	cmd, out, _ := testCommand("")
	if err := runPolygons(app, cmd, []string{"2024:0000001"}); err != nil {
		t.Fatalf("runPolygons failed: %v", err)
	}
	want := "TOID   FRAG   PRIMARY  SECONDARY  LENGTH  AREA\n" +
		"-----  -----  -------  ---------  ------  ----\n" +
		"osgb1  00001  GRASS               4.00    1.00\n" +
		"osgb1  00002  GRASS               4.00    1.00\n"
	if out.String() != want {
		t.Errorf("table mismatch:\n%s\nwant\n%s", out.String(), want)
	}

	// A shadow row without a feature is reported
	ctx := context.Background()
	extra := domain.IncidPolygon{Incid: "2024:0000001", Toid: "osgb9", ToidFragID: "00001", HabPrimary: domain.NullString("GRASS")}
	if err := env.Store.WithTx(ctx, func(tx *store.Tx) error { return tx.InsertPolygon(ctx, extra) }); err != nil {
		t.Fatalf("Failed to insert polygon: %v", err)
	}

	cmd, _, _ = testCommand("")
	err := runPolygons(app, cmd, []string{"2024:0000001"})
	var desync *domain.DesyncError
	if !errors.As(err, &desync) {
		t.Fatalf("Expected desync error, got %v", err)
	}
	if desync.Incid != "2024:0000001" {
		t.Errorf("Desync reported for %q", desync.Incid)
	}
}

func TestPolygonsJSON(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS", testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0})
	app.Config.Output = "json"

	cmd, out, _ := testCommand("")
	if err := runPolygons(app, cmd, []string{"2024:0000001"}); err != nil {
		t.Fatalf("runPolygons failed: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(out.String()), "[") || !strings.Contains(out.String(), "osgb1") {
		t.Errorf("Expected a JSON array, got:\n%s", out.String())
	}
}

func TestSplitLogicalCommand(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS",
		testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0},
		testutil.Fragment{Toid: "osgb2", FragID: "00001", X: 2})

	cmd, out, _ := testCommand("")
	if err := runSplitLogical(app, cmd, []string{"osgb2"}); err != nil {
		t.Fatalf("runSplitLogical failed: %v", err)
	}
	if !strings.Contains(out.String(), "2024:0000001  2024:0000002") {
		t.Errorf("Expected source and new incid, got:\n%s", out.String())
	}
	if got := len(env.Features(t, "2024:0000002")); got != 1 {
		t.Errorf("Expected 1 feature on the new incid, got %d", got)
	}

	// The source incid must keep a feature
	cmd, _, _ = testCommand("")
	if err := runSplitLogical(app, cmd, []string{"osgb1/00001"}); ExitCode(err) != 2 {
		t.Errorf("Expected exit code 2, got %d (%v)", ExitCode(err), err)
	}
}

func TestSplitPhysicalCommand(t *testing.T) {
	app, env := createTestApp(t)
	env.SeedIncid(t, "2024:0000001", "GRASS")

	ctx := context.Background()
	multi := domain.IncidPolygon{Incid: "2024:0000001", Toid: "osgb1", ToidFragID: "00001", HabPrimary: domain.NullString("GRASS")}
	if err := env.Store.WithTx(ctx, func(tx *store.Tx) error { return tx.InsertPolygon(ctx, multi) }); err != nil {
		t.Fatalf("Failed to insert polygon: %v", err)
	}
	if err := env.Layer.AddFeature(ctx, multi, orb.MultiPolygon{testutil.Square(0, 0, 1), testutil.Square(3, 0, 1)}); err != nil {
		t.Fatalf("Failed to add feature: %v", err)
	}

	cmd, out, _ := testCommand("")
	if err := runSplitPhysical(app, cmd, []string{"osgb1/00001"}); err != nil {
		t.Fatalf("runSplitPhysical failed: %v", err)
	}
	if !strings.Contains(out.String(), "00001,00002") {
		t.Errorf("Expected both fragments, got:\n%s", out.String())
	}
	if got := len(env.Polygons(t, "2024:0000001")); got != 2 {
		t.Errorf("Expected 2 polygons after split, got %d", got)
	}
}
