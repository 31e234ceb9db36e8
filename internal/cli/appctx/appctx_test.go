package appctx

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/lherron/hlutool/internal/db"
)

func testCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("db", "", "Database path")
	cmd.Flags().String("gis", "", "Feature layer path")
	cmd.Flags().String("as", "", "User")
	cmd.Flags().String("output", "", "Output format")
	return cmd
}

func migratedDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "hlu.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	database.Close()
	return dbPath
}

func TestBootstrap_ConfigOnly(t *testing.T) {
	t.Setenv("HLU_DB_PATH", filepath.Join(t.TempDir(), "test.db"))

	app, err := Bootstrap(testCommand(), Options{})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Config == nil {
		t.Error("Config should not be nil")
	}
	if app.DB != nil || app.Layer != nil {
		t.Error("DB and layer should be nil when not requested")
	}
	if app.Logger == nil || app.Metrics == nil {
		t.Error("Logger and metrics should always be set")
	}
}

func TestBootstrap_WithDBAndLayer(t *testing.T) {
	dbPath := migratedDB(t)
	t.Setenv("HLU_DB_PATH", dbPath)
	t.Setenv("HLU_USER", "")
	t.Setenv("HLU_GIS_PATH", "")

	cmd := testCommand()
	if err := cmd.Flags().Set("as", "surveyor"); err != nil {
		t.Fatal(err)
	}

	app, err := Bootstrap(cmd, DefaultOptions())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.DB == nil || app.Store == nil {
		t.Fatal("DB and store should be open")
	}
	if app.Layer == nil {
		t.Fatal("Layer should be open")
	}
	if app.Session.UserID != "surveyor" {
		t.Errorf("Session user = %q, want surveyor", app.Session.UserID)
	}
	if want := strings.TrimSuffix(dbPath, ".db") + ".gis.db"; app.Layer.Path() != want {
		t.Errorf("Layer path = %q, want %q", app.Layer.Path(), want)
	}

	if err := app.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := app.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestBootstrap_DBFlagOverride(t *testing.T) {
	t.Setenv("HLU_DB_PATH", filepath.Join(t.TempDir(), "ignored.db"))
	t.Setenv("HLU_GIS_PATH", "")
	dbPath := migratedDB(t)

	cmd := testCommand()
	if err := cmd.Flags().Set("db", dbPath); err != nil {
		t.Fatal(err)
	}

	app, err := Bootstrap(cmd, DBOnly())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.DB.Path() != dbPath {
		t.Errorf("DB path = %q, want %q", app.DB.Path(), dbPath)
	}
	if app.Config.GISPath != strings.TrimSuffix(dbPath, ".db")+".gis.db" {
		t.Errorf("GIS path not derived from --db: %q", app.Config.GISPath)
	}
}

func TestBootstrap_RequiresMigration(t *testing.T) {
	t.Setenv("HLU_DB_PATH", filepath.Join(t.TempDir(), "fresh.db"))

	_, err := Bootstrap(testCommand(), DBOnly())
	if err == nil {
		t.Fatal("Expected error for unmigrated database")
	}
	if !strings.Contains(err.Error(), "hluadm migrate") {
		t.Errorf("Error should point at hluadm migrate, got %v", err)
	}
}

func TestBootstrap_InvalidOutput(t *testing.T) {
	t.Setenv("HLU_DB_PATH", filepath.Join(t.TempDir(), "test.db"))

	cmd := testCommand()
	if err := cmd.Flags().Set("output", "xml"); err != nil {
		t.Fatal(err)
	}
	if _, err := Bootstrap(cmd, Options{}); err == nil {
		t.Error("Expected error for invalid output format")
	}
}
