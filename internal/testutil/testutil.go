package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/gis"
	"github.com/lherron/hlutool/internal/store"
)

// TempDB creates a temporary migrated SQLite database for testing
func TempDB(t *testing.T) (*db.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})
	return database, dbPath
}

// Env is a migrated database paired with a polygon feature layer
type Env struct {
	DB      *db.DB
	Store   *store.Store
	Layer   *gis.FeatureLayer
	Session domain.Session
}

// NewEnv creates an empty environment with a polygon layer and a session for
// user "tester" resolving to reason SURV and process HAB.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	database, _ := TempDB(t)

	layer, err := gis.OpenFeatureLayer(filepath.Join(t.TempDir(), "layer.db"), domain.GeometryPolygon)
	if err != nil {
		t.Fatalf("Failed to open feature layer: %v", err)
	}
	t.Cleanup(func() {
		layer.Close()
	})

	return &Env{
		DB:    database,
		Store: store.New(database),
		Layer: layer,
		Session: domain.Session{
			UserID:       "tester",
			Reason:       "SURV",
			Process:      "Habitat Mapping",
			GeometryType: domain.GeometryPolygon,
			PageSize:     100,
		},
	}
}

// Fragment is a unit square feature placed at X on the x axis
type Fragment struct {
	Toid   string
	FragID string
	X      float64
}

// Square returns an axis-aligned square polygon
func Square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

// SeedIncid writes an incid and its fragments to both the database and the layer
func (e *Env) SeedIncid(t *testing.T, incid, habitat string, frags ...Fragment) domain.Incid {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	inc := domain.Incid{
		Incid:            incid,
		HabitatPrimary:   domain.NullString(habitat),
		CreatedUser:      "seed",
		CreatedDate:      created,
		LastModifiedUser: "seed",
		LastModifiedDate: created,
	}

	err := e.Store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertIncid(ctx, inc); err != nil {
			return err
		}
		for _, f := range frags {
			p := domain.IncidPolygon{Incid: incid, Toid: f.Toid, ToidFragID: f.FragID}.WithShared(inc.Shared())
			p.ShapeLength = nullFloat(4)
			p.ShapeArea = nullFloat(1)
			if err := tx.InsertPolygon(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to seed incid %s: %v", incid, err)
	}

	for _, f := range frags {
		p := domain.IncidPolygon{Incid: incid, Toid: f.Toid, ToidFragID: f.FragID}.WithShared(inc.Shared())
		if err := e.Layer.AddFeature(ctx, p, Square(f.X, 0, 1)); err != nil {
			t.Fatalf("Failed to add feature %s/%s: %v", f.Toid, f.FragID, err)
		}
	}
	return inc
}

// Incid returns a stored incid, or nil when it does not exist
func (e *Env) Incid(t *testing.T, incid string) *domain.Incid {
	t.Helper()
	var out *domain.Incid
	err := e.Store.View(context.Background(), func(tx *store.Tx) error {
		inc, err := tx.GetIncid(context.Background(), incid)
		if err != nil {
			if domain.IsNotFound(err) {
				return nil
			}
			return err
		}
		out = inc
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to read incid %s: %v", incid, err)
	}
	return out
}

// Polygons returns the shadow rows of an incid
func (e *Env) Polygons(t *testing.T, incid string) []domain.IncidPolygon {
	t.Helper()
	var out []domain.IncidPolygon
	err := e.Store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		out, err = tx.PolygonsForIncid(context.Background(), incid)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to read polygons of %s: %v", incid, err)
	}
	return out
}

// History returns every history row that names incid
func (e *Env) History(t *testing.T, incid string) []domain.HistoryRecord {
	t.Helper()
	var out []domain.HistoryRecord
	err := e.Store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		out, err = tx.ListHistory(context.Background(), store.HistoryQuery{Incid: incid})
		return err
	})
	if err != nil {
		t.Fatalf("Failed to read history of %s: %v", incid, err)
	}
	return out
}

// Features returns the layer features of an incid
func (e *Env) Features(t *testing.T, incid string) []domain.IncidPolygon {
	t.Helper()
	var out []domain.IncidPolygon
	all, err := e.Layer.Features(context.Background(), nil)
	if err != nil {
		t.Fatalf("Failed to read features: %v", err)
	}
	for _, f := range all {
		if f.Incid == incid {
			out = append(out, f)
		}
	}
	return out
}

// WriteFile writes content to a file in dir
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}
