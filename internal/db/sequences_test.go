package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return database
}

func TestCounterStartsAfterMax(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	spec := SequenceSpec{Table: "incid_secondary", IDColumn: "secondary_id"}

	counter, err := NewCounter(ctx, database, database.Dialect(), spec)
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}
	if got := counter.Next(); got != 1 {
		t.Fatalf("expected first id 1 on empty table, got %d", got)
	}

	_, err = database.Exec(`
		INSERT INTO incid (incid, created_user_id, created_date, last_modified_user_id, last_modified_date)
		VALUES ('2024:0000001', 'u', CURRENT_TIMESTAMP, 'u', CURRENT_TIMESTAMP)
	`)
	if err != nil {
		t.Fatalf("failed to insert incid: %v", err)
	}
	_, err = database.Exec(`
		INSERT INTO incid_secondary (secondary_id, incid, secondary_group, secondary_habitat)
		VALUES (41, '2024:0000001', 'g', 'h')
	`)
	if err != nil {
		t.Fatalf("failed to insert secondary: %v", err)
	}

	counter, err = NewCounter(ctx, database, database.Dialect(), spec)
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}
	ids := counter.Reserve(3)
	want := []int64{42, 43, 44}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected ids %v, got %v", want, ids)
		}
	}
}

func TestCounterReusesRolledBackIDs(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	spec := SequenceSpec{Table: "incid_secondary", IDColumn: "secondary_id"}

	_, err := database.Exec(`
		INSERT INTO incid (incid, created_user_id, created_date, last_modified_user_id, last_modified_date)
		VALUES ('2024:0000001', 'u', CURRENT_TIMESTAMP, 'u', CURRENT_TIMESTAMP)
	`)
	if err != nil {
		t.Fatalf("failed to insert incid: %v", err)
	}

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	counter, err := NewCounter(ctx, tx, database.Dialect(), spec)
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}
	ids := counter.Reserve(2)
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO incid_secondary (secondary_id, incid, secondary_group, secondary_habitat)
			VALUES (?, '2024:0000001', 'g', 'h')
		`, id)
		if err != nil {
			t.Fatalf("failed to insert secondary %d: %v", id, err)
		}
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}

	counter, err = NewCounter(ctx, database, database.Dialect(), spec)
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}
	if got := counter.Next(); got != ids[0] {
		t.Errorf("expected rolled back id %d to be handed out again, got %d", ids[0], got)
	}
}

func TestKeyGaps(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	_, err := database.Exec(`
		INSERT INTO incid (incid, created_user_id, created_date, last_modified_user_id, last_modified_date)
		VALUES ('2024:0000001', 'u', CURRENT_TIMESTAMP, 'u', CURRENT_TIMESTAMP)
	`)
	if err != nil {
		t.Fatalf("failed to insert incid: %v", err)
	}
	_, err = database.Exec(`
		INSERT INTO incid_bap (bap_id, incid, bap_habitat) VALUES (1, '2024:0000001', 'a'), (5, '2024:0000001', 'b')
	`)
	if err != nil {
		t.Fatalf("failed to insert bap rows: %v", err)
	}

	gaps, err := KeyGaps(ctx, database, database.Dialect(), DefaultSequenceSpecs())
	if err != nil {
		t.Fatalf("KeyGaps failed: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d: %+v", len(gaps), gaps)
	}
	if gaps[0].Table != "incid_bap" || gaps[0].MaxID != 5 || gaps[0].Count != 2 {
		t.Errorf("unexpected gap: %+v", gaps[0])
	}
}

func TestMigrationsSeedLookups(t *testing.T) {
	database := openTestDB(t)

	var count int
	if err := database.QueryRow("SELECT COUNT(*) FROM lut_operation").Scan(&count); err != nil {
		t.Fatalf("failed to count operations: %v", err)
	}
	if count == 0 {
		t.Fatal("expected lut_operation to be seeded")
	}

	applied, err := database.MigrateWithInfo()
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected no migrations on second run, got %v", applied)
	}
}
