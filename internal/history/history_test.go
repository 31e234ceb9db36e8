package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return store.New(database)
}

func testSession() domain.Session {
	return domain.Session{
		UserID:       "tester",
		Reason:       "SURV",
		Process:      "Habitat Mapping",
		GeometryType: domain.GeometryPolygon,
		PageSize:     100,
	}
}

func snapshotRow(incid, toid, frag string, length, area float64) domain.FeatureSnapshot {
	return domain.FeatureSnapshot{
		Columns: []string{"incid", "toid", "toidfragid", "habprimary", "shape_length", "shape_area"},
		Values: map[string]any{
			"incid": incid, "toid": toid, "toidfragid": frag, "habprimary": "",
			"shape_length": length, "shape_area": area,
		},
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"LogicalMerge", []string{"Logical", "Merge"}},
		{"OSMMUpdate", []string{"OSMM", "Update"}},
		{"AttributeUpdate", []string{"Attribute", "Update"}},
		{"Field Survey", []string{"Field", "Survey"}},
		{"bulk_update", []string{"bulk", "update"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, SplitWords(tt.in)); diff != "" {
				t.Errorf("SplitWords(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestDescriptionPattern(t *testing.T) {
	p := DescriptionPattern("LogicalMerge")
	assert.True(t, p.MatchString("Logical Merge"))
	assert.True(t, p.MatchString("  logical   merge "))
	assert.True(t, p.MatchString("LogicalMerge"))
	assert.False(t, p.MatchString("Logical Merge Undo"))
	assert.False(t, p.MatchString("Physical Merge"))
}

func TestRenameGeometry(t *testing.T) {
	cols := []string{"incid", "shape_length", "shape_area"}

	assert.Equal(t, map[string]string{"incid": "incid", "length": "shape_length", "area": "shape_area"},
		RenameGeometry(cols, domain.GeometryPolygon))
	assert.Equal(t, map[string]string{"incid": "incid", "length": "shape_length"},
		RenameGeometry(cols, domain.GeometryLine))
	assert.Equal(t, map[string]string{"incid": "incid"},
		RenameGeometry(cols, domain.GeometryPoint))
}

func TestMapColumns(t *testing.T) {
	audit := map[string]bool{"incid": true, "toid": true, "modified_habprimary": true, "modified_length": true}
	got := MapColumns(map[string]string{
		"incid": "incid", "toid": "toid", "habprimary": "habprimary", "length": "shape_length", "unknown": "unknown",
	}, audit)
	want := map[string]string{
		"incid": "incid", "toid": "toid", "modified_habprimary": "habprimary", "modified_length": "shape_length",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MapColumns mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteAssignsConsecutiveIDs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	w := NewWriter(testSession())
	ts := time.Date(2024, 5, 1, 10, 30, 15, 987654321, time.UTC)

	var first, second []int64
	err := s.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		first, err = w.Write(ctx, tx, nil, domain.Snapshot{
			snapshotRow("2024:0000001", "osgb1", "00001", 10, 5),
		}, domain.OpAttributeUpdate, ts)
		if err != nil {
			return err
		}
		second, err = w.Write(ctx, tx, map[string]any{ColumnIncid: "2024:0000001"}, domain.Snapshot{
			snapshotRow("2024:0000002", "osgb1", "00002", 4, 1),
			snapshotRow("2024:0000003", "osgb2", "00001", 7, 3),
			snapshotRow("2024:0000003", "osgb2", "00002", 2, 1),
		}, domain.OpLogicalMerge, ts)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, first)
	assert.Equal(t, []int64{2, 3, 4}, second)

	var rows []domain.HistoryRecord
	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		var err error
		rows, err = tx.ListHistory(ctx, store.HistoryQuery{})
		return err
	}))
	require.Len(t, rows, 4)

	merged := rows[1]
	assert.Equal(t, "2024:0000002", merged.Incid)
	assert.Equal(t, "2024:0000001", merged.ModifiedIncid.String)
	assert.Equal(t, "LM", merged.ModifiedOperation)
	assert.Equal(t, "SURV", merged.ModifiedReason)
	assert.Equal(t, "HAB", merged.ModifiedProcess)
	assert.Equal(t, "tester", merged.ModifiedUserID)
	assert.False(t, merged.ModifiedPrimary.Valid, "blank habprimary should be stored as NULL")
	assert.InDelta(t, 4.0, merged.ModifiedLength.Float64, 1e-9)
	assert.InDelta(t, 1.0, merged.ModifiedArea.Float64, 1e-9)
	assert.Equal(t, 0, merged.ModifiedDate.Nanosecond(), "modified_date must be whole seconds")
	assert.Equal(t, "AU", rows[0].ModifiedOperation)
}

func TestWriteStartsAfterExistingMax(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, err := s.DB().Exec(`INSERT INTO history (history_id, incid, modified_user_id, modified_date) VALUES (41, 'x', 'u', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	var ids []int64
	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		ids, err = NewWriter(testSession()).Write(ctx, tx, nil, domain.Snapshot{
			snapshotRow("2024:0000001", "osgb1", "00001", 1, 1),
			snapshotRow("2024:0000001", "osgb1", "00002", 1, 1),
		}, domain.OpPhysicalMerge, time.Now())
		return err
	}))
	assert.Equal(t, []int64{42, 43}, ids)
}

func TestWriteEmptyIsNoop(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		ids, err := NewWriter(testSession()).Write(ctx, tx, nil, nil, domain.OpLogicalMerge, time.Now())
		assert.Nil(t, ids)
		return err
	}))
}

func TestWriteUnresolvedLookupIsFatal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	session := testSession()
	session.Reason = "Nonexistent Reason"

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		_, err := NewWriter(session).Write(ctx, tx, nil, domain.Snapshot{
			snapshotRow("2024:0000001", "osgb1", "00001", 1, 1),
		}, domain.OpLogicalMerge, time.Now())
		return err
	})

	var le *domain.LookupError
	require.True(t, errors.As(err, &le), "expected LookupError, got %v", err)
	assert.Equal(t, store.LookupReason, le.Table)

	var count int64
	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		count, err = tx.CountHistory(ctx)
		return err
	}))
	assert.Zero(t, count)
}

func TestWritePointLayerDropsMeasurements(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	session := testSession()
	session.GeometryType = domain.GeometryPoint

	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error {
		_, err := NewWriter(session).Write(ctx, tx, nil, domain.Snapshot{
			snapshotRow("2024:0000001", "osgb1", "00001", 12, 34),
		}, domain.OpAttributeUpdate, time.Now())
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx *store.Tx) error {
		rows, err := tx.ListHistory(ctx, store.HistoryQuery{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.False(t, rows[0].ModifiedLength.Valid)
		assert.False(t, rows[0].ModifiedArea.Valid)
		return nil
	}))
}
