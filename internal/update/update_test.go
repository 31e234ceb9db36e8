package update

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/hlutool/internal/config"
	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/gis"
	"github.com/lherron/hlutool/internal/sqlfilter"
	"github.com/lherron/hlutool/internal/store"
	"github.com/lherron/hlutool/internal/testutil"
)

const incid = "2024:0000001"

var clock = time.Date(2024, 6, 1, 9, 15, 30, 123456789, time.UTC)

func seed(t *testing.T) *testutil.Env {
	t.Helper()
	env := testutil.NewEnv(t)
	env.SeedIncid(t, incid, "GRASS",
		testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0},
		testutil.Fragment{Toid: "osgb1", FragID: "00002", X: 1})
	return env
}

func newOrchestrator(env *testutil.Env, policy Policy, layer gis.Layer) *Orchestrator {
	if layer == nil {
		layer = env.Layer
	}
	return New(env.Session, policy, env.Store, layer, WithClock(func() time.Time { return clock }))
}

func load(t *testing.T, env *testutil.Env) *Record {
	t.Helper()
	rec, err := Load(context.Background(), env.Store, incid)
	require.NoError(t, err)
	return rec
}

func insertRows(t *testing.T, env *testutil.Env, fn func(ctx context.Context, tx *store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.Store.WithTx(ctx, func(tx *store.Tx) error { return fn(ctx, tx) }))
}

func TestSaveUpdatesDatabaseLayerAndHistory(t *testing.T) {
	env := seed(t)
	rec := load(t, env)

	rec.Incid.Current.HabitatPrimary = domain.NullString("WOOD")
	rec.Incid.Current.QualityDetermination = domain.NullString("D")
	rec.AddSecondary("G", "S1")
	rec.AddSecondary("g", "s1")
	rec.AddSecondary("G", "S2")
	rec.AddBap("B1", domain.BapSourceUser)
	rec.AddBap("B1", domain.BapSourceAuto)
	require.True(t, rec.Dirty())

	res, err := newOrchestrator(env, DefaultPolicy(), nil).Save(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, 2, res.Features)
	assert.Equal(t, Counts{Inserted: 2}, res.Secondary)
	assert.Equal(t, Counts{Inserted: 1}, res.Bap)

	stored := env.Incid(t, incid)
	require.NotNil(t, stored)
	assert.Equal(t, "WOOD", stored.HabitatPrimary.String)
	assert.Equal(t, "S1.S2", stored.HabitatSecondaries.String)
	assert.Equal(t, "tester", stored.LastModifiedUser)
	assert.True(t, stored.LastModifiedDate.Equal(clock.Truncate(time.Second)))

	for _, f := range env.Features(t, incid) {
		assert.Equal(t, "WOOD", f.HabPrimary.String)
		assert.Equal(t, "S1.S2", f.HabSecond.String)
		assert.Equal(t, "D", f.DetermQty.String)
	}
	for _, p := range env.Polygons(t, incid) {
		assert.Equal(t, "WOOD", p.HabPrimary.String)
		assert.Equal(t, "S1.S2", p.HabSecond.String)
	}

	history := env.History(t, incid)
	require.Len(t, history, 2)
	assert.ElementsMatch(t, res.HistoryIDs, []int64{history[0].HistoryID, history[1].HistoryID})
	for _, h := range history {
		assert.Equal(t, "AU", h.ModifiedOperation)
		assert.Equal(t, "GRASS", h.ModifiedPrimary.String, "history keeps the values before the edit")
		assert.Equal(t, incid, h.ModifiedIncid.String)
		assert.Equal(t, 4.0, h.ModifiedLength.Float64)
		assert.Zero(t, h.ModifiedDate.Nanosecond())
	}

	assert.False(t, rec.Dirty(), "a saved record has nothing pending")
	require.Len(t, rec.Secondary, 2)
	require.Len(t, rec.Bap, 1)
	assert.Equal(t, domain.BapSourceAuto, rec.Bap[0].Current.Source)

	reloaded := load(t, env)
	assert.Len(t, reloaded.Secondary, 2)
	assert.Len(t, reloaded.Bap, 1)
}

// emptyLayer reports no features for any history request
type emptyLayer struct {
	*gis.FeatureLayer
}

func (emptyLayer) GetHistory(context.Context, []string, [][]sqlfilter.Condition) (domain.Snapshot, error) {
	return nil, nil
}

func TestSaveRollsBackWhenLayerHasNoFeatures(t *testing.T) {
	env := seed(t)
	rec := load(t, env)
	rec.Incid.Current.HabitatPrimary = domain.NullString("WOOD")
	rec.AddSecondary("G", "S1")
	rec.AddIHS(domain.IHSMatrix, "AA")
	before := rec.clone()

	res, err := newOrchestrator(env, DefaultPolicy(), emptyLayer{env.Layer}).Save(context.Background(), rec)
	require.Error(t, err)
	assert.False(t, res.Saved)

	var opErr *domain.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Nil(t, opErr.CompensationErr)
	var desync *domain.DesyncError
	assert.True(t, errors.As(err, &desync))

	if diff := cmp.Diff(before, rec); diff != "" {
		t.Errorf("record changed by a failed save (-before +after):\n%s", diff)
	}

	stored := env.Incid(t, incid)
	require.NotNil(t, stored)
	assert.Equal(t, "GRASS", stored.HabitatPrimary.String)
	assert.Equal(t, "seed", stored.LastModifiedUser)
	assert.Empty(t, env.History(t, incid))
	for _, f := range env.Features(t, incid) {
		assert.Equal(t, "GRASS", f.HabPrimary.String)
	}
	assert.Empty(t, load(t, env).Secondary)
}

// assertUnsaved checks that neither store kept any part of a failed save
func assertUnsaved(t *testing.T, env *testutil.Env) {
	t.Helper()
	stored := env.Incid(t, incid)
	require.NotNil(t, stored)
	assert.Equal(t, "GRASS", stored.HabitatPrimary.String)
	assert.Equal(t, "seed", stored.LastModifiedUser)
	assert.Empty(t, env.History(t, incid))

	reloaded := load(t, env)
	assert.Empty(t, reloaded.Secondary)
	assert.Empty(t, reloaded.Bap)

	polygons := env.Polygons(t, incid)
	require.Len(t, polygons, 2)
	for _, p := range polygons {
		assert.Equal(t, "GRASS", p.HabPrimary.String)
		assert.False(t, p.HabSecond.Valid)
	}
	features := env.Features(t, incid)
	require.Len(t, features, 2)
	for _, f := range features {
		assert.Equal(t, "GRASS", f.HabPrimary.String)
		assert.False(t, f.HabSecond.Valid)
	}
}

func editRecord(t *testing.T, env *testutil.Env) *Record {
	t.Helper()
	rec := load(t, env)
	rec.Incid.Current.HabitatPrimary = domain.NullString("WOOD")
	rec.AddSecondary("G", "S1")
	rec.AddBap("B1", domain.BapSourceUser)
	return rec
}

func TestSaveRollsBackWhenEditFails(t *testing.T) {
	env := seed(t)

	layerDB, err := sql.Open("sqlite3", env.Layer.Path()+"?_busy_timeout=5000")
	require.NoError(t, err)
	_, err = layerDB.Exec(`CREATE TRIGGER reject_updates BEFORE UPDATE ON gis_features
		BEGIN SELECT RAISE(ABORT, 'layer is read only'); END`)
	require.NoError(t, err)
	require.NoError(t, layerDB.Close())

	rec := editRecord(t, env)
	before := rec.clone()

	res, err := newOrchestrator(env, DefaultPolicy(), nil).Save(context.Background(), rec)
	require.Error(t, err)
	assert.False(t, res.Saved)
	assert.Contains(t, err.Error(), "layer is read only")

	var opErr *domain.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Nil(t, opErr.CompensationErr)

	if diff := cmp.Diff(before, rec); diff != "" {
		t.Errorf("record changed by a failed save (-before +after):\n%s", diff)
	}
	assertUnsaved(t, env)
}

func TestSaveRestoresLayerWhenCommitFails(t *testing.T) {
	env := seed(t)

	// A deferred foreign key is only checked at COMMIT, after the layer edit ran
	_, err := env.DB.Exec(`CREATE TABLE commit_guard (
		incid TEXT REFERENCES incid (incid) DEFERRABLE INITIALLY DEFERRED)`)
	require.NoError(t, err)
	_, err = env.DB.Exec(`CREATE TRIGGER guard_history AFTER INSERT ON history
		BEGIN INSERT INTO commit_guard (incid) VALUES ('9999:9999999'); END`)
	require.NoError(t, err)

	rec := editRecord(t, env)
	before := rec.clone()

	res, err := newOrchestrator(env, DefaultPolicy(), nil).Save(context.Background(), rec)
	require.Error(t, err)
	assert.False(t, res.Saved)
	assert.Contains(t, err.Error(), "commit")

	var opErr *domain.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Nil(t, opErr.CompensationErr, "the layer checkpoint should restore cleanly")

	if diff := cmp.Diff(before, rec); diff != "" {
		t.Errorf("record changed by a failed save (-before +after):\n%s", diff)
	}
	assertUnsaved(t, env)
}

func TestSaveIHSClearPolicy(t *testing.T) {
	tests := []struct {
		name            string
		policy          config.IHSClearPolicy
		changePrimary   bool
		changeSecondary bool
		wantCleared     bool
	}{
		{name: "primary policy keeps codes when nothing changes", policy: config.ClearOnPrimaryChange},
		{name: "primary policy clears on primary change", policy: config.ClearOnPrimaryChange, changePrimary: true, wantCleared: true},
		{name: "primary policy ignores secondary change", policy: config.ClearOnPrimaryChange, changeSecondary: true},
		{name: "secondary policy clears on secondary change", policy: config.ClearOnPrimaryOrSecondaryChange, changeSecondary: true, wantCleared: true},
		{name: "secondary policy clears on primary change", policy: config.ClearOnPrimaryOrSecondaryChange, changePrimary: true, wantCleared: true},
		{name: "always policy clears", policy: config.ClearAlways, wantCleared: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := seed(t)
			insertRows(t, env, func(ctx context.Context, tx *store.Tx) error {
				inc, err := tx.GetIncid(ctx, incid)
				if err != nil {
					return err
				}
				inc.IHSHabitat = domain.NullString("CG3")
				if err := tx.UpdateIncid(ctx, *inc); err != nil {
					return err
				}
				return store.Insert(ctx, tx, store.IHSTable(domain.IHSMatrix), 1,
					domain.IHSMultiplex{ID: 1, Incid: incid, Code: "AA"})
			})

			rec := load(t, env)
			if tt.changePrimary {
				rec.Incid.Current.HabitatPrimary = domain.NullString("WOOD")
			}
			if tt.changeSecondary {
				rec.AddSecondary("G", "S1")
			}

			policy := DefaultPolicy()
			policy.IHSClear = tt.policy
			res, err := newOrchestrator(env, policy, nil).Save(context.Background(), rec)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCleared, res.IHSCleared)

			stored := load(t, env)
			if tt.wantCleared {
				assert.False(t, stored.Incid.Current.IHSHabitat.Valid)
				assert.Empty(t, stored.IHS[domain.IHSMatrix])
				assert.Empty(t, rec.IHS[domain.IHSMatrix])
			} else {
				assert.Equal(t, "CG3", stored.Incid.Current.IHSHabitat.String)
				assert.Len(t, stored.IHS[domain.IHSMatrix], 1)
			}
		})
	}
}

func TestSaveResequencesSources(t *testing.T) {
	env := seed(t)
	insertRows(t, env, func(ctx context.Context, tx *store.Tx) error {
		for i := int64(1); i <= 3; i++ {
			s := domain.Source{IncidSourceID: i, Incid: incid, SourceID: 10 + i, SortOrder: int(i)}
			if err := store.Insert(ctx, tx, store.SourceTable, i, s); err != nil {
				return err
			}
		}
		return nil
	})

	rec := load(t, env)
	require.Len(t, rec.Sources, 3)
	rec.Sources[0].Deleted = true
	rec.AddSource(domain.Source{SourceID: 99})

	_, err := newOrchestrator(env, DefaultPolicy(), nil).Save(context.Background(), rec)
	require.NoError(t, err)

	stored := load(t, env)
	require.Len(t, stored.Sources, 3)
	var got []int64
	for i, s := range stored.Sources {
		assert.Equal(t, i+1, s.Current.SortOrder)
		got = append(got, s.Current.SourceID)
	}
	assert.Equal(t, []int64{12, 13, 99}, got)
}

func TestSaveIgnoresOpenOSMMProposals(t *testing.T) {
	for _, ignore := range []bool{true, false} {
		env := seed(t)
		insertRows(t, env, func(ctx context.Context, tx *store.Tx) error {
			for i, status := range []domain.OSMMStatus{2, domain.OSMMPending, domain.OSMMApplied} {
				u := domain.OSMMUpdate{
					IncidOSMMUpdateID: int64(i + 1), Incid: incid, OSMMXrefID: int64(i + 1), Status: status,
					LastModifiedUser: "loader", LastModifiedDate: clock,
				}
				if err := store.Insert(ctx, tx, store.OSMMUpdateTable, u.IncidOSMMUpdateID, u); err != nil {
					return err
				}
			}
			return nil
		})

		rec := load(t, env)
		rec.Incid.Current.QualityInterpretation = domain.NullString("I")
		policy := DefaultPolicy()
		policy.IgnoreOSMM = ignore
		res, err := newOrchestrator(env, policy, nil).Save(context.Background(), rec)
		require.NoError(t, err)

		var statuses []domain.OSMMStatus
		require.NoError(t, env.Store.View(context.Background(), func(tx *store.Tx) error {
			rows, err := tx.OSMMUpdatesWhere(context.Background(), sqlfilter.Incids([]string{incid}, 10, ""))
			for _, r := range rows {
				statuses = append(statuses, r.Status)
			}
			return err
		}))

		if ignore {
			assert.Equal(t, int64(2), res.OSMMIgnored)
			assert.ElementsMatch(t, []domain.OSMMStatus{domain.OSMMIgnored, domain.OSMMIgnored, domain.OSMMApplied}, statuses)
		} else {
			assert.Zero(t, res.OSMMIgnored)
			assert.ElementsMatch(t, []domain.OSMMStatus{2, domain.OSMMPending, domain.OSMMApplied}, statuses)
		}
	}
}
