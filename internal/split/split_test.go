package split

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/store"
	"github.com/lherron/hlutool/internal/testutil"
)

var clock = time.Date(2024, 8, 9, 10, 11, 12, 500000000, time.UTC)

func newEngine(env *testutil.Env) *Engine {
	return New(env.Session, env.Store, env.Layer, WithClock(func() time.Time { return clock }))
}

func key(toid, frag string) domain.FeatureKey {
	return domain.FeatureKey{Toid: toid, ToidFragID: frag}
}

func TestLogicalSplit(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedIncid(t, "0007:0000004", "GRASS",
		testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0},
		testutil.Fragment{Toid: "osgb1", FragID: "00002", X: 1},
		testutil.Fragment{Toid: "osgb2", FragID: "00001", X: 3})
	env.SeedIncid(t, "0007:0000009", "WOOD", testutil.Fragment{Toid: "osgb9", FragID: "00001", X: 9})

	ctx := context.Background()
	require.NoError(t, env.Store.WithTx(ctx, func(tx *store.Tx) error {
		if err := store.Insert(ctx, tx, store.SecondaryTable, 1,
			domain.SecondaryHabitat{SecondaryID: 1, Incid: "0007:0000004", SecondaryGroup: "G", SecondaryHabitat: "S1"}); err != nil {
			return err
		}
		return store.Insert(ctx, tx, store.BapTable, 1,
			domain.BapEnvironment{BapID: 1, Incid: "0007:0000004", BapHabitat: "B1", Source: domain.BapSourceAuto})
	}))

	res, err := newEngine(env).LogicalSplit(ctx, []domain.FeatureKey{key("osgb1", "00002"), key("osgb2", "00001")})
	require.NoError(t, err)
	assert.Equal(t, "0007:0000004", res.SourceIncid)
	assert.Equal(t, "0007:0000010", res.NewIncid, "the new incid follows the highest on the site")

	created := env.Incid(t, "0007:0000010")
	require.NotNil(t, created)
	assert.Equal(t, "GRASS", created.HabitatPrimary.String)
	assert.Equal(t, "tester", created.CreatedUser)
	assert.True(t, created.CreatedDate.Equal(clock.Truncate(time.Second)))

	assert.Len(t, env.Polygons(t, "0007:0000004"), 1)
	assert.Len(t, env.Polygons(t, "0007:0000010"), 2)
	assert.Len(t, env.Features(t, "0007:0000004"), 1)
	assert.Len(t, env.Features(t, "0007:0000010"), 2)

	require.NoError(t, env.Store.View(ctx, func(tx *store.Tx) error {
		secondary, err := store.List(ctx, tx, store.SecondaryTable, "0007:0000010")
		if err != nil {
			return err
		}
		require.Len(t, secondary, 1)
		assert.Equal(t, "S1", secondary[0].SecondaryHabitat)
		assert.Equal(t, int64(2), secondary[0].SecondaryID)

		bap, err := store.List(ctx, tx, store.BapTable, "0007:0000010")
		if err != nil {
			return err
		}
		require.Len(t, bap, 1)
		assert.Equal(t, domain.BapSourceAuto, bap[0].Source)
		return nil
	}))

	history := env.History(t, "0007:0000004")
	require.Len(t, history, 2)
	for _, h := range history {
		assert.Equal(t, "LS", h.ModifiedOperation)
		assert.Equal(t, "0007:0000010", h.ModifiedIncid.String)
	}
}

func TestLogicalSplitPreconditions(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedIncid(t, "2024:0000001", "GRASS",
		testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0},
		testutil.Fragment{Toid: "osgb1", FragID: "00002", X: 1})
	env.SeedIncid(t, "2024:0000002", "WOOD", testutil.Fragment{Toid: "osgb2", FragID: "00001", X: 4})

	tests := []struct {
		name string
		keys []domain.FeatureKey
	}{
		{name: "empty selection"},
		{name: "every feature of the incid", keys: []domain.FeatureKey{key("osgb1", "00001"), key("osgb1", "00002")}},
		{name: "two incids", keys: []domain.FeatureKey{key("osgb1", "00001"), key("osgb2", "00001")}},
		{name: "unknown feature", keys: []domain.FeatureKey{key("osgb1", "00001"), key("osgb1", "00099")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newEngine(env).LogicalSplit(context.Background(), tt.keys)
			assert.True(t, domain.IsPrecondition(err), "got %v", err)
		})
	}
	assert.Empty(t, env.History(t, "2024:0000001"))
}

func TestPhysicalSplit(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedIncid(t, "2024:0000001", "GRASS", testutil.Fragment{Toid: "osgb1", FragID: "00003", X: 10})

	ctx := context.Background()
	multi := domain.IncidPolygon{Incid: "2024:0000001", Toid: "osgb1", ToidFragID: "00001", HabPrimary: domain.NullString("GRASS")}
	require.NoError(t, env.Store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertPolygon(ctx, multi)
	}))
	require.NoError(t, env.Layer.AddFeature(ctx, multi, orb.MultiPolygon{testutil.Square(0, 0, 1), testutil.Square(3, 0, 2)}))

	res, err := newEngine(env).PhysicalSplit(ctx, multi.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{"00001", "00004"}, res.Fragments)

	byFrag := map[string]domain.IncidPolygon{}
	for _, p := range env.Polygons(t, "2024:0000001") {
		byFrag[p.ToidFragID] = p
	}
	require.Len(t, byFrag, 3)
	assert.InDelta(t, 1.0, byFrag["00001"].ShapeArea.Float64, 1e-9)
	assert.InDelta(t, 4.0, byFrag["00004"].ShapeArea.Float64, 1e-9)
	assert.InDelta(t, 8.0, byFrag["00004"].ShapeLength.Float64, 1e-9)
	assert.Equal(t, "GRASS", byFrag["00004"].HabPrimary.String)
	assert.Len(t, env.Features(t, "2024:0000001"), 3)

	history := env.History(t, "2024:0000001")
	require.Len(t, history, 2)
	for _, h := range history {
		assert.Equal(t, "PS", h.ModifiedOperation)
		assert.Zero(t, h.ModifiedDate.Nanosecond())
	}
}

func TestPhysicalSplitSinglePartRestoresNothing(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedIncid(t, "2024:0000001", "GRASS", testutil.Fragment{Toid: "osgb1", FragID: "00001", X: 0})

	_, err := newEngine(env).PhysicalSplit(context.Background(), key("osgb1", "00001"))
	require.Error(t, err)
	var opErr *domain.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Nil(t, opErr.CompensationErr)

	assert.Len(t, env.Polygons(t, "2024:0000001"), 1)
	assert.Len(t, env.Features(t, "2024:0000001"), 1)
	assert.Empty(t, env.History(t, "2024:0000001"))

	_, err = newEngine(env).PhysicalSplit(context.Background(), key("osgb1", "00042"))
	assert.True(t, domain.IsPrecondition(err))
}
