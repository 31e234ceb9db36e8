package gis

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/sqlfilter"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func openLayer(t *testing.T) *FeatureLayer {
	t.Helper()
	l, err := OpenFeatureLayer(filepath.Join(t.TempDir(), "layer.db"), domain.GeometryPolygon)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func addSquare(t *testing.T, l *FeatureLayer, incid, toid, frag string, x float64, habitat string) {
	t.Helper()
	p := domain.IncidPolygon{Incid: incid, Toid: toid, ToidFragID: frag, HabPrimary: domain.NullString(habitat)}
	require.NoError(t, l.AddFeature(context.Background(), p, square(x, 0, 1)))
}

func TestOpenFeatureLayerGeometryMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.db")
	l, err := OpenFeatureLayer(path, domain.GeometryPolygon)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = OpenFeatureLayer(path, domain.GeometryLine)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds polygon features")
}

func TestGetHistoryMeasures(t *testing.T) {
	l := openLayer(t)
	addSquare(t, l, "2024:0000001", "osgb1", "00001", 0, "GRASS")

	snap, err := l.GetHistory(context.Background(), HistoryColumns(domain.GeometryPolygon), nil)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "2024:0000001", snap[0].Get(ColIncid))
	assert.Equal(t, "GRASS", snap[0].Get(ColHabPrimary))
	assert.Nil(t, snap[0].Get(ColHabSecond))
	assert.InDelta(t, 4.0, snap[0].Get(ColShapeLength), 1e-9)
	assert.InDelta(t, 1.0, snap[0].Get(ColShapeArea), 1e-9)
}

func TestMergeFeaturesLogically(t *testing.T) {
	l := openLayer(t)
	ctx := context.Background()
	addSquare(t, l, "2024:0000001", "osgb1", "00001", 0, "GRASS")
	addSquare(t, l, "2024:0000002", "osgb1", "00002", 1, "WOOD")

	keys := []domain.FeatureKey{{Toid: "osgb1", ToidFragID: "00001"}, {Toid: "osgb1", ToidFragID: "00002"}}
	snap, err := l.MergeFeaturesLogically(ctx, "2024:0000001", keys, HistoryColumns(l.GeometryType()))
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "2024:0000002", snap[1].Get(ColIncid), "snapshot holds pre-merge values")

	features, err := l.Features(ctx, nil)
	require.NoError(t, err)
	for _, f := range features {
		assert.Equal(t, "2024:0000001", f.Incid)
		assert.Equal(t, "GRASS", f.HabPrimary.String)
	}
}

func TestMergeFeaturesPhysically(t *testing.T) {
	l := openLayer(t)
	ctx := context.Background()
	addSquare(t, l, "2024:0000001", "osgb1", "10", 0, "GRASS")
	addSquare(t, l, "2024:0000001", "osgb1", "2", 2, "GRASS")
	addSquare(t, l, "2024:0000001", "osgb1", "9", 4, "GRASS")

	where := sqlfilter.FeatureKeys([]domain.FeatureKey{
		{Toid: "osgb1", ToidFragID: "10"}, {Toid: "osgb1", ToidFragID: "2"}, {Toid: "osgb1", ToidFragID: "9"},
	}, 10, featureTable)
	snap, err := l.MergeFeatures(ctx, "2", where, HistoryColumns(l.GeometryType()))
	require.NoError(t, err)
	require.Len(t, snap, 4, "three fragments plus the result row")

	result := snap[len(snap)-1]
	assert.Equal(t, "2", result.Get(ColToidFragID))
	assert.InDelta(t, 3.0, result.Get(ColShapeArea), 1e-9)
	assert.InDelta(t, 12.0, result.Get(ColShapeLength), 1e-9)

	features, err := l.Features(ctx, nil)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "2", features[0].ToidFragID)
	assert.InDelta(t, 3.0, features[0].ShapeArea.Float64, 1e-9)
}

func TestSplitFeaturesPhysically(t *testing.T) {
	l := openLayer(t)
	ctx := context.Background()
	p := domain.IncidPolygon{Incid: "2024:0000001", Toid: "osgb1", ToidFragID: "00001"}
	require.NoError(t, l.AddFeature(ctx, p, orb.MultiPolygon{square(0, 0, 1), square(2, 0, 2)}))
	addSquare(t, l, "2024:0000001", "osgb1", "00003", 8, "")

	snap, err := l.SplitFeaturesPhysically(ctx, p.Key(), HistoryColumns(l.GeometryType()))
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "00001", snap[0].Get(ColToidFragID))
	assert.Equal(t, "00004", snap[1].Get(ColToidFragID), "new fragment follows the highest existing id")
	assert.InDelta(t, 1.0, snap[0].Get(ColShapeArea), 1e-9)
	assert.InDelta(t, 4.0, snap[1].Get(ColShapeArea), 1e-9)

	_, err = l.SplitFeaturesPhysically(ctx, domain.FeatureKey{Toid: "osgb1", ToidFragID: "00003"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single part")
}

func TestEditOperationExecuteAndAbort(t *testing.T) {
	l := openLayer(t)
	ctx := context.Background()
	addSquare(t, l, "2024:0000001", "osgb1", "00001", 0, "GRASS")
	where := sqlfilter.Incids([]string{"2024:0000001"}, 10, "")

	op := l.NewEditOperation("update attributes")
	require.NoError(t, l.UpdateFeatures(ctx, op, []string{ColHabPrimary}, []any{"WOOD"}, where))

	before, err := l.Features(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "GRASS", before[0].HabPrimary.String, "queued edits are not applied before Execute")

	ok, err := op.Execute(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := l.Features(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "WOOD", after[0].HabPrimary.String)
	assert.Error(t, op.Abort(), "an executed operation cannot be aborted")

	aborted := l.NewEditOperation("discarded")
	require.NoError(t, l.UpdateFeatures(ctx, aborted, []string{ColHabPrimary}, []any{"HEATH"}, where))
	require.NoError(t, aborted.Abort())
	_, err = aborted.Execute(ctx)
	assert.True(t, errors.Is(err, ErrOperationClosed))

	empty := l.NewEditOperation("empty")
	ok, err = empty.Execute(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateFeaturesRejectsKeyColumns(t *testing.T) {
	l := openLayer(t)
	op := l.NewEditOperation("bad")
	err := l.UpdateFeatures(context.Background(), op, []string{ColToid}, []any{"x"}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not writable"))
}

func TestCheckpointRestore(t *testing.T) {
	l := openLayer(t)
	ctx := context.Background()
	addSquare(t, l, "2024:0000001", "osgb1", "00001", 0, "GRASS")
	addSquare(t, l, "2024:0000001", "osgb1", "00002", 1, "GRASS")
	addSquare(t, l, "2024:0000009", "osgb9", "00001", 5, "OTHER")

	cp, err := l.Checkpoint(ctx, []string{"osgb1"})
	require.NoError(t, err)

	where := sqlfilter.FeatureKeys([]domain.FeatureKey{{Toid: "osgb1", ToidFragID: "00001"}, {Toid: "osgb1", ToidFragID: "00002"}}, 10, "")
	_, err = l.MergeFeatures(ctx, "00001", where, nil)
	require.NoError(t, err)

	require.NoError(t, l.Restore(ctx, cp))
	features, err := l.Features(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, features, 3)
}

func TestCombineAndExplode(t *testing.T) {
	merged := Combine([]orb.Geometry{square(0, 0, 1), orb.MultiPolygon{square(2, 0, 1), square(4, 0, 1)}})
	mp, ok := merged.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 3)
	assert.Len(t, Explode(mp), 3)

	assert.Equal(t, square(0, 0, 1), Combine([]orb.Geometry{square(0, 0, 1)}))
	assert.Nil(t, Combine(nil))
}

func TestImportGeoJSON(t *testing.T) {
	l := openLayer(t)
	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"incid":"2024:0000001","toid":"osgb1","toidfragid":"00001","habprimary":"GRASS"},
		 "geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}}
	]}`

	rows, err := l.ImportGeoJSON(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "GRASS", rows[0].HabPrimary.String)
	assert.InDelta(t, 4.0, rows[0].ShapeArea.Float64, 1e-9)
	assert.InDelta(t, 8.0, rows[0].ShapeLength.Float64, 1e-9)
}
