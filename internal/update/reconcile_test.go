package update

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/hlutool/internal/domain"
)

func ids(start int64) func() int64 {
	n := start
	return func() int64 {
		n++
		return n
	}
}

func secondary(id int64, group, habitat string) domain.SecondaryHabitat {
	return domain.SecondaryHabitat{SecondaryID: id, Incid: "2024:0000001", SecondaryGroup: group, SecondaryHabitat: habitat}
}

func TestReconcileDropsDuplicatesAndInvalidRows(t *testing.T) {
	persisted := []domain.SecondaryHabitat{secondary(1, "G", "S1"), secondary(2, "G", "S2")}
	current := []domain.SecondaryHabitat{
		secondary(1, "G", "S1"),
		secondary(domain.NewRowID, "g", " s1 "),
		secondary(domain.NewRowID, "G", ""),
		secondary(domain.NewRowID, "G", "S3"),
	}

	cs := Reconcile("2024:0000001", current, persisted, nil, ids(10))

	assert.Equal(t, []domain.SecondaryHabitat{secondary(2, "G", "S2")}, cs.Deletes)
	assert.Empty(t, cs.Updates)
	assert.Equal(t, []domain.SecondaryHabitat{secondary(11, "G", "S3")}, cs.Inserts)
	assert.Equal(t, []domain.SecondaryHabitat{secondary(1, "G", "S1"), secondary(11, "G", "S3")}, cs.Result)
}

func TestReconcileIsIdempotent(t *testing.T) {
	persisted := []domain.SecondaryHabitat{secondary(1, "G", "S1")}
	current := []domain.SecondaryHabitat{secondary(1, "G", "S1"), secondary(domain.NewRowID, "G", "S2"), secondary(domain.NewRowID, "G", "S2")}

	first := Reconcile("2024:0000001", current, persisted, nil, ids(1))
	require.False(t, first.Empty())

	second := Reconcile("2024:0000001", first.Result, first.Result, nil, ids(100))
	assert.True(t, second.Empty(), "reconciling an applied result writes nothing")
	if diff := cmp.Diff(first.Result, second.Result); diff != "" {
		t.Errorf("result changed (-first +second):\n%s", diff)
	}
}

func TestReconcileUpdatesChangedRowsAndReissuesDuplicateIDs(t *testing.T) {
	persisted := []domain.SecondaryHabitat{secondary(1, "G", "S1")}
	current := []domain.SecondaryHabitat{secondary(1, "G", "S9"), secondary(1, "G", "S8")}

	cs := Reconcile("2024:0000001", current, persisted, nil, ids(4))

	assert.Equal(t, []domain.SecondaryHabitat{secondary(1, "G", "S9")}, cs.Updates)
	assert.Equal(t, []domain.SecondaryHabitat{secondary(5, "G", "S8")}, cs.Inserts)
	assert.Empty(t, cs.Deletes)
}

func TestReconcilePrefersAutomaticBap(t *testing.T) {
	user := domain.BapEnvironment{BapID: 1, Incid: "2024:0000001", BapHabitat: "B1", Source: domain.BapSourceUser}
	auto := domain.BapEnvironment{BapID: domain.NewRowID, BapHabitat: "b1", Source: domain.BapSourceAuto}
	bad := domain.BapEnvironment{BapID: domain.NewRowID, BapHabitat: "B2", Source: "guess"}

	cs := Reconcile("2024:0000001", []domain.BapEnvironment{user, auto, bad}, []domain.BapEnvironment{user}, PreferAutoBap, ids(1))

	require.Len(t, cs.Result, 1)
	assert.Equal(t, domain.BapSourceAuto, cs.Result[0].Source)
	assert.Equal(t, int64(2), cs.Result[0].BapID)
	assert.Equal(t, "2024:0000001", cs.Result[0].Incid)
	assert.Equal(t, []domain.BapEnvironment{user}, cs.Deletes)
}

func TestPreferAutoBap(t *testing.T) {
	auto := domain.BapEnvironment{Source: domain.BapSourceAuto}
	user := domain.BapEnvironment{Source: domain.BapSourceUser}

	assert.True(t, PreferAutoBap(auto, user))
	assert.False(t, PreferAutoBap(user, auto))
	assert.False(t, PreferAutoBap(auto, auto))
}

func TestChanges(t *testing.T) {
	kept := domain.Track(domain.IHSMultiplex{ID: 1, Incid: "2024:0000001", Code: "AA"})
	edited := domain.Track(domain.IHSMultiplex{ID: 2, Incid: "2024:0000001", Code: "BB"})
	edited.Current.Code = "CC"
	removed := domain.Track(domain.IHSMultiplex{ID: 3, Incid: "2024:0000001", Code: "DD"})
	removed.Deleted = true
	added := domain.TrackNew(domain.IHSMultiplex{ID: domain.NewRowID, Code: "EE"})
	discarded := domain.TrackNew(domain.IHSMultiplex{ID: domain.NewRowID, Code: "FF"})
	discarded.Deleted = true

	cs := Changes("2024:0000001", []domain.Tracked[domain.IHSMultiplex]{kept, edited, removed, added, discarded}, ids(3))

	assert.Equal(t, []domain.IHSMultiplex{removed.Original}, cs.Deletes)
	assert.Equal(t, []domain.IHSMultiplex{{ID: 2, Incid: "2024:0000001", Code: "CC"}}, cs.Updates)
	assert.Equal(t, []domain.IHSMultiplex{{ID: 4, Incid: "2024:0000001", Code: "EE"}}, cs.Inserts)
	assert.Len(t, cs.Result, 3)
}

func TestSecondarySummaryAndResequence(t *testing.T) {
	rows := track([]domain.SecondaryHabitat{secondary(1, "G", "S1"), secondary(2, "G", "S2"), secondary(3, "G", "s1")})
	rows[1].Deleted = true
	assert.Equal(t, "S1", SecondarySummary(rows, "."))
	rows[1].Deleted = false
	assert.Equal(t, "S1;S2", SecondarySummary(rows, ";"))

	sources := track([]domain.Source{{IncidSourceID: 1, SortOrder: 1}, {IncidSourceID: 2, SortOrder: 2}, {IncidSourceID: 3, SortOrder: 5}})
	sources[0].Deleted = true
	out := Resequence(sources)
	assert.Equal(t, 1, out[1].Current.SortOrder)
	assert.Equal(t, 2, out[2].Current.SortOrder)
	assert.Equal(t, 5, sources[2].Current.SortOrder, "input is not modified")
}
