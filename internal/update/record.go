package update

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/store"
)

// Record is one incid with its child rows as edited in memory. Every row is
// tracked against the value last read from or written to the database.
type Record struct {
	Incid      domain.Tracked[domain.Incid]
	Secondary  []domain.Tracked[domain.SecondaryHabitat]
	Bap        []domain.Tracked[domain.BapEnvironment]
	IHS        map[domain.IHSFamily][]domain.Tracked[domain.IHSMultiplex]
	Conditions []domain.Tracked[domain.Condition]
	Sources    []domain.Tracked[domain.Source]
}

// Load reads an incid and all of its child rows
func Load(ctx context.Context, st *store.Store, incid string) (*Record, error) {
	rec := &Record{IHS: make(map[domain.IHSFamily][]domain.Tracked[domain.IHSMultiplex])}
	err := st.View(ctx, func(tx *store.Tx) error {
		inc, err := tx.GetIncid(ctx, incid)
		if err != nil {
			return err
		}
		rec.Incid = domain.Track(*inc)

		secondary, err := store.List(ctx, tx, store.SecondaryTable, incid)
		if err != nil {
			return err
		}
		rec.Secondary = track(secondary)

		bap, err := store.List(ctx, tx, store.BapTable, incid)
		if err != nil {
			return err
		}
		rec.Bap = track(bap)

		for _, f := range domain.IHSFamilies {
			rows, err := store.List(ctx, tx, store.IHSTable(f), incid)
			if err != nil {
				return err
			}
			rec.IHS[f] = track(rows)
		}

		conditions, err := store.List(ctx, tx, store.ConditionTable, incid)
		if err != nil {
			return err
		}
		rec.Conditions = track(conditions)

		sources, err := store.List(ctx, tx, store.SourceTable, incid)
		if err != nil {
			return err
		}
		rec.Sources = track(sortSources(sources))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load incid %s: %w", incid, err)
	}
	return rec, nil
}

// ID returns the incid id
func (r *Record) ID() string {
	return r.Incid.Current.Incid
}

// Dirty reports whether anything in the record needs saving
func (r *Record) Dirty() bool {
	if r.Incid.Dirty() || domain.AnyDirty(r.Secondary) || domain.AnyDirty(r.Bap) ||
		domain.AnyDirty(r.Conditions) || domain.AnyDirty(r.Sources) {
		return true
	}
	for _, rows := range r.IHS {
		if domain.AnyDirty(rows) {
			return true
		}
	}
	return false
}

// AddSecondary appends a new secondary habitat
func (r *Record) AddSecondary(group, habitat string) {
	r.Secondary = append(r.Secondary, domain.TrackNew(domain.SecondaryHabitat{
		SecondaryID: domain.NewRowID, Incid: r.ID(), SecondaryGroup: group, SecondaryHabitat: habitat,
	}))
}

// AddBap appends a new BAP habitat
func (r *Record) AddBap(habitat string, source domain.BapSource) {
	r.Bap = append(r.Bap, domain.TrackNew(domain.BapEnvironment{
		BapID: domain.NewRowID, Incid: r.ID(), BapHabitat: habitat, Source: source,
	}))
}

// AddIHS appends a new IHS code to a family
func (r *Record) AddIHS(f domain.IHSFamily, code string) {
	if r.IHS == nil {
		r.IHS = make(map[domain.IHSFamily][]domain.Tracked[domain.IHSMultiplex])
	}
	r.IHS[f] = append(r.IHS[f], domain.TrackNew(domain.IHSMultiplex{ID: domain.NewRowID, Incid: r.ID(), Code: code}))
}

// AddSource appends a new source reference at the end of the ordering
func (r *Record) AddSource(s domain.Source) {
	s.IncidSourceID = domain.NewRowID
	s.Incid = r.ID()
	s.SortOrder = len(r.Sources) + 1
	r.Sources = append(r.Sources, domain.TrackNew(s))
}

// clone copies the record so a failed save can leave the caller's copy untouched
func (r *Record) clone() *Record {
	out := &Record{
		Incid:      r.Incid,
		Secondary:  append([]domain.Tracked[domain.SecondaryHabitat]{}, r.Secondary...),
		Bap:        append([]domain.Tracked[domain.BapEnvironment]{}, r.Bap...),
		IHS:        make(map[domain.IHSFamily][]domain.Tracked[domain.IHSMultiplex], len(r.IHS)),
		Conditions: append([]domain.Tracked[domain.Condition]{}, r.Conditions...),
		Sources:    append([]domain.Tracked[domain.Source]{}, r.Sources...),
	}
	for f, rows := range r.IHS {
		out.IHS[f] = append([]domain.Tracked[domain.IHSMultiplex]{}, rows...)
	}
	return out
}

// SecondarySummary joins the live secondary habitat codes in order
func SecondarySummary(rows []domain.Tracked[domain.SecondaryHabitat], delimiter string) string {
	var codes []string
	seen := make(map[string]bool)
	for _, r := range rows {
		if r.Deleted || !r.Current.Valid() || seen[r.Current.NaturalKey()] {
			continue
		}
		seen[r.Current.NaturalKey()] = true
		codes = append(codes, strings.TrimSpace(r.Current.SecondaryHabitat))
	}
	return strings.Join(codes, delimiter)
}

// Resequence renumbers the live sources densely from 1 in their current order
func Resequence(rows []domain.Tracked[domain.Source]) []domain.Tracked[domain.Source] {
	out := make([]domain.Tracked[domain.Source], len(rows))
	copy(out, rows)
	n := 0
	for i := range out {
		if out[i].Deleted {
			continue
		}
		n++
		out[i].Current.SortOrder = n
	}
	return out
}

func sortSources(rows []domain.Source) []domain.Source {
	out := append([]domain.Source{}, rows...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}
