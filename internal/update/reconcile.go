package update

import (
	"context"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/store"
)

// Row is a child row of an incid with an integer key
type Row[T any] interface {
	comparable
	RowID() int64
	Assign(id int64, incid string) T
}

// KeyedRow is a child row with a natural key used to drop duplicates
type KeyedRow[T any] interface {
	Row[T]
	NaturalKey() string
	Valid() bool
}

// ChangeSet lists the writes that bring a child table in line with memory.
// Apply runs deletes, then updates, then inserts.
type ChangeSet[T any] struct {
	Deletes []T
	Updates []T
	Inserts []T
	// Result is the row set after the change set is applied, in input order
	Result []T
}

// Empty reports whether the change set writes nothing
func (c ChangeSet[T]) Empty() bool {
	return len(c.Deletes) == 0 && len(c.Updates) == 0 && len(c.Inserts) == 0
}

// Reconcile compares the current rows of an incid with the rows last
// persisted for it. Invalid rows are dropped, and the first row of each natural
// key is kept unless prefer picks a later one. Kept rows without a persisted
// id are inserted under ids from nextID, kept rows that differ from their
// persisted version are updated, and persisted rows no longer kept are deleted.
func Reconcile[T KeyedRow[T]](incid string, current, persisted []T, prefer func(candidate, kept T) bool, nextID func() int64) ChangeSet[T] {
	var cs ChangeSet[T]

	byKey := make(map[string]int)
	var kept []T
	for _, row := range current {
		if !row.Valid() {
			continue
		}
		k := row.NaturalKey()
		if i, ok := byKey[k]; ok {
			if prefer != nil && prefer(row, kept[i]) {
				kept[i] = row
			}
			continue
		}
		byKey[k] = len(kept)
		kept = append(kept, row)
	}

	stored := make(map[int64]T, len(persisted))
	for _, row := range persisted {
		stored[row.RowID()] = row
	}

	keptIDs := make(map[int64]bool, len(kept))
	for i, row := range kept {
		old, ok := stored[row.RowID()]
		if row.RowID() == domain.NewRowID || !ok || keptIDs[row.RowID()] {
			row = row.Assign(nextID(), incid)
			kept[i] = row
			cs.Inserts = append(cs.Inserts, row)
			continue
		}
		keptIDs[row.RowID()] = true
		row = row.Assign(row.RowID(), incid)
		kept[i] = row
		if row != old {
			cs.Updates = append(cs.Updates, row)
		}
	}

	for _, row := range persisted {
		if !keptIDs[row.RowID()] {
			cs.Deletes = append(cs.Deletes, row)
		}
	}

	cs.Result = kept
	return cs
}

// PreferAutoBap keeps an automatically derived BAP row over a user entered one
func PreferAutoBap(candidate, kept domain.BapEnvironment) bool {
	return candidate.Source == domain.BapSourceAuto && kept.Source != domain.BapSourceAuto
}

// Apply writes the change set through tbl in delete, update, insert order
func Apply[T any](ctx context.Context, tx *store.Tx, tbl *store.Table[T], cs ChangeSet[T]) error {
	for _, row := range cs.Deletes {
		if err := store.Delete(ctx, tx, tbl, tbl.KeyOf(row)); err != nil {
			return err
		}
	}
	for _, row := range cs.Updates {
		if err := store.Update(ctx, tx, tbl, row); err != nil {
			return err
		}
	}
	for _, row := range cs.Inserts {
		if err := store.Insert(ctx, tx, tbl, tbl.KeyOf(row), row); err != nil {
			return err
		}
	}
	return nil
}

// Changes turns tracked rows into a change set without de-duplication.
// Deleted rows that were never persisted are dropped.
func Changes[T Row[T]](incid string, rows []domain.Tracked[T], nextID func() int64) ChangeSet[T] {
	var cs ChangeSet[T]
	for _, r := range rows {
		switch {
		case r.Deleted && r.Added:
		case r.Deleted:
			cs.Deletes = append(cs.Deletes, r.Original)
		case r.Added || r.Current.RowID() == domain.NewRowID:
			row := r.Current.Assign(nextID(), incid)
			cs.Inserts = append(cs.Inserts, row)
			cs.Result = append(cs.Result, row)
		default:
			row := r.Current.Assign(r.Current.RowID(), incid)
			if row != r.Original {
				cs.Updates = append(cs.Updates, row)
			}
			cs.Result = append(cs.Result, row)
		}
	}
	return cs
}

// split separates tracked rows into live current values and persisted originals
func split[T comparable](rows []domain.Tracked[T]) (current, persisted []T) {
	for _, r := range rows {
		if !r.Deleted {
			current = append(current, r.Current)
		}
		if !r.Added {
			persisted = append(persisted, r.Original)
		}
	}
	return current, persisted
}

// track wraps persisted rows as unchanged tracked records
func track[T comparable](rows []T) []domain.Tracked[T] {
	out := make([]domain.Tracked[T], len(rows))
	for i, r := range rows {
		out[i] = domain.Track(r)
	}
	return out
}
