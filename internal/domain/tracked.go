package domain

// Tracked wraps a record with its original value so dirtiness can be derived
// by comparison instead of row-state bookkeeping.
type Tracked[T comparable] struct {
	Original T
	Current  T
	Added    bool
	Deleted  bool
}

// Track starts tracking v as an unchanged persisted record
func Track[T comparable](v T) Tracked[T] {
	return Tracked[T]{Original: v, Current: v}
}

// TrackNew starts tracking v as a record that has not been persisted
func TrackNew[T comparable](v T) Tracked[T] {
	return Tracked[T]{Current: v, Added: true}
}

// Dirty reports whether the record needs to be written
func (t Tracked[T]) Dirty() bool {
	return t.Added || t.Deleted || t.Original != t.Current
}

// Accept makes the current value the new original
func (t *Tracked[T]) Accept() {
	t.Original = t.Current
	t.Added = false
}

// Revert discards pending changes
func (t *Tracked[T]) Revert() {
	t.Current = t.Original
	t.Deleted = false
}

// AnyDirty reports whether any record in the slice needs to be written
func AnyDirty[T comparable](rows []Tracked[T]) bool {
	for _, r := range rows {
		if r.Dirty() {
			return true
		}
	}
	return false
}
