package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/lherron/hlutool/internal/db"
	"github.com/lherron/hlutool/internal/domain"
)

// Table describes a child table of incid keyed by an integer id
type Table[T any] struct {
	Name    string
	Key     string
	Columns []string // non-key columns, incid first

	key    func(T) int64
	values func(T) []any // in Columns order
	scan   func(scanner) (T, error)
}

// KeyOf returns the primary key of a row
func (tbl *Table[T]) KeyOf(row T) int64 {
	return tbl.key(row)
}

// Sequence returns the MAX+1 allocation spec for the table
func (tbl *Table[T]) Sequence() db.SequenceSpec {
	return db.SequenceSpec{Table: tbl.Name, IDColumn: tbl.Key}
}

func (tbl *Table[T]) selectSQL(t *Tx) string {
	cols := make([]string, 0, len(tbl.Columns)+1)
	cols = append(cols, t.col(tbl.Key))
	for _, c := range tbl.Columns {
		cols = append(cols, t.col(c))
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + t.table(tbl.Name)
}

// List returns the rows belonging to an incid ordered by key
func List[T any](ctx context.Context, t *Tx, tbl *Table[T], incid string) ([]T, error) {
	rows, err := t.QueryContext(ctx,
		tbl.selectSQL(t)+" WHERE incid = ? ORDER BY "+t.col(tbl.Key), incid)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", tbl.Name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		row, err := tbl.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", tbl.Name, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert writes a new row under the given key
func Insert[T any](ctx context.Context, t *Tx, tbl *Table[T], key int64, row T) error {
	cols := []string{t.col(tbl.Key)}
	for _, c := range tbl.Columns {
		cols = append(cols, t.col(c))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	args := append([]any{key}, tbl.values(row)...)
	_, err := t.ExecContext(ctx,
		"INSERT INTO "+t.table(tbl.Name)+" ("+strings.Join(cols, ", ")+") VALUES ("+marks+")", args...)
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", tbl.Name, err)
	}
	return nil
}

// Update rewrites every non-key column of an existing row
func Update[T any](ctx context.Context, t *Tx, tbl *Table[T], row T) error {
	sets := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		sets[i] = t.col(c) + " = ?"
	}
	key := tbl.key(row)
	args := append(tbl.values(row), key)
	res, err := t.ExecContext(ctx,
		"UPDATE "+t.table(tbl.Name)+" SET "+strings.Join(sets, ", ")+" WHERE "+t.col(tbl.Key)+" = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", tbl.Name, err)
	}
	return expectOne(res, tbl.Name, fmt.Sprint(key))
}

// Delete removes a row by key
func Delete[T any](ctx context.Context, t *Tx, tbl *Table[T], key int64) error {
	_, err := t.ExecContext(ctx, "DELETE FROM "+t.table(tbl.Name)+" WHERE "+t.col(tbl.Key)+" = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", tbl.Name, err)
	}
	return nil
}

// DeleteForIncid removes every row of an incid
func DeleteForIncid[T any](ctx context.Context, t *Tx, tbl *Table[T], incid string) (int64, error) {
	res, err := t.ExecContext(ctx, "DELETE FROM "+t.table(tbl.Name)+" WHERE incid = ?", incid)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s for %s: %w", tbl.Name, incid, err)
	}
	return res.RowsAffected()
}

var BapTable = &Table[domain.BapEnvironment]{
	Name:    "incid_bap",
	Key:     "bap_id",
	Columns: []string{"incid", "bap_habitat", "quality_determination", "quality_interpretation", "interpretation_comments", "bap_source"},
	key:     func(b domain.BapEnvironment) int64 { return b.BapID },
	values: func(b domain.BapEnvironment) []any {
		return []any{b.Incid, b.BapHabitat, b.QualityDetermination, b.QualityInterpretation, b.InterpretationComments, string(b.Source)}
	},
	scan: func(s scanner) (domain.BapEnvironment, error) {
		var b domain.BapEnvironment
		var source string
		err := s.Scan(&b.BapID, &b.Incid, &b.BapHabitat, &b.QualityDetermination, &b.QualityInterpretation, &b.InterpretationComments, &source)
		b.Source = domain.BapSource(source)
		return b, err
	},
}

var SecondaryTable = &Table[domain.SecondaryHabitat]{
	Name:    "incid_secondary",
	Key:     "secondary_id",
	Columns: []string{"incid", "secondary_group", "secondary_habitat"},
	key:     func(s domain.SecondaryHabitat) int64 { return s.SecondaryID },
	values: func(s domain.SecondaryHabitat) []any {
		return []any{s.Incid, s.SecondaryGroup, s.SecondaryHabitat}
	},
	scan: func(s scanner) (domain.SecondaryHabitat, error) {
		var r domain.SecondaryHabitat
		err := s.Scan(&r.SecondaryID, &r.Incid, &r.SecondaryGroup, &r.SecondaryHabitat)
		return r, err
	},
}

var ConditionTable = &Table[domain.Condition]{
	Name:    "incid_condition",
	Key:     "condition_id",
	Columns: []string{"incid", "condition", "condition_qualifier", "condition_date"},
	key:     func(c domain.Condition) int64 { return c.ConditionID },
	values: func(c domain.Condition) []any {
		return []any{c.Incid, c.Condition, c.ConditionQualifier, c.ConditionDate}
	},
	scan: func(s scanner) (domain.Condition, error) {
		var c domain.Condition
		err := s.Scan(&c.ConditionID, &c.Incid, &c.Condition, &c.ConditionQualifier, &c.ConditionDate)
		return c, err
	},
}

var SourceTable = &Table[domain.Source]{
	Name:    "incid_sources",
	Key:     "incid_source_id",
	Columns: []string{"incid", "source_id", "source_date", "source_habitat_class", "sort_order"},
	key:     func(s domain.Source) int64 { return s.IncidSourceID },
	values: func(s domain.Source) []any {
		return []any{s.Incid, s.SourceID, s.SourceDate, s.SourceHabitatClass, s.SortOrder}
	},
	scan: func(s scanner) (domain.Source, error) {
		var r domain.Source
		err := s.Scan(&r.IncidSourceID, &r.Incid, &r.SourceID, &r.SourceDate, &r.SourceHabitatClass, &r.SortOrder)
		return r, err
	},
}

var ihsTables = func() map[domain.IHSFamily]*Table[domain.IHSMultiplex] {
	m := make(map[domain.IHSFamily]*Table[domain.IHSMultiplex], len(domain.IHSFamilies))
	for _, f := range domain.IHSFamilies {
		m[f] = &Table[domain.IHSMultiplex]{
			Name:    f.Table(),
			Key:     "id",
			Columns: []string{"incid", "code"},
			key:     func(r domain.IHSMultiplex) int64 { return r.ID },
			values:  func(r domain.IHSMultiplex) []any { return []any{r.Incid, r.Code} },
			scan: func(s scanner) (domain.IHSMultiplex, error) {
				var r domain.IHSMultiplex
				err := s.Scan(&r.ID, &r.Incid, &r.Code)
				return r, err
			},
		}
	}
	return m
}()

// IHSTable returns the table for an IHS multiplex family
func IHSTable(f domain.IHSFamily) *Table[domain.IHSMultiplex] {
	return ihsTables[f]
}
