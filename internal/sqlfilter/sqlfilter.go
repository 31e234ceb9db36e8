// Package sqlfilter builds structured WHERE-clause fragments that address rows
// by key. Predicates are kept as condition lists rather than SQL strings so
// each store can render them with its own quoting and placeholders.
package sqlfilter

import (
	"fmt"
	"strings"
	"time"

	"github.com/lherron/hlutool/internal/domain"
)

// ValueType is the semantic type of a condition's literal value.
type ValueType int

const (
	TypeNull ValueType = iota
	TypeString
	TypeInteger
	TypeFloat
	TypeTime
	TypeBool
)

// TypeOf infers the ValueType of v
func TypeOf(v any) ValueType {
	switch v.(type) {
	case nil:
		return TypeNull
	case string, []byte:
		return TypeString
	case int, int32, int64:
		return TypeInteger
	case float32, float64:
		return TypeFloat
	case time.Time:
		return TypeTime
	case bool:
		return TypeBool
	default:
		return TypeString
	}
}

// Condition is a single predicate term with its joiner and parenthesis markers.
// It is a value type: copies never share state, and Clone exists for callers
// that want the intent spelled out.
type Condition struct {
	BooleanOperator  string // "", "AND" or "OR"; ignored on the first term of a block
	OpenParentheses  string
	Table            string
	Column           string
	Operator         string
	Value            any
	ValueType        ValueType
	CloseParentheses string
}

// New returns an equality condition on table.column.
func New(table, column string, value any) Condition {
	return Condition{Table: table, Column: column, Operator: "=", Value: value, ValueType: TypeOf(value)}
}

// Clone returns an independent copy of c
func (c Condition) Clone() Condition {
	return c
}

// KeyedRows is an ordered table of rows addressed by column position.
type KeyedRows struct {
	Columns []string
	Rows    [][]any
}

// BuildKeyedWhereClauses partitions rows into blocks of at most maxBlockSize
// rows. Each block is an OR of parenthesized ANDs over the key columns:
//
//	(k1 = v1 AND k2 = v2) OR (k1 = v3 AND k2 = v4) OR ...
//
// An empty input or an empty key list yields nil.
func BuildKeyedWhereClauses(rows KeyedRows, keyColumns []int, maxBlockSize int, table string) [][]Condition {
	if len(rows.Rows) == 0 || len(keyColumns) == 0 {
		return nil
	}
	if maxBlockSize <= 0 {
		maxBlockSize = len(rows.Rows)
	}

	var blocks [][]Condition
	for start := 0; start < len(rows.Rows); start += maxBlockSize {
		end := start + maxBlockSize
		if end > len(rows.Rows) {
			end = len(rows.Rows)
		}

		block := make([]Condition, 0, (end-start)*len(keyColumns))
		for ri, row := range rows.Rows[start:end] {
			for ki, col := range keyColumns {
				c := New(table, rows.Columns[col], row[col])
				if ki == 0 {
					c.OpenParentheses = "("
					if ri > 0 {
						c.BooleanOperator = "OR"
					}
				} else {
					c.BooleanOperator = "AND"
				}
				if ki == len(keyColumns)-1 {
					c.CloseParentheses = ")"
				}
				block = append(block, c)
			}
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// BuildPagedInClause groups scalar key values into OR-batches of at most
// pageSize values each, keeping generated statements within safe limits.
func BuildPagedInClause(values []any, pageSize int, column, table string) [][]Condition {
	if len(values) == 0 {
		return nil
	}
	if pageSize <= 0 {
		pageSize = len(values)
	}

	var blocks [][]Condition
	for start := 0; start < len(values); start += pageSize {
		end := start + pageSize
		if end > len(values) {
			end = len(values)
		}
		block := make([]Condition, 0, end-start)
		for i, v := range values[start:end] {
			c := New(table, column, v)
			if i > 0 {
				c.BooleanOperator = "OR"
			}
			block = append(block, c)
		}
		block[0].OpenParentheses = "("
		block[len(block)-1].CloseParentheses += ")"
		blocks = append(blocks, block)
	}
	return blocks
}

// FeatureKeys addresses feature fragments by (toid, toidfragid)
func FeatureKeys(keys []domain.FeatureKey, maxBlockSize int, table string) [][]Condition {
	rows := KeyedRows{Columns: []string{"toid", "toidfragid"}}
	for _, k := range keys {
		rows.Rows = append(rows.Rows, []any{k.Toid, k.ToidFragID})
	}
	return BuildKeyedWhereClauses(rows, []int{0, 1}, maxBlockSize, table)
}

// Incids addresses rows by incid in pages of pageSize
func Incids(incids []string, pageSize int, table string) [][]Condition {
	values := make([]any, len(incids))
	for i, v := range incids {
		values[i] = v
	}
	return BuildPagedInClause(values, pageSize, "incid", table)
}

// JoinWhereClauseLists AND-combines every block of a with every block of b.
// When either side is empty the other side is returned unchanged.
func JoinWhereClauseLists(a, b [][]Condition) [][]Condition {
	if len(a) == 0 {
		return cloneBlocks(b)
	}
	if len(b) == 0 {
		return cloneBlocks(a)
	}

	var out [][]Condition
	for _, x := range a {
		for _, y := range b {
			left := wrap(x)
			right := wrap(y)
			right[0].BooleanOperator = "AND"
			out = append(out, append(left, right...))
		}
	}
	return out
}

// Retarget returns a copy of blocks with every condition pointed at table
func Retarget(blocks [][]Condition, table string) [][]Condition {
	out := cloneBlocks(blocks)
	for _, block := range out {
		for i := range block {
			block[i].Table = table
		}
	}
	return out
}

func wrap(block []Condition) []Condition {
	out := append([]Condition(nil), block...)
	out[0].BooleanOperator = ""
	out[0].OpenParentheses = "(" + out[0].OpenParentheses
	out[len(out)-1].CloseParentheses += ")"
	return out
}

func cloneBlocks(blocks [][]Condition) [][]Condition {
	if blocks == nil {
		return nil
	}
	out := make([][]Condition, len(blocks))
	for i, b := range blocks {
		out[i] = append([]Condition(nil), b...)
	}
	return out
}

// Quoter is the dialect surface needed to render conditions
type Quoter interface {
	QuoteIdentifier(name string) string
	QuoteValue(v any) string
	QualifyTableName(table string) string
}

// Render renders a block as parametrized SQL with '?' placeholders
func Render(q Quoter, block []Condition) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(block))
	for i, c := range block {
		writeTerm(&sb, q, c, i == 0, func(v any) string {
			args = append(args, v)
			return "?"
		})
	}
	return sb.String(), args
}

// Inline renders a block with literal values, for logging and diagnostics only.
func Inline(q Quoter, block []Condition) string {
	var sb strings.Builder
	for i, c := range block {
		writeTerm(&sb, q, c, i == 0, q.QuoteValue)
	}
	return sb.String()
}

func writeTerm(sb *strings.Builder, q Quoter, c Condition, first bool, bind func(any) string) {
	if !first {
		op := c.BooleanOperator
		if op == "" {
			op = "AND"
		}
		sb.WriteString(" ")
		sb.WriteString(op)
		sb.WriteString(" ")
	}
	sb.WriteString(c.OpenParentheses)

	column := q.QuoteIdentifier(c.Column)
	if c.Table != "" {
		column = q.QualifyTableName(c.Table) + "." + column
	}
	sb.WriteString(column)

	op := c.Operator
	if op == "" {
		op = "="
	}
	switch {
	case c.Value == nil && op == "=":
		sb.WriteString(" IS NULL")
	case c.Value == nil && (op == "<>" || op == "!="):
		sb.WriteString(" IS NOT NULL")
	default:
		sb.WriteString(" ")
		sb.WriteString(op)
		sb.WriteString(" ")
		sb.WriteString(bind(c.Value))
	}
	sb.WriteString(c.CloseParentheses)
}

// Validate checks that a block's parentheses balance
func Validate(block []Condition) error {
	depth := 0
	for i, c := range block {
		depth += strings.Count(c.OpenParentheses, "(")
		depth -= strings.Count(c.CloseParentheses, ")")
		if depth < 0 {
			return fmt.Errorf("unbalanced parentheses at term %d", i)
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced parentheses: %d unclosed", depth)
	}
	return nil
}
