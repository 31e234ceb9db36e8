package sqlfilter

import (
	"fmt"
	"strings"
)

// Row resolves a column value for in-memory evaluation.
type Row func(table, column string) any

// Match evaluates a block against a single row with SQL precedence
// (AND binds tighter than OR). NULL compares unequal to everything.
func Match(block []Condition, row Row) (bool, error) {
	if len(block) == 0 {
		return true, nil
	}
	p := &parser{toks: tokenize(block), row: row}
	v, err := p.or()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("unexpected token at position %d", p.pos)
	}
	return v, nil
}

// MatchAny reports whether any block matches the row
func MatchAny(blocks [][]Condition, row Row) (bool, error) {
	for _, b := range blocks {
		ok, err := Match(b, row)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type tokKind int

const (
	tokOpen tokKind = iota
	tokClose
	tokAnd
	tokOr
	tokTerm
)

type token struct {
	kind tokKind
	cond Condition
}

func tokenize(block []Condition) []token {
	var toks []token
	for i, c := range block {
		if i > 0 {
			if strings.EqualFold(c.BooleanOperator, "OR") {
				toks = append(toks, token{kind: tokOr})
			} else {
				toks = append(toks, token{kind: tokAnd})
			}
		}
		for n := strings.Count(c.OpenParentheses, "("); n > 0; n-- {
			toks = append(toks, token{kind: tokOpen})
		}
		toks = append(toks, token{kind: tokTerm, cond: c})
		for n := strings.Count(c.CloseParentheses, ")"); n > 0; n-- {
			toks = append(toks, token{kind: tokClose})
		}
	}
	return toks
}

type parser struct {
	toks []token
	pos  int
	row  Row
}

func (p *parser) peek(k tokKind) bool {
	return p.pos < len(p.toks) && p.toks[p.pos].kind == k
}

func (p *parser) or() (bool, error) {
	v, err := p.and()
	if err != nil {
		return false, err
	}
	for p.peek(tokOr) {
		p.pos++
		r, err := p.and()
		if err != nil {
			return false, err
		}
		v = v || r
	}
	return v, nil
}

func (p *parser) and() (bool, error) {
	v, err := p.primary()
	if err != nil {
		return false, err
	}
	for p.peek(tokAnd) {
		p.pos++
		r, err := p.primary()
		if err != nil {
			return false, err
		}
		v = v && r
	}
	return v, nil
}

func (p *parser) primary() (bool, error) {
	if p.pos >= len(p.toks) {
		return false, fmt.Errorf("unexpected end of condition list")
	}
	t := p.toks[p.pos]
	switch t.kind {
	case tokOpen:
		p.pos++
		v, err := p.or()
		if err != nil {
			return false, err
		}
		if !p.peek(tokClose) {
			return false, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case tokTerm:
		p.pos++
		return evalTerm(t.cond, p.row(t.cond.Table, t.cond.Column))
	default:
		return false, fmt.Errorf("unexpected token at position %d", p.pos)
	}
}

func evalTerm(c Condition, actual any) (bool, error) {
	op := c.Operator
	if op == "" {
		op = "="
	}
	if c.Value == nil || actual == nil {
		switch op {
		case "=":
			return c.Value == nil && actual == nil, nil
		case "<>", "!=":
			return c.Value == nil && actual != nil, nil
		}
		return false, nil
	}

	cmp := compareValues(actual, c.Value)
	switch op {
	case "=":
		return cmp == 0, nil
	case "<>", "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
