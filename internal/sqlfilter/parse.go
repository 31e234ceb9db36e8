package sqlfilter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var termPattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(<=|>=|<>|!=|=|<|>|(?i:like))\s*(.*?)\s*$`)

// ParseTerm reads a single "column op value" term such as "process_flag>=3"
// or "spatial_flag like 'A%'". Values that parse as integers are typed as
// integers; quoted values are always strings.
func ParseTerm(s string) (Condition, error) {
	m := termPattern.FindStringSubmatch(s)
	if m == nil || m[3] == "" {
		return Condition{}, fmt.Errorf("invalid filter %q: expected <column><op><value>", s)
	}

	c := Condition{Column: strings.ToLower(m[1]), Operator: strings.ToUpper(m[2])}
	if c.Operator == "!=" {
		c.Operator = "<>"
	}

	raw := m[3]
	if len(raw) >= 2 && (raw[0] == '\'' || raw[0] == '"') && raw[len(raw)-1] == raw[0] {
		c.Value, c.ValueType = raw[1:len(raw)-1], TypeString
		return c, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		c.Value, c.ValueType = n, TypeInteger
		return c, nil
	}
	c.Value, c.ValueType = raw, TypeString
	return c, nil
}

// ParseBlock parses terms and ANDs them into a single block.
func ParseBlock(terms []string) ([]Condition, error) {
	block := make([]Condition, 0, len(terms))
	for i, t := range terms {
		c, err := ParseTerm(t)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			c.BooleanOperator = "AND"
		}
		block = append(block, c)
	}
	return block, nil
}
