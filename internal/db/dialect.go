package db

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect delegates the identifier and literal quoting rules of a SQL engine.
// Queries in this module are written with '?' placeholders and passed through
// Rebind before execution.
type Dialect interface {
	Name() string
	QuoteIdentifier(name string) string
	QuoteValue(v any) string
	QualifyTableName(table string) string
	Rebind(query string) string
}

// DialectFor returns the dialect for a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite, "":
		return SQLiteDialect{}, nil
	case DriverPostgres:
		return PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// SQLiteDialect implements Dialect for SQLite
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) QuoteIdentifier(name string) string { return quoteIdent(name) }

func (SQLiteDialect) QuoteValue(v any) string { return quoteLiteral(v) }

func (SQLiteDialect) QualifyTableName(table string) string { return quoteIdent(table) }

func (SQLiteDialect) Rebind(query string) string { return query }

// PostgresDialect implements Dialect for PostgreSQL
type PostgresDialect struct {
	Schema string
}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) QuoteIdentifier(name string) string { return quoteIdent(name) }

func (PostgresDialect) QuoteValue(v any) string { return quoteLiteral(v) }

func (d PostgresDialect) QualifyTableName(table string) string {
	if d.Schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(d.Schema) + "." + quoteIdent(table)
}

// Rebind converts '?' placeholders to $1..$n, leaving quoted text untouched
func (PostgresDialect) Rebind(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return "'" + x.UTC().Format("2006-01-02 15:04:05") + "'"
	default:
		return quoteLiteral(fmt.Sprint(x))
	}
}
