package history

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/lherron/hlutool/internal/domain"
)

// SplitWords breaks a symbolic name into its capitalized words:
// "LogicalMerge" -> ["Logical", "Merge"], "OSMMUpdate" -> ["OSMM", "Update"].
// Spaces, underscores and hyphens also separate words.
func SplitWords(name string) []string {
	runes := []rune(name)
	var words []string
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// DescriptionPattern builds the case-insensitive anchored pattern that matches a
// lookup description spelling out the words of name.
func DescriptionPattern(name string) *regexp.Regexp {
	words := SplitWords(name)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)^\s*` + strings.Join(quoted, `\s*`) + `\s*$`)
}

// resolveLookup returns the code whose value or description matches name.
// An exact code match wins; otherwise exactly one description must match.
func resolveLookup(ctx context.Context, tx Tx, table, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", &domain.LookupError{Table: table, Value: name}
	}

	lookups, err := tx.Lookups(ctx, table)
	if err != nil {
		return "", err
	}

	for _, l := range lookups {
		if strings.EqualFold(l.Code, strings.TrimSpace(name)) {
			return l.Code, nil
		}
	}

	pattern := DescriptionPattern(name)
	var matches []string
	for _, l := range lookups {
		if pattern.MatchString(l.Description) {
			matches = append(matches, l.Code)
		}
	}

	if len(matches) != 1 {
		return "", &domain.LookupError{Table: table, Value: name, Matches: matches}
	}
	return matches[0], nil
}
