package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	incidPattern  = regexp.MustCompile(`^(\d{4}):(\d{7})$`)
	fragIDPattern = regexp.MustCompile(`^\d{1,7}$`)
)

// FragIDWidth is the zero-padded width of generated fragment ids
const FragIDWidth = 5

// Incid is a parsed incid identifier
type Incid struct {
	Site int
	Seq  int
}

func (i Incid) String() string {
	return FormatIncid(i.Site, i.Seq)
}

// FormatIncid formats an incid from its site prefix and sequence number
func FormatIncid(site, seq int) string {
	return fmt.Sprintf("%04d:%07d", site, seq)
}

// ParseIncid parses an incid string of the form nnnn:nnnnnnn
func ParseIncid(s string) (Incid, error) {
	m := incidPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Incid{}, fmt.Errorf("invalid incid format: %q (expected nnnn:nnnnnnn)", s)
	}
	site, _ := strconv.Atoi(m[1])
	seq, _ := strconv.Atoi(m[2])
	return Incid{Site: site, Seq: seq}, nil
}

// IsIncid checks if a string is a well-formed incid
func IsIncid(s string) bool {
	_, err := ParseIncid(s)
	return err == nil
}

// CompareIncids orders two incids numerically by site, then sequence.
// Malformed input is an error rather than a silent lexical comparison.
func CompareIncids(a, b string) (int, error) {
	pa, err := ParseIncid(a)
	if err != nil {
		return 0, err
	}
	pb, err := ParseIncid(b)
	if err != nil {
		return 0, err
	}
	switch {
	case pa.Site != pb.Site:
		return cmpInt(pa.Site, pb.Site), nil
	default:
		return cmpInt(pa.Seq, pb.Seq), nil
	}
}

// FormatFragID formats a fragment sequence number
func FormatFragID(n int) string {
	return fmt.Sprintf("%0*d", FragIDWidth, n)
}

// ParseFragID parses a numeric fragment id
func ParseFragID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !fragIDPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid fragment id: %q", s)
	}
	return strconv.Atoi(s)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
