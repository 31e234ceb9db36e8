package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateGeometryType validates a layer geometry type
func ValidateGeometryType(t string) (GeometryType, error) {
	switch GeometryType(strings.ToLower(strings.TrimSpace(t))) {
	case GeometryPoint:
		return GeometryPoint, nil
	case GeometryLine:
		return GeometryLine, nil
	case GeometryPolygon, "":
		return GeometryPolygon, nil
	default:
		return "", fmt.Errorf("invalid geometry type: must be one of: point, line, polygon")
	}
}

// ValidateBapSource validates a BAP source
func ValidateBapSource(s string) error {
	switch BapSource(s) {
	case BapSourceAuto, BapSourceUser:
		return nil
	default:
		return fmt.Errorf("invalid bap source: must be one of: auto, user")
	}
}

// ValidateSession checks the fields every mutating operation depends on
func ValidateSession(s Session) error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("invalid session: user id is required")
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("invalid session: page size must be positive")
	}
	if _, err := ValidateGeometryType(string(s.GeometryType)); err != nil {
		return err
	}
	return nil
}

// CompareFragIDs orders fragment ids numerically. Ids that are not numbers
// sort after numeric ones and compare lexically among themselves.
func CompareFragIDs(a, b string) int {
	ai, aerr := strconv.Atoi(strings.TrimSpace(a))
	bi, berr := strconv.Atoi(strings.TrimSpace(b))
	switch {
	case aerr == nil && berr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func fmtAny(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(v)
	}
}
