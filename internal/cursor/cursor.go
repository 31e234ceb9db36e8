// Package cursor encodes keyset pagination positions for history listings.
// A token is the unpadded URL-safe base64 of a small JSON object, so callers
// can pass it around as an opaque string.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every decoding failure
var ErrInvalid = errors.New("invalid cursor")

// Cursor marks the last history row a page returned. Incid is empty for
// listings that span every incid.
type Cursor struct {
	Incid  string `json:"incid,omitempty"`
	LastID int64  `json:"last_id"`
}

// Encode returns the opaque token for c
func (c Cursor) Encode() (string, error) {
	if c.LastID <= 0 {
		return "", fmt.Errorf("%w: last id must be positive, got %d", ErrInvalid, c.LastID)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a token produced by Encode
func Decode(token string) (Cursor, error) {
	var c Cursor
	if token == "" {
		return c, fmt.Errorf("%w: empty token", ErrInvalid)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("%w: not base64: %v", ErrInvalid, err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%w: not a cursor object: %v", ErrInvalid, err)
	}
	if c.LastID <= 0 {
		return c, fmt.Errorf("%w: no last id", ErrInvalid)
	}
	return c, nil
}

// Resume returns the id to continue after. An empty token starts from the
// beginning; a token issued for another incid is rejected.
func Resume(token, incid string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	c, err := Decode(token)
	if err != nil {
		return 0, err
	}
	if c.Incid != incid {
		return 0, fmt.Errorf("%w: issued for incid %q, not %q", ErrInvalid, c.Incid, incid)
	}
	return c.LastID, nil
}

// Next returns the token for the page after ids, or "" when the listing is
// unlimited or a short page shows nothing is left
func Next(incid string, ids []int64, limit int) (string, error) {
	if limit <= 0 || len(ids) < limit {
		return "", nil
	}
	return Cursor{Incid: incid, LastID: ids[len(ids)-1]}.Encode()
}
