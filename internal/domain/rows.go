package domain

import "strings"

// RowID and Assign let child rows be written through one generic path.
// NaturalKey and Valid drive duplicate removal for secondary and BAP rows.

func (s SecondaryHabitat) RowID() int64 { return s.SecondaryID }

func (s SecondaryHabitat) Assign(id int64, incid string) SecondaryHabitat {
	s.SecondaryID, s.Incid = id, incid
	return s
}

// NaturalKey identifies a secondary habitat by group and code
func (s SecondaryHabitat) NaturalKey() string {
	return strings.ToUpper(strings.TrimSpace(s.SecondaryGroup)) + "\x00" + strings.ToUpper(strings.TrimSpace(s.SecondaryHabitat))
}

// Valid reports whether the row names a habitat
func (s SecondaryHabitat) Valid() bool {
	return strings.TrimSpace(s.SecondaryHabitat) != ""
}

func (b BapEnvironment) RowID() int64 { return b.BapID }

func (b BapEnvironment) Assign(id int64, incid string) BapEnvironment {
	b.BapID, b.Incid = id, incid
	return b
}

// NaturalKey identifies a BAP row by its habitat code
func (b BapEnvironment) NaturalKey() string {
	return strings.ToUpper(strings.TrimSpace(b.BapHabitat))
}

// Valid reports whether the row names a habitat with a known source
func (b BapEnvironment) Valid() bool {
	return strings.TrimSpace(b.BapHabitat) != "" && ValidateBapSource(string(b.Source)) == nil
}

func (m IHSMultiplex) RowID() int64 { return m.ID }

func (m IHSMultiplex) Assign(id int64, incid string) IHSMultiplex {
	m.ID, m.Incid = id, incid
	return m
}

func (c Condition) RowID() int64 { return c.ConditionID }

func (c Condition) Assign(id int64, incid string) Condition {
	c.ConditionID, c.Incid = id, incid
	return c
}

func (s Source) RowID() int64 { return s.IncidSourceID }

func (s Source) Assign(id int64, incid string) Source {
	s.IncidSourceID, s.Incid = id, incid
	return s
}
