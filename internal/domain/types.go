package domain

import (
	"database/sql"
	"time"
)

// GeometryType is the shape type of the GIS layer being edited
type GeometryType string

const (
	GeometryPoint   GeometryType = "point"
	GeometryLine    GeometryType = "line"
	GeometryPolygon GeometryType = "polygon"
)

// Operation is the symbolic name of a mutating operation recorded in history.
// The name is resolved against lut_operation descriptions at write time.
type Operation string

const (
	OpLogicalMerge    Operation = "LogicalMerge"
	OpPhysicalMerge   Operation = "PhysicalMerge"
	OpLogicalSplit    Operation = "LogicalSplit"
	OpPhysicalSplit   Operation = "PhysicalSplit"
	OpAttributeUpdate Operation = "AttributeUpdate"
	OpOSMMUpdate      Operation = "OSMMUpdate"
	OpBulkUpdate      Operation = "BulkUpdate"
)

// OSMMStatus is the signed state of an OSMM update proposal
type OSMMStatus int

const (
	OSMMPending  OSMMStatus = 0
	OSMMApplied  OSMMStatus = -1
	OSMMIgnored  OSMMStatus = -2
	OSMMRejected OSMMStatus = -99
)

// IsProposed reports whether the status is a (possibly escalated) proposal
func (s OSMMStatus) IsProposed() bool { return s > 0 }

// IsOpen reports whether the proposal still awaits a decision (Pending or Proposed)
func (s OSMMStatus) IsOpen() bool { return s >= 0 }

func (s OSMMStatus) String() string {
	switch {
	case s > 0:
		return "proposed"
	case s == OSMMPending:
		return "pending"
	case s == OSMMApplied:
		return "applied"
	case s == OSMMIgnored:
		return "ignored"
	case s == OSMMRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// BapSource distinguishes automatically derived BAP rows from user entered ones
type BapSource string

const (
	BapSourceAuto BapSource = "auto"
	BapSourceUser BapSource = "user"
)

// NewRowID marks a child row that has not been persisted yet
const NewRowID int64 = -1

// Session carries the identity and edit context of the current user
type Session struct {
	UserID       string
	Reason       string
	Process      string
	GeometryType GeometryType
	PageSize     int
}

// Incid is the logical habitat/land-use record
type Incid struct {
	Incid                 string         `json:"incid" db:"incid"`
	HabitatPrimary        sql.NullString `json:"habitat_primary" db:"habitat_primary"`
	HabitatSecondaries    sql.NullString `json:"habitat_secondaries" db:"habitat_secondaries"`
	QualityDetermination  sql.NullString `json:"quality_determination" db:"quality_determination"`
	QualityInterpretation sql.NullString `json:"quality_interpretation" db:"quality_interpretation"`
	IHSHabitat            sql.NullString `json:"ihs_habitat" db:"ihs_habitat"`
	CreatedUser           string         `json:"created_user_id" db:"created_user_id"`
	CreatedDate           time.Time      `json:"created_date" db:"created_date"`
	LastModifiedUser      string         `json:"last_modified_user_id" db:"last_modified_user_id"`
	LastModifiedDate      time.Time      `json:"last_modified_date" db:"last_modified_date"`
}

// Shared returns the attributes this incid pushes down to its polygons
func (i Incid) Shared() SharedAttributes {
	return SharedAttributes{
		HabPrimary: i.HabitatPrimary,
		HabSecond:  i.HabitatSecondaries,
		DetermQty:  i.QualityDetermination,
		InterpQty:  i.QualityInterpretation,
	}
}

// SharedAttributes are the incid attributes duplicated onto every polygon
type SharedAttributes struct {
	HabPrimary sql.NullString
	HabSecond  sql.NullString
	DetermQty  sql.NullString
	InterpQty  sql.NullString
}

// Columns returns the polygon column names in a stable order
func (SharedAttributes) Columns() []string {
	return []string{"habprimary", "habsecond", "determqty", "interpqty"}
}

// Values returns the attribute values in Columns order; invalid values are nil
func (a SharedAttributes) Values() []any {
	return []any{nullable(a.HabPrimary), nullable(a.HabSecond), nullable(a.DetermQty), nullable(a.InterpQty)}
}

// IncidPolygon is one row of the relational shadow copy of the GIS layer
type IncidPolygon struct {
	Incid       string          `json:"incid" db:"incid"`
	Toid        string          `json:"toid" db:"toid"`
	ToidFragID  string          `json:"toidfragid" db:"toidfragid"`
	HabPrimary  sql.NullString  `json:"habprimary" db:"habprimary"`
	HabSecond   sql.NullString  `json:"habsecond" db:"habsecond"`
	DetermQty   sql.NullString  `json:"determqty" db:"determqty"`
	InterpQty   sql.NullString  `json:"interpqty" db:"interpqty"`
	ShapeLength sql.NullFloat64 `json:"shape_length" db:"shape_length"`
	ShapeArea   sql.NullFloat64 `json:"shape_area" db:"shape_area"`
}

// Key returns the composite (toid, toidfragid) key
func (p IncidPolygon) Key() FeatureKey {
	return FeatureKey{Toid: p.Toid, ToidFragID: p.ToidFragID}
}

// Shared returns the shared attributes currently held by the polygon
func (p IncidPolygon) Shared() SharedAttributes {
	return SharedAttributes{HabPrimary: p.HabPrimary, HabSecond: p.HabSecond, DetermQty: p.DetermQty, InterpQty: p.InterpQty}
}

// WithShared returns a copy of p carrying attrs
func (p IncidPolygon) WithShared(attrs SharedAttributes) IncidPolygon {
	p.HabPrimary = attrs.HabPrimary
	p.HabSecond = attrs.HabSecond
	p.DetermQty = attrs.DetermQty
	p.InterpQty = attrs.InterpQty
	return p
}

// FeatureKey identifies a single GIS feature fragment
type FeatureKey struct {
	Toid       string `json:"toid"`
	ToidFragID string `json:"toidfragid"`
}

// HistoryRecord is one append-only audit row
type HistoryRecord struct {
	HistoryID         int64           `json:"history_id" db:"history_id"`
	Incid             string          `json:"incid" db:"incid"`
	Toid              sql.NullString  `json:"toid" db:"toid"`
	ToidFragID        sql.NullString  `json:"toidfragid" db:"toidfragid"`
	ModifiedUserID    string          `json:"modified_user_id" db:"modified_user_id"`
	ModifiedDate      time.Time       `json:"modified_date" db:"modified_date"`
	ModifiedReason    string          `json:"modified_reason" db:"modified_reason"`
	ModifiedProcess   string          `json:"modified_process" db:"modified_process"`
	ModifiedOperation string          `json:"modified_operation" db:"modified_operation"`
	ModifiedIncid     sql.NullString  `json:"modified_incid" db:"modified_incid"`
	ModifiedFragID    sql.NullString  `json:"modified_toidfragid" db:"modified_toidfragid"`
	ModifiedPrimary   sql.NullString  `json:"modified_habprimary" db:"modified_habprimary"`
	ModifiedSecond    sql.NullString  `json:"modified_habsecond" db:"modified_habsecond"`
	ModifiedDetermQty sql.NullString  `json:"modified_determqty" db:"modified_determqty"`
	ModifiedInterpQty sql.NullString  `json:"modified_interpqty" db:"modified_interpqty"`
	ModifiedLength    sql.NullFloat64 `json:"modified_length" db:"modified_length"`
	ModifiedArea      sql.NullFloat64 `json:"modified_area" db:"modified_area"`
}

// BapEnvironment is a Biodiversity Action Plan habitat attached to an incid
type BapEnvironment struct {
	BapID                  int64          `json:"bap_id" db:"bap_id"`
	Incid                  string         `json:"incid" db:"incid"`
	BapHabitat             string         `json:"bap_habitat" db:"bap_habitat"`
	QualityDetermination   sql.NullString `json:"quality_determination" db:"quality_determination"`
	QualityInterpretation  sql.NullString `json:"quality_interpretation" db:"quality_interpretation"`
	InterpretationComments sql.NullString `json:"interpretation_comments" db:"interpretation_comments"`
	Source                 BapSource      `json:"bap_source" db:"bap_source"`
}

// SecondaryHabitat is a secondary habitat code attached to an incid
type SecondaryHabitat struct {
	SecondaryID      int64  `json:"secondary_id" db:"secondary_id"`
	Incid            string `json:"incid" db:"incid"`
	SecondaryGroup   string `json:"secondary_group" db:"secondary_group"`
	SecondaryHabitat string `json:"secondary_habitat" db:"secondary_habitat"`
}

// IHSFamily names one of the legacy IHS multiplex tables
type IHSFamily string

const (
	IHSMatrix     IHSFamily = "matrix"
	IHSFormation  IHSFamily = "formation"
	IHSManagement IHSFamily = "management"
	IHSComplex    IHSFamily = "complex"
)

// IHSFamilies lists every IHS family in table order
var IHSFamilies = []IHSFamily{IHSMatrix, IHSFormation, IHSManagement, IHSComplex}

// Table returns the relational table that stores the family
func (f IHSFamily) Table() string { return "incid_ihs_" + string(f) }

// IHSMultiplex is one IHS code row
type IHSMultiplex struct {
	ID    int64  `json:"id" db:"id"`
	Incid string `json:"incid" db:"incid"`
	Code  string `json:"code" db:"code"`
}

// Condition records the habitat condition of an incid
type Condition struct {
	ConditionID        int64          `json:"condition_id" db:"condition_id"`
	Incid              string         `json:"incid" db:"incid"`
	Condition          sql.NullString `json:"condition" db:"condition"`
	ConditionQualifier sql.NullString `json:"condition_qualifier" db:"condition_qualifier"`
	ConditionDate      sql.NullTime   `json:"condition_date" db:"condition_date"`
}

// Source is a data source reference for an incid
type Source struct {
	IncidSourceID      int64          `json:"incid_source_id" db:"incid_source_id"`
	Incid              string         `json:"incid" db:"incid"`
	SourceID           int64          `json:"source_id" db:"source_id"`
	SourceDate         sql.NullTime   `json:"source_date" db:"source_date"`
	SourceHabitatClass sql.NullString `json:"source_habitat_class" db:"source_habitat_class"`
	SortOrder          int            `json:"sort_order" db:"sort_order"`
}

// OSMMUpdate is a machine proposed habitat change for an incid
type OSMMUpdate struct {
	IncidOSMMUpdateID int64          `json:"incid_osmm_update_id" db:"incid_osmm_update_id"`
	Incid             string         `json:"incid" db:"incid"`
	OSMMXrefID        int64          `json:"osmm_xref_id" db:"osmm_xref_id"`
	ProcessFlag       int            `json:"process_flag" db:"process_flag"`
	SpatialFlag       sql.NullString `json:"spatial_flag" db:"spatial_flag"`
	ChangeFlag        sql.NullString `json:"change_flag" db:"change_flag"`
	Status            OSMMStatus     `json:"status" db:"status"`
	LastModifiedUser  string         `json:"last_modified_user_id" db:"last_modified_user_id"`
	LastModifiedDate  time.Time      `json:"last_modified_date" db:"last_modified_date"`
}

// Lookup is a code/description pair from a lookup table
type Lookup struct {
	Code        string `json:"code" db:"code"`
	Description string `json:"description" db:"description"`
}

// FeatureSnapshot is one row of a GIS history snapshot
type FeatureSnapshot struct {
	Columns []string
	Values  map[string]any
}

// Get returns the value for column, or nil when absent
func (f FeatureSnapshot) Get(column string) any {
	if f.Values == nil {
		return nil
	}
	return f.Values[column]
}

// String returns the value for column rendered as a string
func (f FeatureSnapshot) String(column string) string {
	switch v := f.Get(column).(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmtAny(v)
	}
}

// Snapshot is the table returned by the GIS layer for history purposes
type Snapshot []FeatureSnapshot

// Truncate drops sub-second precision so timestamps compare equal across engines
func Truncate(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// NullString builds a sql.NullString that is invalid for blank input
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullable(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}
