// Package gis is the GIS feature layer collaborator. Layer is the narrow
// surface the merge, split and update engines call into; FeatureLayer is an
// in-process implementation backed by its own SQLite file.
package gis

import (
	"context"

	"github.com/lherron/hlutool/internal/domain"
	"github.com/lherron/hlutool/internal/sqlfilter"
)

// Feature attribute columns
const (
	ColIncid       = "incid"
	ColToid        = "toid"
	ColToidFragID  = "toidfragid"
	ColHabPrimary  = "habprimary"
	ColHabSecond   = "habsecond"
	ColDetermQty   = "determqty"
	ColInterpQty   = "interpqty"
	ColShapeLength = "shape_length"
	ColShapeArea   = "shape_area"
)

// AttributeColumns are the stored attribute columns of a feature
var AttributeColumns = []string{ColIncid, ColToid, ColToidFragID, ColHabPrimary, ColHabSecond, ColDetermQty, ColInterpQty}

// SharedColumns are the attributes every feature copies from its incid
var SharedColumns = []string{ColHabPrimary, ColHabSecond, ColDetermQty, ColInterpQty}

// HistoryColumns returns the columns captured in history snapshots for a layer
func HistoryColumns(geom domain.GeometryType) []string {
	cols := append([]string{}, AttributeColumns...)
	switch geom {
	case domain.GeometryPolygon:
		cols = append(cols, ColShapeLength, ColShapeArea)
	case domain.GeometryLine:
		cols = append(cols, ColShapeLength)
	}
	return cols
}

// Checkpoint is an opaque copy of layer state used to compensate a change
type Checkpoint interface {
	Toids() []string
}

// Layer is the GIS collaborator
type Layer interface {
	GeometryType() domain.GeometryType

	// GetHistory returns a snapshot of the features matching where. A nil
	// where addresses every feature.
	GetHistory(ctx context.Context, columns []string, where [][]sqlfilter.Condition) (domain.Snapshot, error)

	// NewEditOperation opens a named edit operation for queued attribute updates
	NewEditOperation(name string) *EditOperation

	// UpdateFeatures queues an attribute update on op
	UpdateFeatures(ctx context.Context, op *EditOperation, columns []string, values []any, where [][]sqlfilter.Condition) error

	// MergeFeaturesLogically gives the selected features the survivor incid
	// and its shared attributes, returning their pre-merge snapshot.
	MergeFeaturesLogically(ctx context.Context, survivorIncid string, keys []domain.FeatureKey, historyColumns []string) (domain.Snapshot, error)

	// MergeFeatures collapses the fragments matching where into the survivor
	// fragment. The snapshot holds one row per merged fragment followed by a
	// result row carrying the merged measurements.
	MergeFeatures(ctx context.Context, survivorFragID string, where [][]sqlfilter.Condition, historyColumns []string) (domain.Snapshot, error)

	// SplitFeaturesLogically moves the selected features to a new incid,
	// returning their pre-split snapshot.
	SplitFeaturesLogically(ctx context.Context, newIncid string, keys []domain.FeatureKey, historyColumns []string) (domain.Snapshot, error)

	// SplitFeaturesPhysically explodes a multi-part feature into one feature
	// per part. The first part keeps the key; the snapshot holds every
	// resulting fragment after the split.
	SplitFeaturesPhysically(ctx context.Context, key domain.FeatureKey, historyColumns []string) (domain.Snapshot, error)

	// Flash highlights features for the user
	Flash(ctx context.Context, keys []domain.FeatureKey) error

	// Checkpoint captures every feature of the given toids; Restore puts them back
	Checkpoint(ctx context.Context, toids []string) (Checkpoint, error)
	Restore(ctx context.Context, cp Checkpoint) error
}
