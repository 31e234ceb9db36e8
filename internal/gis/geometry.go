package gis

import (
	"context"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/lherron/hlutool/internal/domain"
)

// Combine joins fragment geometries into one multi-geometry. Fragments are
// assumed disjoint, so parts are collected rather than unioned.
func Combine(geoms []orb.Geometry) orb.Geometry {
	var polys orb.MultiPolygon
	var lines orb.MultiLineString
	var points orb.MultiPoint
	var other orb.Collection

	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			polys = append(polys, v)
		case orb.MultiPolygon:
			polys = append(polys, v...)
		case orb.LineString:
			lines = append(lines, v)
		case orb.MultiLineString:
			lines = append(lines, v...)
		case orb.Point:
			points = append(points, v)
		case orb.MultiPoint:
			points = append(points, v...)
		case nil:
		default:
			other = append(other, v)
		}
	}

	kinds := 0
	for _, n := range []int{len(polys), len(lines), len(points), len(other)} {
		if n > 0 {
			kinds++
		}
	}
	switch {
	case kinds == 0:
		return nil
	case kinds > 1:
		var c orb.Collection
		for _, p := range polys {
			c = append(c, p)
		}
		for _, l := range lines {
			c = append(c, l)
		}
		for _, p := range points {
			c = append(c, p)
		}
		return append(c, other...)
	case len(polys) == 1:
		return polys[0]
	case len(polys) > 1:
		return polys
	case len(lines) == 1:
		return lines[0]
	case len(lines) > 1:
		return lines
	case len(points) == 1:
		return points[0]
	case len(points) > 1:
		return points
	default:
		return other
	}
}

// Explode returns the parts of a multi-part geometry. Single-part geometries
// yield themselves.
func Explode(g orb.Geometry) []orb.Geometry {
	switch v := g.(type) {
	case nil:
		return nil
	case orb.MultiPolygon:
		out := make([]orb.Geometry, len(v))
		for i, p := range v {
			out[i] = p
		}
		return out
	case orb.MultiLineString:
		out := make([]orb.Geometry, len(v))
		for i, l := range v {
			out[i] = l
		}
		return out
	case orb.MultiPoint:
		out := make([]orb.Geometry, len(v))
		for i, p := range v {
			out[i] = p
		}
		return out
	case orb.Collection:
		return append([]orb.Geometry{}, v...)
	default:
		return []orb.Geometry{g}
	}
}

// ImportGeoJSON reads a feature collection and adds every feature to the
// layer. Properties supply the attribute columns; toid and incid are
// required. The imported rows are returned measured for the layer type.
func (l *FeatureLayer) ImportGeoJSON(ctx context.Context, r io.Reader) ([]domain.IncidPolygon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}

	var out []domain.IncidPolygon
	for i, f := range fc.Features {
		p := domain.IncidPolygon{
			Incid:      f.Properties.MustString(ColIncid, ""),
			Toid:       f.Properties.MustString(ColToid, ""),
			ToidFragID: f.Properties.MustString(ColToidFragID, "00001"),
			HabPrimary: domain.NullString(f.Properties.MustString(ColHabPrimary, "")),
			HabSecond:  domain.NullString(f.Properties.MustString(ColHabSecond, "")),
			DetermQty:  domain.NullString(f.Properties.MustString(ColDetermQty, "")),
			InterpQty:  domain.NullString(f.Properties.MustString(ColInterpQty, "")),
		}
		if p.Incid == "" || p.Toid == "" {
			return out, fmt.Errorf("feature %d: incid and toid properties are required", i)
		}
		if err := l.AddFeature(ctx, p, f.Geometry); err != nil {
			return out, fmt.Errorf("feature %d: %w", i, err)
		}
		out = append(out, feature{incid: p.Incid, key: p.Key(), shared: p.Shared(), geom: f.Geometry}.polygon(l.geom))
	}
	return out, nil
}
