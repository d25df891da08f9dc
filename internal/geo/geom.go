// Package geo provides the minimal geometry surface the pipeline needs:
// GeoJSON parsing, polygon intersection tests, intersection areas, bounding
// boxes, and coordinate reference system transforms.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
)

// ParseGeoJSON decodes a GeoJSON geometry document.
func ParseGeoJSON(raw []byte) (geom.Geometry, error) {
	g, err := geom.UnmarshalGeoJSON(raw)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("parse geojson: %w", err)
	}
	return g, nil
}

// Intersects reports whether the two geometries share at least one point.
func Intersects(a, b geom.Geometry) bool {
	return geom.Intersects(a, b)
}

// IntersectionArea computes the area of a ∩ b. Callers treat an error as
// "area unknown" and fall open rather than dropping the tile.
func IntersectionArea(a, b geom.Geometry) (float64, error) {
	inter, err := geom.Intersection(a, b)
	if err != nil {
		return 0, fmt.Errorf("intersection: %w", err)
	}
	return inter.Area(), nil
}

// BBoxOfGeoJSON computes the bounding box of a Polygon/MultiPolygon GeoJSON
// geometry, optionally passing every vertex through fn first. A nil fn keeps
// the native coordinates.
func BBoxOfGeoJSON(raw []byte, fn PointFunc, srid string) (model.BBox, error) {
	bb := model.BBox{SRID: srid}
	err := walkCoords(raw, func(x, y float64) {
		if fn != nil {
			x, y = fn(x, y)
		}
		bb.Expand(x, y)
	})
	if err != nil {
		return model.BBox{}, err
	}
	if bb.IsZero() {
		return model.BBox{}, errors.New("geometry has no coordinates")
	}
	return bb, nil
}

// walkCoords visits every vertex of a Polygon or MultiPolygon geometry.
func walkCoords(raw []byte, visit func(x, y float64)) error {
	var hdr struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return fmt.Errorf("parse geojson: %w", err)
	}
	switch strings.TrimSpace(hdr.Type) {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(hdr.Coordinates, &rings); err != nil {
			return fmt.Errorf("parse polygon coords: %w", err)
		}
		visitRings(rings, visit)
		return nil
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(hdr.Coordinates, &polys); err != nil {
			return fmt.Errorf("parse multipolygon coords: %w", err)
		}
		for _, rings := range polys {
			visitRings(rings, visit)
		}
		return nil
	default:
		return fmt.Errorf("unsupported geometry type %q", hdr.Type)
	}
}

func visitRings(rings [][][]float64, visit func(x, y float64)) {
	for _, ring := range rings {
		for _, xy := range ring {
			if len(xy) < 2 {
				continue
			}
			visit(xy[0], xy[1])
		}
	}
}
