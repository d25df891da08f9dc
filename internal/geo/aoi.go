package geo

import (
	"errors"
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
)

// AOI is the caller's area of interest, already reprojected into the catalog
// CRS. Immutable after preparation.
type AOI struct {
	Geometry  geom.Geometry // in the catalog CRS
	CRS       string        // catalog CRS code
	BBox      model.BBox    // in the catalog CRS
	BBoxWGS84 model.BBox    // for spatial-index cell queries
}

// PrepareAOI parses a GeoJSON Polygon/MultiPolygon and reprojects it once
// into the catalog CRS. The transform happens before any intersection test.
func PrepareAOI(raw []byte, srcCRS, catalogCRS string) (AOI, error) {
	if len(raw) == 0 {
		return AOI{}, errors.New("empty AOI geometry")
	}
	g, err := ParseGeoJSON(raw)
	if err != nil {
		return AOI{}, fmt.Errorf("aoi: %w", err)
	}
	if g.IsEmpty() {
		return AOI{}, errors.New("aoi: geometry is empty")
	}

	gt, err := Transform(g, srcCRS, catalogCRS)
	if err != nil {
		return AOI{}, fmt.Errorf("aoi: %w", err)
	}

	toCat, err := PointTransform(srcCRS, catalogCRS)
	if err != nil {
		return AOI{}, err
	}
	bb, err := BBoxOfGeoJSON(raw, toCat, catalogCRS)
	if err != nil {
		return AOI{}, fmt.Errorf("aoi bbox: %w", err)
	}

	toWGS, err := PointTransform(srcCRS, CRSWGS84)
	if err != nil {
		return AOI{}, err
	}
	bb84, err := BBoxOfGeoJSON(raw, toWGS, CRSWGS84)
	if err != nil {
		return AOI{}, fmt.Errorf("aoi bbox wgs84: %w", err)
	}

	return AOI{
		Geometry:  gt,
		CRS:       normalizeCRS(catalogCRS),
		BBox:      bb,
		BBoxWGS84: bb84,
	}, nil
}
