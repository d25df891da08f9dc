// Package index provides a cell-based spatial index over tile footprints.
// Footprint bounding boxes are mapped to the H3 cells covering them; a query
// returns the union of records sharing at least one cell with the query box.
// Cell queries over-select, so callers must still verify exact intersection.
package index

import (
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
)

type Index struct {
	res       int
	cells     map[h3.Cell][]int
	unindexed []int // records without a usable WGS84 bbox, always candidates
	size      int
}

// Build indexes the given records by their WGS84 bounding boxes. The index is
// read-only afterwards and safe for unsynchronized concurrent reads.
func Build(records []model.TileRecord, res int) (*Index, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	ix := &Index{
		res:   res,
		cells: make(map[h3.Cell][]int),
		size:  len(records),
	}
	for i, rec := range records {
		if rec.BBoxWGS84.IsZero() {
			ix.unindexed = append(ix.unindexed, i)
			continue
		}
		cs, err := cellsForBBox(rec.BBoxWGS84, res)
		if err != nil || len(cs) == 0 {
			ix.unindexed = append(ix.unindexed, i)
			continue
		}
		for _, c := range cs {
			ix.cells[c] = append(ix.cells[c], i)
		}
	}
	return ix, nil
}

// Size returns the number of indexed records.
func (ix *Index) Size() int { return ix.size }

// Candidates returns the indices of records whose footprint might intersect
// the query box, in catalog iteration order. The result is a superset of the
// truly intersecting records.
func (ix *Index) Candidates(bb model.BBox) []int {
	cs, err := cellsForBBox(bb, ix.res)
	if err != nil || len(cs) == 0 {
		// cannot map the query box; fall open to a full scan
		all := make([]int, ix.size)
		for i := range all {
			all[i] = i
		}
		return all
	}
	seen := make(map[int]struct{})
	var out []int
	add := func(i int) {
		if _, ok := seen[i]; !ok {
			seen[i] = struct{}{}
			out = append(out, i)
		}
	}
	for _, c := range cs {
		for _, i := range ix.cells[c] {
			add(i)
		}
	}
	for _, i := range ix.unindexed {
		add(i)
	}
	sort.Ints(out)
	return out
}

// cellsForBBox maps a rectangle in degrees to a covering cell set. Polyfill
// only keeps centroid-inside cells, so the box corners and centre are added
// and the whole set is widened by one ring. Over-selection is fine; missing a
// genuinely overlapping cell is not.
func cellsForBBox(bb model.BBox, res int) ([]h3.Cell, error) {
	outer := h3.GeoLoop{
		{Lat: bb.YMin, Lng: bb.XMin},
		{Lat: bb.YMin, Lng: bb.XMax},
		{Lat: bb.YMax, Lng: bb.XMax},
		{Lat: bb.YMax, Lng: bb.XMin},
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	anchors := []h3.LatLng{
		{Lat: (bb.YMin + bb.YMax) / 2, Lng: (bb.XMin + bb.XMax) / 2},
		{Lat: bb.YMin, Lng: bb.XMin},
		{Lat: bb.YMin, Lng: bb.XMax},
		{Lat: bb.YMax, Lng: bb.XMax},
		{Lat: bb.YMax, Lng: bb.XMin},
	}
	for _, ll := range anchors {
		c, err := h3.LatLngToCell(ll, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell: %w", err)
		}
		cells = append(cells, c)
	}

	seen := make(map[h3.Cell]struct{}, len(cells)*7)
	var out []h3.Cell
	for _, c := range cells {
		ring, err := h3.GridDisk(c, 1)
		if err != nil {
			ring = []h3.Cell{c}
		}
		for _, rc := range ring {
			if _, ok := seen[rc]; !ok {
				seen[rc] = struct{}{}
				out = append(out, rc)
			}
		}
	}
	return out, nil
}
