// Package selector narrows a catalog to the tiles that actually intersect the
// area of interest and applies the run's selection strategy.
package selector

import (
	"log/slog"

	"github.com/lidarfetch/lidarfetch/internal/catalog"
	"github.com/lidarfetch/lidarfetch/internal/core/model"
	"github.com/lidarfetch/lidarfetch/internal/geo"
)

// MaxTilesRecommended is the soft ceiling above which a selection gets a
// warning. The run still proceeds.
const MaxTilesRecommended = 50

type Selector struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Selector {
	return &Selector{log: log}
}

// Select returns the catalog tiles whose footprint intersects the AOI, in
// catalog order. Tiles without a parseable footprint are kept: dropping a
// tile that might cover the area is worse than downloading one that does not.
func (s *Selector) Select(cat *catalog.Catalog, aoi geo.AOI) []model.TileRecord {
	indices := s.candidates(cat, aoi)

	var out []model.TileRecord
	for _, i := range indices {
		rec := cat.Records[i]
		if len(rec.FootprintJSON) == 0 {
			s.log.Warn("tile has no footprint, including it", "tile", rec.Name)
			out = append(out, rec)
			continue
		}
		fp, err := geo.ParseGeoJSON(rec.FootprintJSON)
		if err != nil {
			s.log.Warn("unparseable tile footprint, including it", "tile", rec.Name, "err", err)
			out = append(out, rec)
			continue
		}
		if geo.Intersects(aoi.Geometry, fp) {
			out = append(out, rec)
		}
	}

	if len(out) > MaxTilesRecommended {
		s.log.Warn("selection is large, consider a smaller area",
			"tiles", len(out), "recommended_max", MaxTilesRecommended)
	}
	return out
}

func (s *Selector) candidates(cat *catalog.Catalog, aoi geo.AOI) []int {
	if cat.Index == nil {
		all := make([]int, len(cat.Records))
		for i := range all {
			all[i] = i
		}
		return all
	}
	return cat.Index.Candidates(aoi.BBoxWGS84)
}

// Apply reduces the intersecting set according to the strategy. DownloadAll
// and MergeAll keep every tile; MostCoverage keeps the single tile covering
// the largest share of the AOI.
func (s *Selector) Apply(strategy model.Strategy, tiles []model.TileRecord, aoi geo.AOI) []model.TileRecord {
	if strategy != model.MostCoverage || len(tiles) <= 1 {
		return tiles
	}
	return []model.TileRecord{s.mostCoverage(tiles, aoi)}
}

// mostCoverage picks the tile with the largest intersection area. Ties and
// unknown areas resolve to the earliest tile in catalog order, so the same
// input always yields the same tile.
func (s *Selector) mostCoverage(tiles []model.TileRecord, aoi geo.AOI) model.TileRecord {
	best := tiles[0]
	bestArea := -1.0
	for _, t := range tiles {
		fp, err := geo.ParseGeoJSON(t.FootprintJSON)
		if err != nil {
			continue
		}
		area, err := geo.IntersectionArea(aoi.Geometry, fp)
		if err != nil {
			s.log.Warn("coverage area unknown for tile", "tile", t.Name, "err", err)
			continue
		}
		if area > bestArea {
			best = t
			bestArea = area
		}
	}
	if bestArea <= 0 {
		// no tile produced a positive overlap area; keep the first
		s.log.Warn("no positive coverage computed, keeping first tile", "tile", tiles[0].Name)
		return tiles[0]
	}
	return best
}
