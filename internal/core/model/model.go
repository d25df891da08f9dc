// Package model defines core domain types shared across the pipeline.
package model

import (
	"fmt"
	"strings"
)

type BBox struct {
	XMin, YMin float64
	XMax, YMax float64
	SRID       string
}

// String representation matching the WFS bbox parameter format, with the
// CRS expressed as an OGC urn (e.g. urn:ogc:def:crs:EPSG::2154).
func (b BBox) String() string {
	return fmt.Sprintf("%f,%f,%f,%f,%s", b.XMin, b.YMin, b.XMax, b.YMax, CRSURN(b.SRID))
}

// CRSURN converts an "EPSG:2154" style code into its OGC urn form. Codes
// already in urn form pass through unchanged.
func CRSURN(code string) string {
	c := strings.TrimSpace(code)
	if strings.HasPrefix(strings.ToLower(c), "urn:") {
		return c
	}
	if rest, ok := strings.CutPrefix(strings.ToUpper(c), "EPSG:"); ok {
		return "urn:ogc:def:crs:EPSG::" + rest
	}
	return c
}

// Expand grows the box to include the point (x, y).
func (b *BBox) Expand(x, y float64) {
	if b.IsZero() {
		b.XMin, b.YMin, b.XMax, b.YMax = x, y, x, y
		return
	}
	if x < b.XMin {
		b.XMin = x
	}
	if x > b.XMax {
		b.XMax = x
	}
	if y < b.YMin {
		b.YMin = y
	}
	if y > b.YMax {
		b.YMax = y
	}
}

func (b BBox) IsZero() bool {
	return b.XMin == 0 && b.YMin == 0 && b.XMax == 0 && b.YMax == 0
}

// TileRecord is one catalog entry. Immutable once loaded; the selector and
// the download engine only hold read references.
type TileRecord struct {
	ID            string
	Name          string
	URL           string
	FootprintJSON []byte // raw GeoJSON geometry in the catalog CRS, may be nil
	BBox          BBox   // footprint bbox in the catalog CRS
	BBoxWGS84     BBox   // footprint bbox in EPSG:4326, used for cell indexing
	Properties    map[string]any
}

// Strategy governs which intersecting tiles are kept and whether the
// downloaded set is consolidated afterwards.
type Strategy int

const (
	DownloadAll Strategy = iota
	MergeAll
	MostCoverage
)

func (s Strategy) String() string {
	switch s {
	case DownloadAll:
		return "download-all"
	case MergeAll:
		return "merge-all"
	case MostCoverage:
		return "most-coverage"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "download-all", "all", "":
		return DownloadAll, nil
	case "merge-all", "merge":
		return MergeAll, nil
	case "most-coverage", "coverage", "best":
		return MostCoverage, nil
	}
	return DownloadAll, fmt.Errorf("unknown strategy %q", s)
}

// DownloadTask is an ephemeral unit of work, one per selected tile.
type DownloadTask struct {
	URL     string
	Name    string
	DestDir string
	Force   bool
}

type DownloadResult struct {
	OK   bool
	Path string
}

type MergeOutcome struct {
	Path     string
	Fallback bool
}

// RunStatus distinguishes an empty-but-successful run from an aborted one;
// emptiness alone does not carry that information.
type RunStatus int

const (
	StatusOK RunStatus = iota
	StatusEmpty
	StatusPartial
	StatusCancelled
	StatusAborted
)

func (s RunStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusPartial:
		return "partial"
	case StatusCancelled:
		return "cancelled"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RunResult is what the pipeline hands back to the hosting application.
type RunResult struct {
	OutputDir   string    `json:"output_directory"`
	PrimaryFile string    `json:"primary_file"`
	FileList    string    `json:"file_list"` // semicolon-joined, empty if none
	Files       []string  `json:"files"`
	Status      RunStatus `json:"-"`
	StatusText  string    `json:"status"`
	Warning     string    `json:"warning,omitempty"`
}
