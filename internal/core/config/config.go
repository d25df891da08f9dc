// Package config loads pipeline configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Datasets maps the short dataset codes to their WFS feature type names.
var Datasets = map[string]string{
	"mnt":   "IGNF_LIDAR-HD_TA:mnt-dalle",
	"mns":   "IGNF_LIDAR-HD_TA:mns-dalle",
	"mnh":   "IGNF_LIDAR-HD_TA:mnh-dalle",
	"lidar": "IGNF_LIDAR-HD_TA:nuage-dalle",
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool

	// Catalog acquisition.
	Mode         string // "wfs" or "local"
	WFSEndpoint  string
	Dataset      string
	CatalogCRS   string
	MirrorURLs   []string
	IndexRelPath string
	H3Res        int

	// Remote-catalog response cache.
	RedisAddr      string
	CacheTTL       time.Duration
	CacheOpTimeout time.Duration
	CatalogLRUSize int

	// Download engine.
	MaxConcurrent   int
	RetryMax        int
	RetryBackoff    time.Duration
	HTTPTimeout     time.Duration
	MinFileSize     int64
	EstimatedTileMB int64
	DiskMarginMB    int64
	MinDiskSpaceMB  int64
	RateLimit       int // requests/second, 0 disables

	// Merge stage.
	MergeCommand string
	MergeScheme  string
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8080"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),

		Mode:        getenv("CATALOG_MODE", "wfs"),
		WFSEndpoint: getenv("WFS_ENDPOINT", "https://data.geopf.fr/wfs/ows"),
		Dataset:     getenv("DATASET", "lidar"),
		CatalogCRS:  getenv("CATALOG_CRS", "EPSG:2154"),
		MirrorURLs: getlist("CATALOG_MIRRORS", []string{
			"https://zenodo.org/records/14867452/files/TA_MAJ.zip",
			"https://diffusion-lidarhd-classe.ign.fr/download/lidar/shp/classe",
		}),
		IndexRelPath: getenv("CATALOG_INDEX_PATH", "catalog/tiles.geojson"),
		H3Res:        clampint(getint("H3_RES", 7), 0, 15),

		RedisAddr:      getenv("REDIS_ADDR", ""),
		CacheTTL:       getduration("CACHE_TTL", 15*time.Minute),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CatalogLRUSize: getint("CATALOG_LRU_SIZE", 4),

		MaxConcurrent:   clampint(getint("MAX_CONCURRENT", 4), 1, 10),
		RetryMax:        getint("RETRY_MAX", 3),
		RetryBackoff:    getduration("RETRY_BACKOFF", 500*time.Millisecond),
		HTTPTimeout:     getduration("HTTP_TIMEOUT", 30*time.Second),
		MinFileSize:     getint64("MIN_FILE_SIZE", 1024),
		EstimatedTileMB: getint64("ESTIMATED_TILE_MB", 100),
		DiskMarginMB:    getint64("DISK_MARGIN_MB", 100),
		MinDiskSpaceMB:  getint64("MIN_DISK_SPACE_MB", 1024),
		RateLimit:       getint("RATE_LIMIT", 0),

		MergeCommand: getenv("MERGE_COMMAND", "pdal"),
		MergeScheme:  getenv("MERGE_SCHEME", "copc"),
	}
}

// TypeName resolves the configured dataset to its WFS feature type. Unknown
// codes are passed through verbatim so callers can target arbitrary layers.
func (c Config) TypeName() string {
	if tn, ok := Datasets[strings.ToLower(strings.TrimSpace(c.Dataset))]; ok {
		return tn
	}
	return c.Dataset
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "url1,url2" into a slice, preserving order
func getlist(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for p := range strings.SplitSeq(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func clampint(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
