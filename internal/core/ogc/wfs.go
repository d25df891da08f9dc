// Package ogc builds WFS GetFeature requests and decodes GeoJSON feature
// collections returned by the catalog service.
package ogc

import (
	"net/url"
	"strings"

	"github.com/lidarfetch/lidarfetch/internal/core/model"
)

// BuildGetFeatureParams assembles the query for a bbox-filtered GetFeature
// call. The bbox is the sole spatial filter; the server returns a superset of
// the truly intersecting features.
func BuildGetFeatureParams(typeName string, bbox model.BBox) url.Values {
	params := url.Values{}
	params.Set("SERVICE", "WFS")
	params.Set("VERSION", "2.0.0")
	params.Set("REQUEST", "GetFeature")
	params.Set("TYPENAME", typeName)
	params.Set("OUTPUTFORMAT", "application/json")
	params.Set("BBOX", bbox.String())
	return params
}

// GetFeatureURL joins the endpoint with encoded query parameters.
func GetFeatureURL(endpoint string, params url.Values) string {
	return strings.TrimRight(endpoint, "?") + "?" + params.Encode()
}
