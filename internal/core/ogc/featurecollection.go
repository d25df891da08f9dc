package ogc

import (
	"encoding/json"
	"fmt"
)

// Feature is one entry of a GeoJSON feature collection. Geometry is kept raw;
// downstream code decides whether and how to parse it.
type Feature struct {
	ID         string          `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// ParseFeatureCollection decodes a GeoJSON FeatureCollection body. A missing
// "features" member is an error: catalog responses without it are malformed.
func ParseFeatureCollection(body []byte) ([]Feature, error) {
	var fc struct {
		Type     string     `json:"type"`
		Features []Feature  `json:"features"`
	}
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("parse feature collection: %w", err)
	}
	if fc.Features == nil {
		return nil, fmt.Errorf("no features member in response (type %q)", fc.Type)
	}
	return fc.Features, nil
}

// StringProp returns a non-empty string property, with ok=false when the
// property is absent, not a string, or blank.
func (f Feature) StringProp(key string) (string, bool) {
	v, ok := f.Properties[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
