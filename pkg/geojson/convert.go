// Package geojson converts Overpass API responses into RFC 7946 GeoJSON
// FeatureCollections for the map overlay client.
package geojson

import "encoding/json"

// EmptyCollection is the serialized form of a FeatureCollection with no
// features. Conversion falls back to it on any malformed input so the
// overlay renderer always receives well-formed GeoJSON.
const EmptyCollection = `{"type":"FeatureCollection","features":[]}`

// FeatureCollection is a GeoJSON FeatureCollection
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a GeoJSON Feature with LineString geometry
type Feature struct {
	Type       string            `json:"type"`
	Geometry   LineString        `json:"geometry"`
	Properties map[string]string `json:"properties"`
}

// LineString is a GeoJSON LineString geometry. Coordinates are
// [longitude, latitude] pairs, the reverse of Overpass field order.
type LineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// NewFeatureCollection returns an empty collection whose features slice
// serializes as [] rather than null.
func NewFeatureCollection() FeatureCollection {
	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: []Feature{},
	}
}

// FromOverpass converts an Overpass JSON payload into a FeatureCollection.
// Only way elements carrying a geometry array are converted; relations and
// bare elements are skipped, as are ways with no usable geometry points.
// Any parse error yields an empty collection rather than an error.
func FromOverpass(data []byte) FeatureCollection {
	fc := NewFeatureCollection()

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fc
	}

	elements, ok := doc["elements"].([]any)
	if !ok {
		return fc
	}

	for _, raw := range elements {
		element, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if kind, _ := element["type"].(string); kind != "way" {
			continue
		}
		geometry, ok := element["geometry"].([]any)
		if !ok {
			continue
		}

		coords := make([][]float64, 0, len(geometry))
		for _, rawPoint := range geometry {
			point, ok := rawPoint.(map[string]any)
			if !ok {
				continue
			}
			lat, okLat := point["lat"].(float64)
			lon, okLon := point["lon"].(float64)
			if !okLat || !okLon {
				continue
			}
			// GeoJSON wants [lon, lat]
			coords = append(coords, []float64{lon, lat})
		}
		if len(coords) == 0 {
			continue
		}

		properties := make(map[string]string)
		if tags, ok := element["tags"].(map[string]any); ok {
			for key, value := range tags {
				// Non-string tag values flatten to empty strings
				s, _ := value.(string)
				properties[key] = s
			}
		}

		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: LineString{
				Type:        "LineString",
				Coordinates: coords,
			},
			Properties: properties,
		})
	}

	return fc
}

// Convert converts an Overpass JSON payload into compact serialized
// GeoJSON. It never fails: malformed input and serialization problems
// both degrade to the empty collection.
func Convert(data []byte) []byte {
	out, err := json.Marshal(FromOverpass(data))
	if err != nil {
		return []byte(EmptyCollection)
	}
	return out
}
