package api

import (
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON maps the observer and the sub-satellite point of every visible
// satellite, for plotting a sky snapshot on a map.
func toGeoJSON(observer models.ObserverPosition, vis []models.SatelliteVisibility) FeatureCollection {
	features := make([]Feature, 0, len(vis)+1)

	features = append(features, Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: []float64{observer.Longitude, observer.Latitude, observer.Altitude},
		},
		Properties: map[string]any{
			"kind": "observer",
		},
	})

	for _, v := range vis {
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{v.SubLongitude, v.SubLatitude},
			},
			Properties: map[string]any{
				"kind":         "satellite",
				"satellite_id": v.SatelliteID,
				"name":         v.Name,
				"group":        v.Group,
				"elevation":    v.Elevation,
				"azimuth":      v.Azimuth,
				"slant_range":  v.SlantRange,
				"timestamp":    v.Timestamp,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
