package models

import "time"

// SatelliteVisibility is the look geometry from one observer to one satellite.
type SatelliteVisibility struct {
	SatelliteID  string             `json:"satellite_id"`
	Name         string             `json:"name,omitempty"`
	Group        ConstellationGroup `json:"group"`
	Timestamp    time.Time          `json:"timestamp"`
	Elevation    float64            `json:"elevation"`     // degrees above the horizon
	Azimuth      float64            `json:"azimuth"`       // degrees clockwise from north
	SlantRange   float64            `json:"slant_range"`   // meters
	SubLatitude  float64            `json:"sub_latitude"`  // degrees, point on the ellipsoid below the satellite
	SubLongitude float64            `json:"sub_longitude"` // degrees

	// LineOfSight is the unit vector from observer to satellite in the local
	// East-North-Up frame.
	LineOfSight [3]float64 `json:"-"`
}
