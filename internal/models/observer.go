package models

import (
	"fmt"
	"math"
)

// ObserverPosition is a geodetic position on the WGS-84 ellipsoid.
type ObserverPosition struct {
	Latitude  float64 `json:"latitude"`  // degrees, north positive
	Longitude float64 `json:"longitude"` // degrees, east positive
	Altitude  float64 `json:"altitude"`  // meters above the ellipsoid
}

func (o ObserverPosition) Validate() error {
	if math.IsNaN(o.Latitude) || o.Latitude < -90 || o.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %v", o.Latitude)
	}
	if math.IsNaN(o.Longitude) || o.Longitude < -180 || o.Longitude > 180 {
		return fmt.Errorf("invalid longitude: %v", o.Longitude)
	}
	if math.IsNaN(o.Altitude) || o.Altitude < -1000 || o.Altitude > 100000 {
		return fmt.Errorf("invalid altitude: %v", o.Altitude)
	}
	return nil
}
