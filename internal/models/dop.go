package models

import "time"

type DOPMetrics struct {
	Timestamp      time.Time        `json:"timestamp"`
	Observer       ObserverPosition `json:"observer"`
	SatelliteCount int              `json:"satellite_count"`
	GDOP           float64          `json:"gdop"`
	PDOP           float64          `json:"pdop"`
	HDOP           float64          `json:"hdop"`
	VDOP           float64          `json:"vdop"`
	TDOP           float64          `json:"tdop"`
}

// InsufficientGeometry explains why no DOP could be derived.
type InsufficientGeometry struct {
	SatelliteCount int    `json:"satellite_count"`
	Reason         string `json:"reason"`
}

// DOPResult holds exactly one of Metrics or Insufficient. The zero value is
// insufficient geometry, so an unset result never reads as perfect geometry.
type DOPResult struct {
	Metrics      *DOPMetrics           `json:"metrics,omitempty"`
	Insufficient *InsufficientGeometry `json:"insufficient_geometry,omitempty"`
}

func DOPOf(m DOPMetrics) DOPResult {
	return DOPResult{Metrics: &m}
}

func NoGeometry(count int, reason string) DOPResult {
	return DOPResult{Insufficient: &InsufficientGeometry{SatelliteCount: count, Reason: reason}}
}

// Valid reports whether the result carries numeric DOP values.
func (r DOPResult) Valid() bool {
	return r.Metrics != nil && r.Insufficient == nil
}

// PDOP returns the position DOP and whether it is defined.
func (r DOPResult) PDOP() (float64, bool) {
	if !r.Valid() {
		return 0, false
	}
	return r.Metrics.PDOP, true
}
