package models

import "time"

// AlertScale is the NOAA space-weather scale an alert belongs to.
type AlertScale string

const (
	ScaleGeomagnetic    AlertScale = "G"
	ScaleSolarRadiation AlertScale = "S"
	ScaleRadioBlackout  AlertScale = "R"
)

type SpaceWeatherAlert struct {
	ProductID string     `json:"product_id"`
	Scale     AlertScale `json:"scale,omitempty"`
	Level     int        `json:"level"` // 1-5 on the NOAA scale, 0 when the message names none
	IssuedAt  time.Time  `json:"issued_at"`
	Message   string     `json:"message"`
}

// Severity renders the alert as e.g. "G3", or "" when it has no scale.
func (a SpaceWeatherAlert) Severity() string {
	if a.Scale == "" || a.Level == 0 {
		return ""
	}
	return string(a.Scale) + string(rune('0'+a.Level))
}

type SolarWind struct {
	Timestamp   time.Time `json:"timestamp"`
	Speed       float64   `json:"speed"`   // km/s
	Density     float64   `json:"density"` // protons/cm^3
	Temperature float64   `json:"temperature,omitempty"`
}

type MagnetometerReading struct {
	Timestamp time.Time `json:"timestamp"`
	Satellite int       `json:"satellite"`
	Hp        float64   `json:"hp"` // nT, GOES parallel component
}

// SpaceWeatherSnapshot aggregates the feed. Any field may be absent: nil
// pointers and AlertsKnown=false mean the source could not be read.
type SpaceWeatherSnapshot struct {
	Timestamp    time.Time            `json:"timestamp"`
	Kp           *float64             `json:"kp,omitempty"`
	KpObservedAt time.Time            `json:"kp_observed_at,omitempty"`
	Alerts       []SpaceWeatherAlert  `json:"alerts,omitempty"`
	AlertsKnown  bool                 `json:"alerts_known"`
	SolarWind    *SolarWind           `json:"solar_wind,omitempty"`
	Magnetometer *MagnetometerReading `json:"magnetometer,omitempty"`
	// FetchedAt is the oldest fetch time among the present fields.
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale"`
}

// Empty reports whether no field of the snapshot could be read.
func (s SpaceWeatherSnapshot) Empty() bool {
	return s.Kp == nil && !s.AlertsKnown && s.SolarWind == nil && s.Magnetometer == nil
}
