package models

import "time"

type ConstellationGroup string

const (
	GroupGPS     ConstellationGroup = "GPS"
	GroupGalileo ConstellationGroup = "GALILEO"
	GroupGLONASS ConstellationGroup = "GLONASS"
	GroupBeiDou  ConstellationGroup = "BEIDOU"
	GroupSBAS    ConstellationGroup = "SBAS"
)

// KnownGroups lists every constellation group the engine can evaluate.
var KnownGroups = []ConstellationGroup{GroupGPS, GroupGalileo, GroupGLONASS, GroupBeiDou, GroupSBAS}

func ParseGroup(s string) (ConstellationGroup, bool) {
	for _, g := range KnownGroups {
		if string(g) == s {
			return g, true
		}
	}
	switch s {
	case "gps", "gps-ops":
		return GroupGPS, true
	case "galileo":
		return GroupGalileo, true
	case "glonass", "glo-ops":
		return GroupGLONASS, true
	case "beidou":
		return GroupBeiDou, true
	case "sbas":
		return GroupSBAS, true
	}
	return "", false
}

// OrbitalElementSet is one satellite's mean elements at a reference epoch.
// Sets are never mutated after decode; a refresh replaces the whole slice.
type OrbitalElementSet struct {
	SatelliteID    string             `json:"satellite_id"` // COSPAR designator, e.g. "2018-109A"
	Name           string             `json:"name"`
	Group          ConstellationGroup `json:"group"`
	NoradID        int                `json:"norad_id"`
	Epoch          time.Time          `json:"epoch"`
	MeanMotion     float64            `json:"mean_motion"`  // rev/day
	Eccentricity   float64            `json:"eccentricity"` // 0 <= e < 1
	Inclination    float64            `json:"inclination"`  // degrees
	RAAN           float64            `json:"raan"`         // degrees
	ArgPerigee     float64            `json:"arg_perigee"`  // degrees
	MeanAnomaly    float64            `json:"mean_anomaly"` // degrees
	BStar          float64            `json:"bstar"`        // drag term, 1/earth radii
	MeanMotionDot  float64            `json:"mean_motion_dot"`
	MeanMotionDDot float64            `json:"mean_motion_ddot"`
	ElementSetNo   int                `json:"element_set_no"`
	RevAtEpoch     int                `json:"rev_at_epoch"`
}

// Age returns how far at is from the element epoch, always non-negative.
func (e OrbitalElementSet) Age(at time.Time) time.Duration {
	d := at.Sub(e.Epoch)
	if d < 0 {
		return -d
	}
	return d
}
