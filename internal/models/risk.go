package models

import "time"

type RiskLevel string

const (
	RiskGreen   RiskLevel = "GREEN"
	RiskAmber   RiskLevel = "AMBER"
	RiskRed     RiskLevel = "RED"
	RiskUnknown RiskLevel = "UNKNOWN"
)

func (l RiskLevel) rank() int {
	switch l {
	case RiskGreen:
		return 0
	case RiskAmber:
		return 1
	case RiskRed:
		return 2
	default:
		return 3
	}
}

// Worse returns the more severe of l and other. UNKNOWN outranks RED.
func (l RiskLevel) Worse(other RiskLevel) RiskLevel {
	if other.rank() > l.rank() {
		return other
	}
	return l
}

func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskGreen, RiskAmber, RiskRed, RiskUnknown:
		return RiskLevel(s), true
	}
	return "", false
}

type Reason string

const (
	ReasonDOPDegraded       Reason = "DOP_DEGRADED"
	ReasonKpHigh            Reason = "KP_HIGH"
	ReasonAlertActive       Reason = "ALERT_ACTIVE"
	ReasonDataStale         Reason = "DATA_STALE"
	ReasonSourceUnavailable Reason = "SOURCE_UNAVAILABLE"
)

// Source tags which pipeline produced a status.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

type RiskStatus struct {
	ID             string             `json:"id"`
	Level          RiskLevel          `json:"level"`
	Reasons        []Reason           `json:"reasons"`
	EvaluatedAt    time.Time          `json:"evaluated_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
	Source         Source             `json:"source"`
	Group          ConstellationGroup `json:"group,omitempty"`
	PDOP           *float64           `json:"pdop,omitempty"`
	Kp             *float64           `json:"kp,omitempty"`
	SatelliteCount int                `json:"satellite_count"`
	Detail         string             `json:"detail,omitempty"`
}

func (s RiskStatus) HasReason(r Reason) bool {
	for _, have := range s.Reasons {
		if have == r {
			return true
		}
	}
	return false
}

// Expired reports whether the status is past its own staleness window.
func (s RiskStatus) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
