package risk

import (
	"fmt"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/config"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// Thresholds is the operating profile a status is judged against. A value
// exactly on a threshold falls in the worse band.
type Thresholds struct {
	KpAmber   float64 `json:"kp_amber"`
	KpRed     float64 `json:"kp_red"`
	PDOPAmber float64 `json:"pdop_amber"`
	PDOPRed   float64 `json:"pdop_red"`
	// AlertLevel is the lowest NOAA scale level (1-5) of an active alert that
	// forces RED. AlertScales limits which scales count; empty means all.
	AlertLevel  int                 `json:"alert_level"`
	AlertScales []models.AlertScale `json:"alert_scales,omitempty"`

	ElementsFreshness time.Duration `json:"elements_freshness"`
	WeatherFreshness  time.Duration `json:"weather_freshness"`
	// StatusTTL sets RiskStatus.ExpiresAt relative to the evaluation time.
	StatusTTL time.Duration `json:"status_ttl"`
}

// DefaultThresholds suits dynamic-positioning operations: a G3 storm or a
// PDOP of 6 stops work, Kp 5 or PDOP 4 raises caution.
var DefaultThresholds = Thresholds{
	KpAmber:           5,
	KpRed:             7,
	PDOPAmber:         4,
	PDOPRed:           6,
	AlertLevel:        3,
	ElementsFreshness: 24 * time.Hour,
	WeatherFreshness:  time.Hour,
	StatusTTL:         5 * time.Minute,
}

func FromConfig(c config.ThresholdsConfig) Thresholds {
	return Thresholds{
		KpAmber:           c.KpAmber,
		KpRed:             c.KpRed,
		PDOPAmber:         c.PDOPAmber,
		PDOPRed:           c.PDOPRed,
		AlertLevel:        c.AlertLevel,
		ElementsFreshness: c.ElementsFreshness,
		WeatherFreshness:  c.WeatherFreshness,
		StatusTTL:         c.StatusTTL,
	}
}

func (t Thresholds) Validate() error {
	if t.KpAmber > t.KpRed {
		return fmt.Errorf("kp amber %v above red %v", t.KpAmber, t.KpRed)
	}
	if t.PDOPAmber > t.PDOPRed {
		return fmt.Errorf("pdop amber %v above red %v", t.PDOPAmber, t.PDOPRed)
	}
	if t.AlertLevel < 1 || t.AlertLevel > 5 {
		return fmt.Errorf("alert level %d outside 1-5", t.AlertLevel)
	}
	return nil
}

func (t Thresholds) alertTriggers(a models.SpaceWeatherAlert) bool {
	if a.Level < t.AlertLevel {
		return false
	}
	if len(t.AlertScales) == 0 {
		return true
	}
	for _, s := range t.AlertScales {
		if s == a.Scale {
			return true
		}
	}
	return false
}
