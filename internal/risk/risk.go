// Package risk classifies geometry and space-weather inputs into a traffic
// light status.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// Input is everything one evaluation looks at, captured before evaluation
// starts.
type Input struct {
	Group   models.ConstellationGroup
	DOP     models.DOPResult
	Weather models.SpaceWeatherSnapshot
	// PrimaryUnavailable reports that the primary backend could not supply
	// the values missing from Weather either.
	PrimaryUnavailable bool
	ElementsFetchedAt  time.Time
	Now                time.Time
}

type rule func(in Input, t Thresholds) (models.RiskLevel, []models.Reason, string, bool)

// rules run in order; the first that matches decides the level.
var rules = []rule{
	sourceUnavailable,
	alertActive,
	redBand,
	amberBand,
	dataStale,
}

// Evaluate applies the ordered decision rules and returns GREEN, AMBER or
// RED. It never fails: missing inputs resolve to the conservative branch.
func Evaluate(in Input, t Thresholds) models.RiskStatus {
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	level, reasons, detail := models.RiskGreen, []models.Reason{}, "all inputs within thresholds"
	for _, r := range rules {
		if l, rs, d, ok := r(in, t); ok {
			level, reasons, detail = l, rs, d
			break
		}
	}

	status := models.RiskStatus{
		Level:       level,
		Reasons:     reasons,
		EvaluatedAt: in.Now,
		ExpiresAt:   in.Now.Add(t.StatusTTL),
		Source:      models.SourceFallback,
		Group:       in.Group,
		Kp:          in.Weather.Kp,
		Detail:      detail,
	}
	if pdop, ok := in.DOP.PDOP(); ok {
		status.PDOP = &pdop
		status.SatelliteCount = in.DOP.Metrics.SatelliteCount
	} else if in.DOP.Insufficient != nil {
		status.SatelliteCount = in.DOP.Insufficient.SatelliteCount
	}
	return status
}

func sourceUnavailable(in Input, _ Thresholds) (models.RiskLevel, []models.Reason, string, bool) {
	if !in.DOP.Valid() {
		detail := "no satellite geometry"
		if in.DOP.Insufficient != nil {
			detail = "insufficient geometry: " + in.DOP.Insufficient.Reason
		}
		return models.RiskRed, []models.Reason{models.ReasonSourceUnavailable}, detail, true
	}
	if in.Weather.Kp == nil && in.PrimaryUnavailable {
		return models.RiskRed, []models.Reason{models.ReasonSourceUnavailable}, "kp unavailable from every source", true
	}
	return "", nil, "", false
}

func alertActive(in Input, t Thresholds) (models.RiskLevel, []models.Reason, string, bool) {
	var hits []string
	for _, a := range in.Weather.Alerts {
		if t.alertTriggers(a) {
			hits = append(hits, a.Severity())
		}
	}
	if len(hits) == 0 {
		return "", nil, "", false
	}
	return models.RiskRed, []models.Reason{models.ReasonAlertActive}, "active alerts: " + strings.Join(hits, ","), true
}

// band tags Kp and PDOP against one pair of limits. Comparisons use >= so a
// value on the limit lands in the worse band.
func band(in Input, kpLimit, pdopLimit float64) ([]models.Reason, []string) {
	var (
		reasons []models.Reason
		notes   []string
	)
	if kp := in.Weather.Kp; kp != nil && *kp >= kpLimit {
		reasons = append(reasons, models.ReasonKpHigh)
		notes = append(notes, fmt.Sprintf("kp %.2f >= %.2f", *kp, kpLimit))
	}
	if pdop, ok := in.DOP.PDOP(); ok && pdop >= pdopLimit {
		reasons = append(reasons, models.ReasonDOPDegraded)
		notes = append(notes, fmt.Sprintf("pdop %.2f >= %.2f", pdop, pdopLimit))
	}
	return reasons, notes
}

func redBand(in Input, t Thresholds) (models.RiskLevel, []models.Reason, string, bool) {
	reasons, notes := band(in, t.KpRed, t.PDOPRed)
	if len(reasons) == 0 {
		return "", nil, "", false
	}
	return models.RiskRed, reasons, strings.Join(notes, "; "), true
}

func amberBand(in Input, t Thresholds) (models.RiskLevel, []models.Reason, string, bool) {
	reasons, notes := band(in, t.KpAmber, t.PDOPAmber)
	if len(reasons) == 0 {
		return "", nil, "", false
	}
	return models.RiskAmber, reasons, strings.Join(notes, "; "), true
}

func dataStale(in Input, t Thresholds) (models.RiskLevel, []models.Reason, string, bool) {
	var notes []string
	if t.ElementsFreshness > 0 && !in.ElementsFetchedAt.IsZero() {
		if age := in.Now.Sub(in.ElementsFetchedAt); age > t.ElementsFreshness {
			notes = append(notes, fmt.Sprintf("elements %s old", age.Round(time.Minute)))
		}
	}
	if t.WeatherFreshness > 0 && !in.Weather.FetchedAt.IsZero() {
		if age := in.Now.Sub(in.Weather.FetchedAt); age > t.WeatherFreshness {
			notes = append(notes, fmt.Sprintf("space weather %s old", age.Round(time.Minute)))
		}
	}
	if len(notes) == 0 {
		return "", nil, "", false
	}
	return models.RiskAmber, []models.Reason{models.ReasonDataStale}, strings.Join(notes, "; "), true
}
