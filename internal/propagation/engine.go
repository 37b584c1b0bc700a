package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/ingestion"
	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// DefaultMaxElementAge bounds how far from their epoch element sets are
// propagated. Older sets are treated as not visible.
const DefaultMaxElementAge = 14 * 24 * time.Hour

// ElementSource is satisfied by *ingestion.ElementStore.
type ElementSource interface {
	Elements(ctx context.Context, group models.ConstellationGroup) ingestion.ElementsResult
}

// VisibilityReport counts what happened to each element set in one pass.
type VisibilityReport struct {
	Total     int `json:"total"`
	Visible   int `json:"visible"`
	BelowMask int `json:"below_mask"`
	Stale     int `json:"stale"`
	Failed    int `json:"failed"`
}

type EngineConfig struct {
	MaxElementAge time.Duration
}

// Engine computes which satellites of a group an observer can see.
type Engine struct {
	elements   ElementSource
	propagator Propagator
	maxAge     time.Duration
	logger     *slog.Logger
}

func NewEngine(cfg EngineConfig, elements ElementSource, propagator Propagator, logger *slog.Logger) *Engine {
	if cfg.MaxElementAge <= 0 {
		cfg.MaxElementAge = DefaultMaxElementAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		elements:   elements,
		propagator: propagator,
		maxAge:     cfg.MaxElementAge,
		logger:     logger.With("component", "visibility"),
	}
}

// Visible fetches the group's element sets and returns the satellites at or
// above maskDeg at time at. The error wraps models.ErrSourceUnavailable when
// no element sets exist for the group.
func (e *Engine) Visible(ctx context.Context, group models.ConstellationGroup, observer models.ObserverPosition, at time.Time, maskDeg float64) ([]models.SatelliteVisibility, VisibilityReport, error) {
	if err := observer.Validate(); err != nil {
		return nil, VisibilityReport{}, err
	}
	res := e.elements.Elements(ctx, group)
	if res.Err != nil {
		return nil, VisibilityReport{}, res.Err
	}
	vis, report := e.VisibleFromSets(res.Sets, NewSite(observer), at, maskDeg)
	return vis, report, nil
}

// VisibleFromSets is the I/O-free core of Visible: it propagates each set
// to at and keeps those whose elevation is >= maskDeg.
func (e *Engine) VisibleFromSets(sets []models.OrbitalElementSet, site Site, at time.Time, maskDeg float64) ([]models.SatelliteVisibility, VisibilityReport) {
	report := VisibilityReport{Total: len(sets)}
	out := make([]models.SatelliteVisibility, 0, len(sets))

	for _, set := range sets {
		if set.Age(at) > e.maxAge {
			report.Stale++
			continue
		}

		pos, err := e.propagator.Propagate(set, at)
		if err == nil && !pos.finite() {
			err = fmt.Errorf("non-finite position for %s", set.SatelliteID)
		}
		if err != nil {
			report.Failed++
			e.logger.Warn("degraded input: propagation failed",
				"satellite", set.SatelliteID, "norad_id", set.NoradID, "at", at, "error", err)
			continue
		}

		look := site.Look(pos)
		if look.Elevation < maskDeg {
			report.BelowMask++
			continue
		}

		subLat, subLon, _ := pos.Geodetic()
		out = append(out, models.SatelliteVisibility{
			SatelliteID:  set.SatelliteID,
			Name:         set.Name,
			Group:        set.Group,
			Timestamp:    at,
			Elevation:    look.Elevation,
			Azimuth:      look.Azimuth,
			SlantRange:   look.Range,
			SubLatitude:  subLat,
			SubLongitude: subLon,
			LineOfSight:  look.ENU,
		})
	}

	report.Visible = len(out)
	if report.Stale > 0 {
		e.logger.Debug("skipped stale element sets", "count", report.Stale, "max_age", e.maxAge)
	}
	return out, report
}
