package propagation

import (
	"fmt"
	"math"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// Propagator turns mean elements into an Earth-fixed position at a time.
// Implementations must be safe for concurrent use.
type Propagator interface {
	Propagate(set models.OrbitalElementSet, at time.Time) (ECEF, error)
}

// maxInitialised bounds the SGP4 initialisation cache. Element sets are
// replaced wholesale on refresh, so old keys simply age out on reset.
const maxInitialised = 4096

type satKey struct {
	norad int
	epoch int64
	elset int
}

// SGP4Propagator drives github.com/joshuaferrara/go-satellite. Propagate
// takes the satellite by value, so SGP4 error codes are not visible to the
// caller; failures are detected from NaN/Inf output and implausible radii.
type SGP4Propagator struct {
	mu   sync.RWMutex
	sats map[satKey]satellite.Satellite
}

func NewSGP4Propagator() *SGP4Propagator {
	return &SGP4Propagator{sats: make(map[satKey]satellite.Satellite)}
}

func (p *SGP4Propagator) satellite(set models.OrbitalElementSet) (satellite.Satellite, error) {
	key := satKey{norad: set.NoradID, epoch: set.Epoch.UnixNano(), elset: set.ElementSetNo}

	p.mu.RLock()
	sat, ok := p.sats[key]
	p.mu.RUnlock()
	if ok {
		return sat, nil
	}

	line1, line2, err := tleLines(set)
	if err != nil {
		return satellite.Satellite{}, fmt.Errorf("render elements for NORAD %d: %w", set.NoradID, err)
	}
	sat = satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return satellite.Satellite{}, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", set.NoradID, sat.Error, sat.ErrorStr)
	}

	p.mu.Lock()
	if len(p.sats) >= maxInitialised {
		p.sats = make(map[satKey]satellite.Satellite)
	}
	p.sats[key] = sat
	p.mu.Unlock()
	return sat, nil
}

func (p *SGP4Propagator) Propagate(set models.OrbitalElementSet, at time.Time) (ECEF, error) {
	sat, err := p.satellite(set)
	if err != nil {
		return ECEF{}, err
	}

	at = at.UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()

	pos, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return ECEF{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", set.NoradID)
	}

	// Sanity check: position magnitude should be between ~6200km and ~50000km.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return ECEF{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", set.NoradID, mag)
	}

	gmst := satellite.GSTimeFromDate(year, int(month), day, hour, min, sec)
	ecef := satellite.ECIToECEF(pos, gmst)

	return ECEF{X: ecef.X * 1000, Y: ecef.Y * 1000, Z: ecef.Z * 1000}, nil
}
