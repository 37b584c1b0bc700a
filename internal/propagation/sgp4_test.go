package propagation

import (
	"fmt"
	"testing"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// walkerGPS builds a 24-satellite, 6-plane constellation with GPS-like
// orbits (12 sidereal hour period, 55 degree inclination).
func walkerGPS(epoch time.Time) []models.OrbitalElementSet {
	var sets []models.OrbitalElementSet
	for plane := 0; plane < 6; plane++ {
		for slot := 0; slot < 4; slot++ {
			n := plane*4 + slot
			sets = append(sets, models.OrbitalElementSet{
				SatelliteID:  fmt.Sprintf("2020-%03dA", n+1),
				Name:         fmt.Sprintf("GPS TEST %02d", n+1),
				Group:        models.GroupGPS,
				NoradID:      40001 + n,
				Epoch:        epoch,
				MeanMotion:   2.00563,
				Eccentricity: 0.002,
				Inclination:  55,
				RAAN:         float64(plane) * 60,
				ArgPerigee:   0,
				MeanAnomaly:  float64(slot)*90 + float64(plane)*15,
				ElementSetNo: 999,
				RevAtEpoch:   1000,
			})
		}
	}
	return sets
}

func TestSGP4Propagator_LowEarthOrbitRadius(t *testing.T) {
	set := issElements()
	p := NewSGP4Propagator()

	pos, err := p.Propagate(set, set.Epoch.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if r := pos.Norm(); r < 6_600_000 || r > 6_800_000 {
		t.Errorf("radius = %.0f m, want a ~350 km altitude orbit", r)
	}

	again, err := p.Propagate(set, set.Epoch.Add(30*time.Minute))
	if err != nil || again != pos {
		t.Errorf("second propagation differs: %+v vs %+v (%v)", again, pos, err)
	}
}

func TestSGP4Propagator_MediumEarthOrbitRadius(t *testing.T) {
	p := NewSGP4Propagator()
	for _, set := range walkerGPS(testAt.Add(-24 * time.Hour))[:4] {
		pos, err := p.Propagate(set, testAt)
		if err != nil {
			t.Fatalf("Propagate %s: %v", set.SatelliteID, err)
		}
		if r := pos.Norm(); r < 26_000_000 || r > 27_100_000 {
			t.Errorf("%s radius = %.0f m, want ~26560 km", set.SatelliteID, r)
		}
	}
}

func TestSGP4Propagator_RejectsUnrenderableSet(t *testing.T) {
	set := issElements()
	set.NoradID = 123456
	if _, err := NewSGP4Propagator().Propagate(set, set.Epoch); err == nil {
		t.Error("expected error for six-digit catalog number")
	}
}

func TestEngine_SGP4ConstellationIsVisible(t *testing.T) {
	sets := walkerGPS(testAt.Add(-24 * time.Hour))
	engine := NewEngine(EngineConfig{}, nil, NewSGP4Propagator(), testLogger)
	site := NewSite(testObserver)

	for h := 0; h < 12; h += 3 {
		at := testAt.Add(time.Duration(h) * time.Hour)
		vis, report := engine.VisibleFromSets(sets, site, at, 5)
		if report.Failed != 0 {
			t.Errorf("%v: %d propagation failures", at, report.Failed)
		}
		if len(vis) < 4 || len(vis) > 16 {
			t.Errorf("%v: %d satellites visible, want a realistic 4-16", at, len(vis))
		}
	}
}
