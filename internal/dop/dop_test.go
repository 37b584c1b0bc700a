package dop

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

var (
	at       = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	observer = models.ObserverPosition{Latitude: 57.15, Longitude: -2.09}
)

func sat(id string, azDeg, elDeg float64) models.SatelliteVisibility {
	az, el := azDeg*math.Pi/180, elDeg*math.Pi/180
	return models.SatelliteVisibility{
		SatelliteID: id,
		Elevation:   elDeg,
		Azimuth:     azDeg,
		LineOfSight: [3]float64{math.Cos(el) * math.Sin(az), math.Cos(el) * math.Cos(az), math.Sin(el)},
	}
}

func TestCompute_KnownGeometry(t *testing.T) {
	// One satellite overhead and three on the horizon 120 degrees apart.
	vis := []models.SatelliteVisibility{
		sat("Z", 0, 90),
		sat("A", 0, 0),
		sat("B", 120, 0),
		sat("C", 240, 0),
	}

	res := Compute(vis, observer, at)
	if !res.Valid() {
		t.Fatalf("expected metrics, got %+v", res.Insufficient)
	}
	m := res.Metrics

	want := map[string][2]float64{
		"GDOP": {m.GDOP, math.Sqrt(3)},
		"PDOP": {m.PDOP, math.Sqrt(8.0 / 3)},
		"HDOP": {m.HDOP, math.Sqrt(4.0 / 3)},
		"VDOP": {m.VDOP, math.Sqrt(4.0 / 3)},
		"TDOP": {m.TDOP, math.Sqrt(1.0 / 3)},
	}
	for name, v := range want {
		if math.Abs(v[0]-v[1]) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, v[0], v[1])
		}
	}
	if m.SatelliteCount != 4 || !m.Timestamp.Equal(at) {
		t.Errorf("metadata = %d %v", m.SatelliteCount, m.Timestamp)
	}
}

func TestCompute_FewerThanFour(t *testing.T) {
	all := []models.SatelliteVisibility{sat("A", 0, 30), sat("B", 120, 45), sat("C", 240, 60)}

	for n := 0; n < MinSatellites; n++ {
		t.Run(fmt.Sprintf("%d satellites", n), func(t *testing.T) {
			res := Compute(all[:n], observer, at)
			if res.Valid() || res.Insufficient == nil {
				t.Fatalf("expected InsufficientGeometry, got %+v", res)
			}
			if res.Insufficient.SatelliteCount != n {
				t.Errorf("SatelliteCount = %d, want %d", res.Insufficient.SatelliteCount, n)
			}
			if _, ok := res.PDOP(); ok {
				t.Error("PDOP reported as defined")
			}
		})
	}
}

func TestCompute_DegenerateGeometry(t *testing.T) {
	tests := []struct {
		name string
		vis  []models.SatelliteVisibility
	}{
		{
			// Equal elevations make the up column a multiple of the clock column.
			name: "cone at one elevation",
			vis:  []models.SatelliteVisibility{sat("A", 0, 30), sat("B", 72, 30), sat("C", 144, 30), sat("D", 216, 30), sat("E", 288, 30)},
		},
		{
			name: "coincident satellites",
			vis:  []models.SatelliteVisibility{sat("A", 45, 45), sat("B", 45, 45), sat("C", 45, 45), sat("D", 45, 45)},
		},
		{
			name: "zero line of sight",
			vis:  []models.SatelliteVisibility{sat("A", 0, 30), sat("B", 120, 45), sat("C", 240, 60), {SatelliteID: "D"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compute(tt.vis, observer, at)
			if res.Valid() {
				t.Fatalf("expected InsufficientGeometry, got %+v", res.Metrics)
			}
		})
	}
}

func TestCompute_ZeroValueIsNotPerfect(t *testing.T) {
	var res models.DOPResult
	if res.Valid() {
		t.Error("zero DOPResult must not be valid")
	}
}

func TestCompute_OrderingHoldsForRandomGeometry(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	checked := 0

	for i := 0; i < 500; i++ {
		n := 4 + rng.Intn(9)
		vis := make([]models.SatelliteVisibility, n)
		for j := range vis {
			vis[j] = sat(fmt.Sprintf("S%d", j), rng.Float64()*360, 5+rng.Float64()*85)
		}

		res := Compute(vis, observer, at)
		if !res.Valid() {
			continue
		}
		checked++
		m := res.Metrics
		if !(m.GDOP >= m.PDOP && m.PDOP >= math.Max(m.HDOP, m.VDOP) && math.Min(m.HDOP, m.VDOP) >= 0 && m.TDOP >= 0) {
			t.Fatalf("ordering violated for %d satellites: %+v", n, m)
		}
	}

	if checked < 400 {
		t.Errorf("only %d of 500 random geometries were valid", checked)
	}
}
