// Package dop derives dilution-of-precision figures from satellite geometry.
package dop

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// MinSatellites is the fewest line-of-sight vectors that can resolve three
// position components and a receiver clock bias.
const MinSatellites = 4

// maxCondition is the largest condition number of GᵀG treated as invertible.
const maxCondition = 1e12

// Compute builds the geometry matrix from the ENU line-of-sight vectors of
// vis and returns its DOP figures, or InsufficientGeometry when fewer than
// MinSatellites are visible or the geometry is degenerate.
func Compute(vis []models.SatelliteVisibility, observer models.ObserverPosition, at time.Time) models.DOPResult {
	n := len(vis)
	if n < MinSatellites {
		return models.NoGeometry(n, fmt.Sprintf("%d satellites visible, need %d", n, MinSatellites))
	}

	g := mat.NewDense(n, 4, nil)
	for i, v := range vis {
		los := v.LineOfSight
		norm := math.Sqrt(los[0]*los[0] + los[1]*los[1] + los[2]*los[2])
		if norm == 0 || math.IsNaN(norm) {
			return models.NoGeometry(n, fmt.Sprintf("satellite %s has no line of sight", v.SatelliteID))
		}
		g.SetRow(i, []float64{los[0] / norm, los[1] / norm, los[2] / norm, 1})
	}

	var gtg mat.Dense
	gtg.Mul(g.T(), g)

	if c := mat.Cond(&gtg, 2); math.IsInf(c, 1) || math.IsNaN(c) || c > maxCondition {
		return models.NoGeometry(n, "geometry matrix is singular")
	}

	var q mat.Dense
	if err := q.Inverse(&gtg); err != nil {
		return models.NoGeometry(n, "geometry matrix is singular")
	}

	qe, qn, qu, qt := q.At(0, 0), q.At(1, 1), q.At(2, 2), q.At(3, 3)
	for _, d := range [4]float64{qe, qn, qu, qt} {
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return models.NoGeometry(n, "geometry matrix has a non-positive variance")
		}
	}

	return models.DOPOf(models.DOPMetrics{
		Timestamp:      at,
		Observer:       observer,
		SatelliteCount: n,
		GDOP:           math.Sqrt(qe + qn + qu + qt),
		PDOP:           math.Sqrt(qe + qn + qu),
		HDOP:           math.Sqrt(qe + qn),
		VDOP:           math.Sqrt(qu),
		TDOP:           math.Sqrt(qt),
	})
}
