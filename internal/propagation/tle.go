package propagation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// tleLines renders an element set into the fixed-column two-line format that
// go-satellite parses. go-satellite calls log.Fatal on fields it cannot
// parse, so every field is range-checked here first.
func tleLines(s models.OrbitalElementSet) (string, string, error) {
	if s.NoradID <= 0 || s.NoradID > 99999 {
		return "", "", fmt.Errorf("norad id %d does not fit the two-line format", s.NoradID)
	}
	if s.MeanMotion <= 0 || s.MeanMotion >= 100 {
		return "", "", fmt.Errorf("mean motion %v out of range", s.MeanMotion)
	}
	if s.Eccentricity < 0 || s.Eccentricity >= 1 {
		return "", "", fmt.Errorf("eccentricity %v out of range", s.Eccentricity)
	}
	for name, v := range map[string]float64{
		"inclination":  s.Inclination,
		"raan":         s.RAAN,
		"arg perigee":  s.ArgPerigee,
		"mean anomaly": s.MeanAnomaly,
	} {
		if math.IsNaN(v) || v < 0 || v > 360 {
			return "", "", fmt.Errorf("%s %v out of range", name, v)
		}
	}

	ndot, err := formatNDot(s.MeanMotionDot)
	if err != nil {
		return "", "", err
	}
	nddot, err := formatExp(s.MeanMotionDDot)
	if err != nil {
		return "", "", fmt.Errorf("mean motion ddot: %w", err)
	}
	bstar, err := formatExp(s.BStar)
	if err != nil {
		return "", "", fmt.Errorf("bstar: %w", err)
	}

	epoch := s.Epoch.UTC()
	yearStart := time.Date(epoch.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	doy := 1 + epoch.Sub(yearStart).Hours()/24

	line1 := fmt.Sprintf("1 %05dU %-8s %02d%012.8f %s %s %s 0 %4d",
		s.NoradID, intlDesignator(s.SatelliteID), epoch.Year()%100, doy,
		ndot, nddot, bstar, s.ElementSetNo%10000)

	ecc := int(math.Round(s.Eccentricity * 1e7))
	if ecc > 9999999 {
		ecc = 9999999
	}
	line2 := fmt.Sprintf("2 %05d %8.4f %8.4f %07d %8.4f %8.4f %11.8f%5d",
		s.NoradID, s.Inclination, s.RAAN, ecc, s.ArgPerigee, s.MeanAnomaly,
		s.MeanMotion, s.RevAtEpoch%100000)

	line1 += string(rune('0' + tleChecksum(line1)))
	line2 += string(rune('0' + tleChecksum(line2)))

	if len(line1) != 69 || len(line2) != 69 {
		return "", "", fmt.Errorf("rendered lines have lengths %d/%d, want 69", len(line1), len(line2))
	}
	return line1, line2, nil
}

// tleChecksum is the modulo-10 sum of all digits, with '-' counting as 1.
func tleChecksum(line string) int {
	sum := 0
	for _, c := range line {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// intlDesignator converts a COSPAR id such as "1998-067A" to "98067A".
func intlDesignator(id string) string {
	if len(id) < 9 || id[4] != '-' {
		return ""
	}
	d := id[2:4] + id[5:8] + strings.TrimSpace(id[8:])
	if len(d) > 8 {
		d = d[:8]
	}
	return d
}

// formatNDot renders the first derivative of mean motion as " .00016717".
func formatNDot(v float64) (string, error) {
	if math.IsNaN(v) || math.Abs(v) >= 1 {
		return "", fmt.Errorf("mean motion dot %v out of range", v)
	}
	sign := " "
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := fmt.Sprintf("%.8f", v)
	if s[0] == '1' {
		// rounded up to 1.00000000
		s = "0.99999999"
	}
	return sign + s[1:], nil
}

// formatExp renders v in the two-line assumed-decimal exponent form, e.g.
// -0.000011606 becomes "-11606-4".
func formatExp(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("value %v not finite", v)
	}
	sign := " "
	if v < 0 {
		sign = "-"
		v = -v
	}
	if v < 1e-10 {
		return " 00000-0", nil
	}

	exp := int(math.Floor(math.Log10(v))) + 1
	digits := int(math.Round(v / math.Pow(10, float64(exp)) * 1e5))
	if digits >= 100000 {
		digits /= 10
		exp++
	}
	if exp > 9 {
		return "", fmt.Errorf("value %v too large", v)
	}
	if exp < -9 {
		return " 00000-0", nil
	}

	expSign := "-"
	if exp >= 0 {
		expSign = "+"
	}
	if exp < 0 {
		exp = -exp
	}
	return fmt.Sprintf("%s%05d%s%d", sign, digits, expSign, exp), nil
}
