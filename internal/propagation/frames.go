package propagation

import (
	"math"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

const deg2rad = math.Pi / 180.0

// ECEF is an Earth-centred Earth-fixed position in meters.
type ECEF struct {
	X, Y, Z float64
}

func (p ECEF) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

func (p ECEF) finite() bool {
	for _, v := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Site is an observer with its ECEF position and rotation terms precomputed
// so one site can be reused across every satellite in a sample.
type Site struct {
	Observer models.ObserverPosition
	ECEF     ECEF

	sinLat, cosLat, sinLon, cosLon float64
}

func NewSite(o models.ObserverPosition) Site {
	lat := o.Latitude * deg2rad
	lon := o.Longitude * deg2rad

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Site{
		Observer: o,
		ECEF: ECEF{
			X: (n + o.Altitude) * cosLat * cosLon,
			Y: (n + o.Altitude) * cosLat * sinLon,
			Z: (n*(1-wgs84E2) + o.Altitude) * sinLat,
		},
		sinLat: sinLat, cosLat: cosLat,
		sinLon: sinLon, cosLon: cosLon,
	}
}

// LookAngles is the topocentric geometry from a site to a target.
type LookAngles struct {
	Azimuth   float64 // degrees, 0 = north, clockwise
	Elevation float64 // degrees, 0 = horizon, 90 = zenith
	Range     float64 // meters
	// ENU is the unit line-of-sight vector in East-North-Up.
	ENU [3]float64
}

// Look rotates the site-to-target vector into the local East-North-Up frame
// and derives azimuth, elevation and slant range from it.
func (s Site) Look(target ECEF) LookAngles {
	rx := target.X - s.ECEF.X
	ry := target.Y - s.ECEF.Y
	rz := target.Z - s.ECEF.Z

	east := -s.sinLon*rx + s.cosLon*ry
	north := -s.sinLat*s.cosLon*rx - s.sinLat*s.sinLon*ry + s.cosLat*rz
	up := s.cosLat*s.cosLon*rx + s.cosLat*s.sinLon*ry + s.sinLat*rz

	rng := math.Sqrt(east*east + north*north + up*up)
	if rng == 0 {
		return LookAngles{Elevation: 90}
	}

	el := math.Asin(up / rng)
	az := math.Atan2(east, north)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		Azimuth:   az / deg2rad,
		Elevation: el / deg2rad,
		Range:     rng,
		ENU:       [3]float64{east / rng, north / rng, up / rng},
	}
}

// Geodetic inverts NewSite: it returns WGS-84 latitude and longitude in
// degrees and height above the ellipsoid in meters. Latitude is refined by
// fixed-point iteration, which converges to well under a millimetre for
// any orbit altitude within a few rounds.
func (p ECEF) Geodetic() (lat, lon, height float64) {
	lon = math.Atan2(p.Y, p.X)
	r := math.Hypot(p.X, p.Y)
	if r == 0 {
		lat = math.Copysign(math.Pi/2, p.Z)
		return lat / deg2rad, lon / deg2rad, math.Abs(p.Z) - wgs84A*math.Sqrt(1-wgs84E2)
	}

	phi := math.Atan2(p.Z, r*(1-wgs84E2))
	for i := 0; i < 6; i++ {
		sinPhi := math.Sin(phi)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinPhi*sinPhi)
		height = r/math.Cos(phi) - n
		phi = math.Atan2(p.Z, r*(1-wgs84E2*n/(n+height)))
	}
	return phi / deg2rad, lon / deg2rad, height
}
