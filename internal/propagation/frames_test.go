package propagation

import (
	"math"
	"testing"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

const tol = 1e-6

// fromLook places a target at the given azimuth/elevation/range from site by
// rotating the ENU vector back to ECEF.
func fromLook(site Site, azDeg, elDeg, rng float64) ECEF {
	az, el := azDeg*deg2rad, elDeg*deg2rad
	e := rng * math.Cos(el) * math.Sin(az)
	n := rng * math.Cos(el) * math.Cos(az)
	u := rng * math.Sin(el)

	dx := -site.sinLon*e - site.sinLat*site.cosLon*n + site.cosLat*site.cosLon*u
	dy := site.cosLon*e - site.sinLat*site.sinLon*n + site.cosLat*site.sinLon*u
	dz := site.cosLat*n + site.sinLat*u
	return ECEF{X: site.ECEF.X + dx, Y: site.ECEF.Y + dy, Z: site.ECEF.Z + dz}
}

func TestNewSite_ReferencePoints(t *testing.T) {
	tests := []struct {
		name string
		obs  models.ObserverPosition
		want ECEF
	}{
		{"equator prime meridian", models.ObserverPosition{}, ECEF{X: wgs84A}},
		{"equator 90E", models.ObserverPosition{Longitude: 90}, ECEF{Y: wgs84A}},
		{"north pole", models.ObserverPosition{Latitude: 90}, ECEF{Z: wgs84A * (1 - wgs84F)}},
		{"altitude", models.ObserverPosition{Altitude: 1000}, ECEF{X: wgs84A + 1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewSite(tt.obs).ECEF
			if math.Abs(got.X-tt.want.X) > 1e-3 || math.Abs(got.Y-tt.want.Y) > 1e-3 || math.Abs(got.Z-tt.want.Z) > 1e-3 {
				t.Errorf("ECEF = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSiteLook_Cardinal(t *testing.T) {
	site := NewSite(models.ObserverPosition{})
	const r = 20_000_000.0

	tests := []struct {
		name   string
		target ECEF
		az, el float64
	}{
		{"zenith", ECEF{X: wgs84A + r}, 0, 90},
		{"north horizon", ECEF{X: wgs84A, Z: r}, 0, 0},
		{"east horizon", ECEF{X: wgs84A, Y: r}, 90, 0},
		{"west horizon", ECEF{X: wgs84A, Y: -r}, 270, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			look := site.Look(tt.target)
			if math.Abs(look.Elevation-tt.el) > tol {
				t.Errorf("elevation = %v, want %v", look.Elevation, tt.el)
			}
			if tt.el != 90 && math.Abs(look.Azimuth-tt.az) > tol {
				t.Errorf("azimuth = %v, want %v", look.Azimuth, tt.az)
			}
			if math.Abs(look.Range-r) > 1e-3 {
				t.Errorf("range = %v, want %v", look.Range, r)
			}
		})
	}
}

func TestSiteLook_RoundTrip(t *testing.T) {
	site := NewSite(models.ObserverPosition{Latitude: 57.15, Longitude: -2.09, Altitude: 30})

	for _, c := range []struct{ az, el float64 }{{10, 5}, {135, 45}, {250, 80}, {359, 15}} {
		look := site.Look(fromLook(site, c.az, c.el, 22_000_000))
		if math.Abs(look.Azimuth-c.az) > tol || math.Abs(look.Elevation-c.el) > tol {
			t.Errorf("az/el = %v/%v, want %v/%v", look.Azimuth, look.Elevation, c.az, c.el)
		}
		n := math.Sqrt(look.ENU[0]*look.ENU[0] + look.ENU[1]*look.ENU[1] + look.ENU[2]*look.ENU[2])
		if math.Abs(n-1) > 1e-9 {
			t.Errorf("line of sight norm = %v, want 1", n)
		}
	}
}

func TestECEF_GeodeticRoundTrip(t *testing.T) {
	for _, lat := range []float64{-89.5, -45, 0, 57.15, 89.5} {
		for _, lon := range []float64{-179, -2.09, 0, 120} {
			for _, alt := range []float64{0, 550_000, 20_200_000} {
				obs := models.ObserverPosition{Latitude: lat, Longitude: lon, Altitude: alt}
				gotLat, gotLon, gotAlt := NewSite(obs).ECEF.Geodetic()
				if math.Abs(gotLat-lat) > 1e-8 || math.Abs(gotLon-lon) > 1e-8 || math.Abs(gotAlt-alt) > 1e-3 {
					t.Errorf("%+v: got lat %v lon %v alt %v", obs, gotLat, gotLon, gotAlt)
				}
			}
		}
	}
}

func TestECEF_GeodeticPole(t *testing.T) {
	lat, _, alt := ECEF{Z: -wgs84A * (1 - wgs84F)}.Geodetic()
	if lat != -90 || math.Abs(alt) > 1e-3 {
		t.Errorf("south pole = lat %v alt %v", lat, alt)
	}
}
