package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/peterstace/simplefeatures/geom"
)

// PointFunc maps a single coordinate pair between reference systems.
type PointFunc func(x, y float64) (float64, float64)

// Supported CRS codes. The catalog lives in Lambert-93; AOIs commonly arrive
// in WGS84 or Web Mercator.
const (
	CRSWGS84       = "EPSG:4326"
	CRSLambert93   = "EPSG:2154"
	CRSWebMercator = "EPSG:3857"
)

func normalizeCRS(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Supported reports whether transforms to and from the given CRS exist.
func Supported(code string) bool {
	switch normalizeCRS(code) {
	case CRSWGS84, CRSLambert93, CRSWebMercator:
		return true
	}
	return false
}

// PointTransform returns a function converting coordinates from one CRS to
// another. Transforms are composed through WGS84.
func PointTransform(from, to string) (PointFunc, error) {
	from, to = normalizeCRS(from), normalizeCRS(to)
	if !Supported(from) {
		return nil, fmt.Errorf("unsupported CRS %q", from)
	}
	if !Supported(to) {
		return nil, fmt.Errorf("unsupported CRS %q", to)
	}
	if from == to {
		return func(x, y float64) (float64, float64) { return x, y }, nil
	}
	toWGS := inverseOf(from)
	fromWGS := forwardOf(to)
	return func(x, y float64) (float64, float64) {
		lon, lat := toWGS(x, y)
		return fromWGS(lon, lat)
	}, nil
}

// Transform reprojects a geometry between supported reference systems.
func Transform(g geom.Geometry, from, to string) (geom.Geometry, error) {
	fn, err := PointTransform(from, to)
	if err != nil {
		return geom.Geometry{}, err
	}
	out := g.TransformXY(func(xy geom.XY) geom.XY {
		x, y := fn(xy.X, xy.Y)
		return geom.XY{X: x, Y: y}
	})
	return out, nil
}

// TransformPoint reprojects a single coordinate pair.
func TransformPoint(x, y float64, from, to string) (float64, float64, error) {
	fn, err := PointTransform(from, to)
	if err != nil {
		return 0, 0, err
	}
	ox, oy := fn(x, y)
	return ox, oy, nil
}

func forwardOf(code string) PointFunc {
	switch code {
	case CRSLambert93:
		return lambert93Forward
	case CRSWebMercator:
		return webMercatorForward
	default:
		return func(x, y float64) (float64, float64) { return x, y }
	}
}

func inverseOf(code string) PointFunc {
	switch code {
	case CRSLambert93:
		return lambert93Inverse
	case CRSWebMercator:
		return webMercatorInverse
	default:
		return func(x, y float64) (float64, float64) { return x, y }
	}
}

// Lambert-93 (EPSG:2154): Lambert Conformal Conic 2SP on the GRS80 ellipsoid,
// EPSG method 9802. Standard parallels 44°N and 49°N, origin (3°E, 46.5°N),
// false origin (700000, 6600000).
const (
	grs80A = 6378137.0
	grs80F = 1.0 / 298.257222101

	l93Lat0 = 46.5 * math.Pi / 180
	l93Lon0 = 3.0 * math.Pi / 180
	l93Lat1 = 44.0 * math.Pi / 180
	l93Lat2 = 49.0 * math.Pi / 180
	l93X0   = 700000.0
	l93Y0   = 6600000.0
)

var l93 = newLCC()

type lccParams struct {
	e    float64
	n    float64
	aF   float64
	rho0 float64
}

func newLCC() lccParams {
	e2 := 2*grs80F - grs80F*grs80F
	e := math.Sqrt(e2)

	m := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Cos(phi) / math.Sqrt(1-e2*s*s)
	}
	m1, m2 := m(l93Lat1), m(l93Lat2)
	t0 := lccT(l93Lat0, e)
	t1 := lccT(l93Lat1, e)
	t2 := lccT(l93Lat2, e)

	n := (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	f := m1 / (n * math.Pow(t1, n))
	aF := grs80A * f
	return lccParams{
		e:    e,
		n:    n,
		aF:   aF,
		rho0: aF * math.Pow(t0, n),
	}
}

func lccT(phi, e float64) float64 {
	s := math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-e*s)/(1+e*s), e/2)
}

// lambert93Forward maps (lon, lat) degrees to (easting, northing) metres.
func lambert93Forward(lon, lat float64) (float64, float64) {
	lam := lon * math.Pi / 180
	phi := lat * math.Pi / 180

	t := lccT(phi, l93.e)
	rho := l93.aF * math.Pow(t, l93.n)
	theta := l93.n * (lam - l93Lon0)

	x := l93X0 + rho*math.Sin(theta)
	y := l93Y0 + l93.rho0 - rho*math.Cos(theta)
	return x, y
}

// lambert93Inverse maps (easting, northing) metres to (lon, lat) degrees.
func lambert93Inverse(x, y float64) (float64, float64) {
	dx := x - l93X0
	dy := l93.rho0 - (y - l93Y0)

	rho := math.Hypot(dx, dy)
	if l93.n < 0 {
		rho = -rho
	}
	t := math.Pow(rho/l93.aF, 1/l93.n)
	theta := math.Atan2(dx, dy)

	lam := l93Lon0 + theta/l93.n

	// Iterate the conformal latitude back to geodetic latitude.
	phi := math.Pi/2 - 2*math.Atan(t)
	for range 15 {
		s := math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-l93.e*s)/(1+l93.e*s), l93.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}

	return lam * 180 / math.Pi, phi * 180 / math.Pi
}

// Web Mercator (EPSG:3857), spherical formulas.
const webMercatorR = 6378137.0

func webMercatorForward(lon, lat float64) (float64, float64) {
	// clamp to the projection's valid latitude range
	if lat > 85.05112878 {
		lat = 85.05112878
	}
	if lat < -85.05112878 {
		lat = -85.05112878
	}
	x := webMercatorR * lon * math.Pi / 180
	y := webMercatorR * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

func webMercatorInverse(x, y float64) (float64, float64) {
	lon := x / webMercatorR * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/webMercatorR)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}
