package virtual

import (
	"math"
	"time"
)

const (
	degToRad   = math.Pi / 180
	ftToKm     = 0.0003048
	solarConst = 1353.0 // W/m^2 above the atmosphere
)

// Array is a fixed, south-facing panel plane. Angles in radians.
type Array struct {
	Tilt float64
}

// NewArray builds an Array from a tilt in degrees.
func NewArray(tiltDeg float64) Array {
	return Array{Tilt: tiltDeg * degToRad}
}

// Location is a site. Latitude in radians, elevation in km.
type Location struct {
	Latitude  float64
	Elevation float64
}

// NewLocation builds a Location from degrees and feet.
func NewLocation(latDeg float64, elevFt float64) Location {
	return Location{Latitude: latDeg * degToRad, Elevation: elevFt * ftToKm}
}

// Radiation in W/m^2.
type Radiation struct {
	Direct  float64
	Diffuse float64
}

// TotalIrradiance is the clear-sky plane-of-array irradiance at t (W/m^2).
// t is read as local solar time.
func TotalIrradiance(a Array, l Location, t time.Time) float64 {
	rad := intensity(l, t)
	angle := incidentAngle(l, a, t)
	if angle > math.Pi/2 {
		return rad.Diffuse
	}
	return rad.Direct*math.Cos(angle) + rad.Diffuse
}

func intensity(l Location, t time.Time) Radiation {
	elev := elevationAngle(l, t)
	if elev <= 0 {
		return Radiation{}
	}
	airMass := 1 / math.Sin(elev)
	h := l.Elevation * 0.14
	direct := solarConst * ((1-h)*math.Pow(0.7, math.Pow(airMass, 0.678)) + h)
	return Radiation{Direct: direct, Diffuse: direct * 0.1}
}

func incidentAngle(l Location, a Array, t time.Time) float64 {
	d := declinationAngle(t)
	beta := l.Latitude - a.Tilt
	cosTheta := math.Cos(hourAngle(t))*math.Cos(d)*math.Cos(beta) + math.Sin(d)*math.Sin(beta)
	return math.Acos(math.Max(-1, math.Min(1, cosTheta)))
}

func elevationAngle(l Location, t time.Time) float64 {
	d := declinationAngle(t)
	sinElev := math.Sin(d)*math.Sin(l.Latitude) + math.Cos(d)*math.Cos(l.Latitude)*math.Cos(hourAngle(t))
	return math.Asin(sinElev)
}

func hourOfDay(t time.Time) float64 {
	return float64(t.Hour()*3600+t.Minute()*60+t.Second()) / 3600
}

func hourAngle(t time.Time) float64 {
	return (hourOfDay(t) - 12) * 15 * degToRad
}

// SunHours returns sunrise and sunset as hours of the day. Polar day and
// night clamp to 0-24 and 12-12.
func SunHours(l Location, t time.Time) (float64, float64) {
	d := declinationAngle(t)
	x := -math.Tan(l.Latitude) * math.Tan(d)
	if x <= -1 {
		return 0, 24
	}
	if x >= 1 {
		return 12, 12
	}
	half := math.Acos(x) / degToRad / 15
	return 12 - half, 12 + half
}

func declinationAngle(t time.Time) float64 {
	x1 := math.Sin(((float64(t.YearDay()) - 81) * 2 * math.Pi) / 365.25)
	return math.Asin(x1 * math.Sin(0.40928))
}
