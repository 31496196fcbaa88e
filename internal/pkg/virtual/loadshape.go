package virtual

import (
	"errors"
	"math"
	"time"

	"github.com/ohowland/vvc_core/internal/pkg/network"
)

// ReferenceYear anchors simulated hours to a calendar. It is not a leap year.
var ReferenceYear = time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)

// ClockTime converts hours since the start of the reference year into a time.
func ClockTime(hour float64) time.Time {
	return ReferenceYear.Add(time.Duration(hour * float64(time.Hour)))
}

// DefaultDailyShape is an hourly residential load profile normalised to its peak.
var DefaultDailyShape = []float64{
	0.55, 0.50, 0.48, 0.47, 0.48, 0.52, 0.62, 0.72,
	0.78, 0.80, 0.82, 0.84, 0.85, 0.86, 0.88, 0.90,
	0.94, 0.99, 1.00, 0.97, 0.90, 0.80, 0.70, 0.60,
}

// LoadShape scales nominal load by time of day and season.
type LoadShape struct {
	daily    network.XYCurve
	seasonal float64
}

// NewLoadShape builds a shape from 24 hourly factors. seasonal is the
// amplitude of a yearly swing peaking in mid July.
func NewLoadShape(hourly []float64, seasonal float64) (LoadShape, error) {
	if len(hourly) != 24 {
		return LoadShape{}, errors.New("loadshape: need 24 hourly factors")
	}
	x := make([]float64, 25)
	y := make([]float64, 25)
	for i := 0; i < 24; i++ {
		x[i], y[i] = float64(i), hourly[i]
	}
	x[24], y[24] = 24, hourly[0]
	curve, err := network.NewXYCurve(x, y)
	if err != nil {
		return LoadShape{}, err
	}
	return LoadShape{daily: curve, seasonal: seasonal}, nil
}

// At returns the multiplier for t.
func (s LoadShape) At(t time.Time) float64 {
	season := 1 + s.seasonal*math.Cos(2*math.Pi*float64(t.YearDay()-196)/365)
	return s.daily.At(hourOfDay(t)) * season
}
