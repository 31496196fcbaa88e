/*
observation.go The state vector a policy sees. Training and inference both
build observations here, so a policy trained against one always reads the same
layout at decision time.

	sensors:    10 * (v_pu - 1)
	regulators: tap / 16
	power:      kW / 5000
	time:       sin(2*pi*step/96), cos(2*pi*step/96)
*/

package observation

import (
	"math"

	"github.com/ohowland/vvc_core/internal/pkg/network"
)

const (
	VoltageGain = 10.0
	TapScale    = 16.0
	PowerScale  = 5000.0
)

// Layout fixes the order of sensors and regulators in the vector.
type Layout struct {
	Sensors    []string
	Regulators []string
}

// Len is the observation length: sensors + regulators + power + sin + cos.
func (l Layout) Len() int {
	return len(l.Sensors) + len(l.Regulators) + 3
}

// Reading is the raw electrical state an observation is built from.
type Reading struct {
	Voltages map[string]float64 // bus -> pu
	Taps     map[string]int
	PowerKW  float64
}

// Encode builds the observation for step. Math is done in float64 and only the
// stored values are narrowed. A sensor without a reading counts as 1.0 pu and a
// regulator without a tap counts as 0.
func Encode(layout Layout, reading Reading, step int) []float32 {
	obs := make([]float32, 0, layout.Len())
	for _, bus := range layout.Sensors {
		v, ok := reading.Voltages[bus]
		if !ok {
			v = 1.0
		}
		obs = append(obs, float32(VoltageGain*(v-1.0)))
	}
	for _, reg := range layout.Regulators {
		obs = append(obs, float32(float64(reading.Taps[reg])/TapScale))
	}
	obs = append(obs, float32(reading.PowerKW/PowerScale))
	s, c := TimeEncoding(step)
	obs = append(obs, float32(s), float32(c))
	return obs
}

// TimeEncoding places step on the unit circle of one day.
func TimeEncoding(step int) (float64, float64) {
	angle := 2 * math.Pi * float64(step) / float64(network.StepsPerDay)
	return math.Sin(angle), math.Cos(angle)
}

// DecodeTap recovers a tap position from its encoded value.
func DecodeTap(x float64) int {
	tap := int(math.Round(x * TapScale))
	if tap > network.MaxTap {
		return network.MaxTap
	}
	if tap < network.MinTap {
		return network.MinTap
	}
	return tap
}

// SensorVoltages reads each sensor bus as the mean phase magnitude over the
// phase base. A bus with a non-positive base or no readable voltage reads 1.0.
func SensorVoltages(r network.VoltageReader, sensors []string) map[string]float64 {
	pu := make(map[string]float64, len(sensors))
	for _, bus := range sensors {
		pu[bus] = busPU(r, bus)
	}
	return pu
}

func busPU(r network.VoltageReader, bus string) float64 {
	kvBase, err := r.BusKVBase(bus)
	if err != nil || kvBase <= 0 {
		return 1.0
	}
	mags, err := r.BusVoltages(bus)
	if err != nil || len(mags) == 0 {
		return 1.0
	}
	var sum float64
	for _, v := range mags {
		sum += v
	}
	return sum / float64(len(mags)) / (kvBase * 1000)
}

// Taps reads the current tap of every regulator.
func Taps(a network.TapActuator, regulators []string) map[string]int {
	taps := make(map[string]int, len(regulators))
	for _, reg := range regulators {
		tap, err := a.TapNumber(reg)
		if err != nil {
			continue
		}
		taps[reg] = tap
	}
	return taps
}

// Read samples a solver into a Reading.
func Read(s interface {
	network.VoltageReader
	network.TapActuator
	network.PowerReader
}, layout Layout) Reading {
	return Reading{
		Voltages: SensorVoltages(s, layout.Sensors),
		Taps:     Taps(s, layout.Regulators),
		PowerKW:  math.Abs(s.TotalPower().KW),
	}
}
