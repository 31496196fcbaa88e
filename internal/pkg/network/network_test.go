package network

import (
	"testing"

	"gotest.tools/v3/assert"
)

const testFeeder = `{
	"Name": "test",
	"SourceBus": "src",
	"SourcePU": 1.0,
	"Buses": [
		{"ID": "src", "Phases": [1,2,3], "KVBase": 2.4},
		{"ID": "a", "Phases": [1,2,3], "KVBase": 2.4},
		{"ID": "b", "Phases": [1], "KVBase": 2.4}
	],
	"Lines": [{"Name": "l1", "Bus1": "src.1.2.3", "Bus2": "a.1.2.3", "Phases": 3, "R": 0.1, "X": 0.2}],
	"Transformers": [{"Name": "t1", "Buses": ["a.1", "b.1"], "KVA": 500}],
	"RegControls": [{"Name": "r1", "Transformer": "t1", "Tap": 0}]
}`

func TestParse(t *testing.T) {
	net, err := Parse([]byte(testFeeder))
	assert.NilError(t, err)
	assert.Equal(t, net.SourceBus, "src")
	assert.Equal(t, len(net.Buses), 3)
	assert.DeepEqual(t, net.RegulatorNames(), []string{"r1"})
}

func TestParseRejectsUnknownBus(t *testing.T) {
	_, err := Parse([]byte(`{"SourceBus": "src", "Buses": [{"ID": "src"}],
		"Lines": [{"Name": "l1", "Bus1": "src", "Bus2": "nowhere"}]}`))
	assert.ErrorIs(t, err, ErrUnknownBus)
}

func TestParseRejectsMissingSource(t *testing.T) {
	_, err := Parse([]byte(`{"Buses": [{"ID": "src"}]}`))
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestBusID(t *testing.T) {
	assert.Equal(t, BusID("13.1.2.3"), "13")
	assert.Equal(t, BusID("150"), "150")
	assert.Equal(t, BusID(""), "")
}

func TestElementBuses(t *testing.T) {
	net, _ := Parse([]byte(testFeeder))
	buses, ok := net.ElementBuses(Element{TransformerKind, "t1"})
	assert.Assert(t, ok)
	assert.DeepEqual(t, buses, []string{"a", "b"})

	_, ok = net.ElementBuses(Element{LineKind, "missing"})
	assert.Assert(t, !ok)
}

func TestElementsAtBusOrdersLinesFirst(t *testing.T) {
	net, _ := Parse([]byte(testFeeder))
	elems := net.ElementsAtBus("a")
	assert.Equal(t, len(elems), 2)
	assert.Equal(t, elems[0].String(), "Line.l1")
	assert.Equal(t, elems[1].String(), "Transformer.t1")
}

func TestClampTap(t *testing.T) {
	for tap := MinTap; tap <= MaxTap; tap++ {
		for _, d := range []int{-1, 0, 1} {
			next, ok := ClampTap(tap, d)
			assert.Equal(t, next, tap+d)
			assert.Equal(t, ok, tap+d >= MinTap && tap+d <= MaxTap)
		}
	}
}

func TestPVTemperatureCurve(t *testing.T) {
	c := PVTemperatureCurve
	assert.Equal(t, c.At(25), 1.0)
	assert.Equal(t, c.At(-10), 1.2)
	assert.Equal(t, c.At(-40), 1.2)
	assert.Equal(t, c.At(100), 0.6)
	assert.Assert(t, c.At(37.5) < 1.0 && c.At(37.5) > 0.8)
}

func TestNewXYCurveSorts(t *testing.T) {
	c, err := NewXYCurve([]float64{10, 0}, []float64{1, 0})
	assert.NilError(t, err)
	assert.Equal(t, c.At(5), 0.5)

	_, err = NewXYCurve([]float64{1}, nil)
	assert.Assert(t, err != nil)
}
