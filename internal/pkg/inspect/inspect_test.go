package inspect

import (
	"errors"
	"math"
	"testing"

	"github.com/ohowland/vvc_core/internal/pkg/control"
	"github.com/ohowland/vvc_core/internal/pkg/control/rulecontrol"
	"github.com/ohowland/vvc_core/internal/pkg/memory"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/network/mocksolver"
	"github.com/ohowland/vvc_core/internal/pkg/topology"
	"gotest.tools/v3/assert"
)

func testNetwork() network.Network {
	return network.Network{
		SourceBus: "src",
		Buses:     []network.Bus{{ID: "src"}, {ID: "a"}, {ID: "b"}, {ID: "lonely"}},
		Transformers: []network.Transformer{
			{Name: "t1", Buses: []string{"src", "a"}},
		},
		Lines:       []network.Line{{Name: "l1", Bus1: "a.1.2.3", Bus2: "b.1.2.3"}},
		RegControls: []network.RegControl{{Name: "reg1", Transformer: "t1"}},
	}
}

// bus b sags to 0.93 pu at tap 0 and rises one tap step per tap.
func sagging(m *mocksolver.MockSolver) {
	pu := 0.93 + 0.00625*float64(m.Taps["reg1"])
	m.SetBusPU("src", 1.0, 2.4, 3)
	m.SetBusPU("a", 1.0, 2.4, 3)
	m.SetBusPU("b", pu, 2.4, 3)
	m.AllPU = []float64{1.0, 1.0, pu}
	m.Power = network.PQ{KW: -1200}
}

func newInspector() (*Inspector, *mocksolver.MockSolver, *memory.Session) {
	net := testNetwork()
	m := mocksolver.New(net)
	m.OnSolve = sagging
	store := memory.NewSession()
	return New(m, net, store, rulecontrol.DefaultConfig()), m, store
}

func TestControllingElement(t *testing.T) {
	net := testNetwork()

	e, term, err := ControllingElement(net, "b")
	assert.NilError(t, err)
	assert.Equal(t, e.String(), "Line.l1")
	assert.Equal(t, term, 2)

	e, term, err = ControllingElement(net, "a.1")
	assert.NilError(t, err)
	assert.Equal(t, e.String(), "Line.l1")
	assert.Equal(t, term, 1)

	e, _, err = ControllingElement(net, "src")
	assert.NilError(t, err)
	assert.Equal(t, e.String(), "Transformer.t1")

	_, _, err = ControllingElement(net, "lonely")
	assert.Assert(t, errors.Is(err, ErrNoControllingElement))
}

func TestRunForBusActive(t *testing.T) {
	in, m, store := newInspector()

	r, err := in.RunForBus("b", Options{Day: 10, Active: true})
	assert.NilError(t, err)
	assert.DeepEqual(t, r.Chain, []string{"reg1"})
	assert.DeepEqual(t, r.RegulationSteps, []int{0, 1, 2, 3})
	assert.Equal(t, len(r.Events), 4)
	assert.Equal(t, r.Events[0].Reason, control.UnderVoltage)
	assert.Equal(t, r.FinalTaps["reg1"], 4)
	assert.Equal(t, len(r.TargetPU), network.StepsPerDay)
	assert.Equal(t, r.Min.Step, 0)
	assert.Equal(t, r.PeakPowerKW, 1200.0)
	assert.Assert(t, r.Saved)
	assert.Equal(t, m.Solves, network.StepsPerDay)
	assert.Equal(t, m.Mode, network.ControlOff)
	assert.Equal(t, m.Hour, 9*24+float64(network.StepsPerDay)*network.StepSize.Hours())

	taps, _ := store.Load()
	assert.DeepEqual(t, taps, map[string]int{"reg1": 4})
}

func TestRunForBusRestoresMemory(t *testing.T) {
	in, _, store := newInspector()
	assert.NilError(t, store.Save(map[string]int{"reg1": 4, "gone": 2}))

	r, err := in.RunForBus("b", Options{Day: 1})
	assert.NilError(t, err)
	assert.DeepEqual(t, r.Restored, map[string]int{"reg1": 4})
	assert.Equal(t, r.InitialTaps["reg1"], 4)
	assert.Equal(t, len(r.RegulationSteps), 0)
	assert.Assert(t, !r.Saved)
}

func TestRunForBusPassive(t *testing.T) {
	in, _, store := newInspector()

	r, err := in.RunForBus("b", Options{Day: 1})
	assert.NilError(t, err)
	assert.Equal(t, len(r.Events), 0)
	assert.Equal(t, r.FinalTaps["reg1"], 0)
	assert.Equal(t, r.Min.PU, r.Max.PU)

	taps, _ := store.Load()
	assert.Equal(t, len(taps), 0)
}

func TestRunForBusTestLoad(t *testing.T) {
	in, m, _ := newInspector()

	_, err := in.RunForBus("b", Options{Day: 1, TestLoadKW: 100})
	assert.NilError(t, err)
	assert.Equal(t, len(m.Added), 1)
	assert.Equal(t, m.Added[0].Bus, "b")
	assert.Assert(t, math.Abs(m.Added[0].KVAR-20.31) < 0.01)
}

func TestRunForBusFailures(t *testing.T) {
	in, _, _ := newInspector()

	_, err := in.RunForBus("nowhere", Options{Day: 1})
	assert.Assert(t, errors.Is(err, topology.ErrUnknownBus))

	_, err = in.RunForBus("lonely", Options{Day: 1})
	assert.Assert(t, errors.Is(err, ErrNoControllingElement))

	_, err = in.RunForBus("b", Options{Day: 0})
	assert.Assert(t, err != nil)
}

func TestAnalyzeViolations(t *testing.T) {
	in, m, _ := newInspector()
	m.OnSolve = func(m *mocksolver.MockSolver) {
		m.SetBusPU("src", 0.90, 2.4, 3)
		m.SetBusPU("a", 1.07, 2.4, 3)
		m.SetBusPU("b", 0.93, 2.4, 1)
		m.Voltages["lonely"] = []float64{0, 0, 0}
		m.KVBases["lonely"] = 2.4
		m.Power = network.PQ{KW: -800}
	}

	a, err := in.AnalyzeViolations(Options{Day: 200, PVEnabled: true, Temperature: 30})
	assert.NilError(t, err)
	assert.DeepEqual(t, a.Under, []string{"b"})
	assert.DeepEqual(t, a.Over, []string{"a"})
	assert.Equal(t, a.PeakPowerKW, 800.0)
	_, seen := a.MinPU["lonely"]
	assert.Assert(t, !seen)
	assert.Equal(t, m.Solves, network.StepsPerDay)
}

func TestAnalyzeSkipsNonConverged(t *testing.T) {
	in, m, _ := newInspector()
	m.Conv = false

	a, err := in.AnalyzeViolations(Options{Day: 1})
	assert.NilError(t, err)
	assert.Equal(t, len(a.Under), 0)
	assert.Equal(t, a.PeakPowerKW, 0.0)
}
