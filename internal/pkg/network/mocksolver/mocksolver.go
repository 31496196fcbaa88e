package mocksolver

import (
	"fmt"
	"sync"
	"time"

	"github.com/ohowland/vvc_core/internal/pkg/network"
)

// MockSolver is a scripted network.Solver. Tests set the exported fields
// directly; OnSolve, if set, runs on every Solve and SolveNoControl.
type MockSolver struct {
	mux *sync.Mutex

	Net        network.Network
	Compiled   bool
	CompileErr error

	Voltages map[string][]float64
	KVBases  map[string]float64
	AllPU    []float64
	Taps     map[string]int
	Power    network.PQ
	Loss     network.PQ
	Conv     bool

	PVEnabled map[string]bool
	PVTemp    map[string]float64
	LoadMult  float64
	Added     []network.Load
	Hour      float64
	Step      time.Duration
	Mode      network.ControlMode
	MaxIter   int

	Solves         int
	SnapshotSolves int
	TapWrites      int
	OnSolve        func(m *MockSolver)
}

// New returns a MockSolver with the network already compiled.
func New(net network.Network) *MockSolver {
	m := &MockSolver{
		mux:       &sync.Mutex{},
		Voltages:  make(map[string][]float64),
		KVBases:   make(map[string]float64),
		Taps:      make(map[string]int),
		PVEnabled: make(map[string]bool),
		PVTemp:    make(map[string]float64),
		LoadMult:  1.0,
		Conv:      true,
	}
	m.Compile(net)
	return m
}

func (m *MockSolver) Compile(def network.Network) error {
	if m.CompileErr != nil {
		return m.CompileErr
	}
	m.Net = def
	m.Compiled = true
	m.Added = nil
	m.LoadMult = 1.0
	for _, r := range def.RegControls {
		m.Taps[r.Name] = r.Tap
	}
	for _, pv := range def.PVSystems {
		m.PVEnabled[pv.Name] = true
	}
	return nil
}

func (m *MockSolver) Network() network.Network {
	return m.Net
}

func (m *MockSolver) BusVoltages(bus string) ([]float64, error) {
	v, ok := m.Voltages[bus]
	if !ok {
		return nil, fmt.Errorf("%s: %w", bus, network.ErrUnknownBus)
	}
	return v, nil
}

func (m *MockSolver) BusKVBase(bus string) (float64, error) {
	kv, ok := m.KVBases[bus]
	if !ok {
		return 0, fmt.Errorf("%s: %w", bus, network.ErrUnknownBus)
	}
	return kv, nil
}

func (m *MockSolver) AllBusVmagPu() []float64 {
	return m.AllPU
}

func (m *MockSolver) TapNumber(reg string) (int, error) {
	tap, ok := m.Taps[reg]
	if !ok {
		return 0, fmt.Errorf("%s: %w", reg, network.ErrUnknownRegulator)
	}
	return tap, nil
}

func (m *MockSolver) SetTapNumber(reg string, tap int) error {
	if _, ok := m.Taps[reg]; !ok {
		return fmt.Errorf("%s: %w", reg, network.ErrUnknownRegulator)
	}
	m.Taps[reg] = tap
	m.TapWrites++
	return nil
}

func (m *MockSolver) RegulatorNames() []string {
	return m.Net.RegulatorNames()
}

func (m *MockSolver) RegTransformer(reg string) (string, error) {
	for _, r := range m.Net.RegControls {
		if r.Name == reg {
			return r.Transformer, nil
		}
	}
	return "", fmt.Errorf("%s: %w", reg, network.ErrUnknownRegulator)
}

func (m *MockSolver) SetPVEnabled(pv string, enabled bool) error {
	m.PVEnabled[pv] = enabled
	return nil
}

func (m *MockSolver) SetPVTemperature(pv string, curve network.XYCurve, celsius float64) error {
	m.PVTemp[pv] = celsius
	return nil
}

func (m *MockSolver) SetLoadMult(mult float64) {
	m.LoadMult = mult
}

func (m *MockSolver) AddLoad(load network.Load) error {
	m.Added = append(m.Added, load)
	return nil
}

func (m *MockSolver) SetTime(hour float64, step time.Duration) {
	m.Hour = hour
	m.Step = step
}

func (m *MockSolver) SetControlMode(mode network.ControlMode, maxIter int) {
	m.Mode = mode
	m.MaxIter = maxIter
}

func (m *MockSolver) Solve() error {
	m.mux.Lock()
	m.Solves++
	m.mux.Unlock()
	if m.OnSolve != nil {
		m.OnSolve(m)
	}
	m.Hour += m.Step.Hours()
	return nil
}

func (m *MockSolver) SolveNoControl() error {
	m.SnapshotSolves++
	if m.OnSolve != nil {
		m.OnSolve(m)
	}
	return nil
}

func (m *MockSolver) Converged() bool {
	return m.Conv
}

func (m *MockSolver) TotalPower() network.PQ {
	return m.Power
}

func (m *MockSolver) Losses() network.PQ {
	return m.Loss
}

// SetBusPU sets every phase of bus to pu on the given phase base (kV).
func (m *MockSolver) SetBusPU(bus string, pu float64, kvBase float64, phases int) {
	v := make([]float64, phases)
	for i := range v {
		v[i] = pu * kvBase * 1000
	}
	m.Voltages[bus] = v
	m.KVBases[bus] = kvBase
}
