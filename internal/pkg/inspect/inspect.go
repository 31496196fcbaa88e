/*
inspect.go Interactive feeder studies. RunForBus simulates one day watching a
single bus, optionally with rule control escalating through the regulators
upstream of it; AnalyzeViolations scans every bus for the day. Both start from
the taps left in memory by earlier active runs.
*/

package inspect

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ohowland/vvc_core/internal/pkg/control"
	"github.com/ohowland/vvc_core/internal/pkg/control/rulecontrol"
	"github.com/ohowland/vvc_core/internal/pkg/memory"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/observation"
	"github.com/ohowland/vvc_core/internal/pkg/topology"
	log "github.com/sirupsen/logrus"
)

// ErrNoControllingElement is returned for a bus with no line or transformer attached.
var ErrNoControllingElement = errors.New("inspect: no element to monitor at bus")

// TestLoadPF is the power factor of the experimental load.
const TestLoadPF = 0.98

// Options describe the day being studied.
type Options struct {
	Day         int     `json:"Day"`
	PVEnabled   bool    `json:"PVEnabled"`
	Temperature float64 `json:"Temperature"`
	TestLoadKW  float64 `json:"TestLoadKW"`
	TestLoadBus string  `json:"TestLoadBus"` // defaults to the inspected bus
	Active      bool    `json:"Active"`
}

// Report is the outcome of RunForBus.
type Report struct {
	Target          string          `json:"Target"`
	Element         string          `json:"Element"`
	Terminal        int             `json:"Terminal"`
	AtBus           []string        `json:"AtBus"`
	Chain           []string        `json:"Chain"`
	InitialTaps     map[string]int  `json:"InitialTaps"`
	FinalTaps       map[string]int  `json:"FinalTaps"`
	Restored        map[string]int  `json:"Restored"`
	RegulationSteps []int           `json:"RegulationSteps"`
	Events          []control.Event `json:"Events"`
	TargetPU        []float64       `json:"TargetPU"`
	Min             Extreme         `json:"Min"`
	Max             Extreme         `json:"Max"`
	PeakPowerKW     float64         `json:"PeakPowerKW"`
	NonConverged    int             `json:"NonConverged"`
	Saved           bool            `json:"Saved"`
	Options         Options         `json:"Options"`
}

// Extreme is a voltage and the step it occurred at.
type Extreme struct {
	PU   float64 `json:"PU"`
	Step int     `json:"Step"`
}

// Analysis is the outcome of AnalyzeViolations.
type Analysis struct {
	Under       []string           `json:"Under"`
	Over        []string           `json:"Over"`
	MinPU       map[string]float64 `json:"MinPU"`
	MaxPU       map[string]float64 `json:"MaxPU"`
	PeakPowerKW float64            `json:"PeakPowerKW"`
}

// Inspector runs studies against one solver and one tap memory.
type Inspector struct {
	solver network.Solver
	def    network.Network
	store  memory.Store
	band   rulecontrol.Config
}

// New returns an Inspector. Calls must not overlap.
func New(solver network.Solver, def network.Network, store memory.Store, band rulecontrol.Config) *Inspector {
	return &Inspector{solver: solver, def: def, store: store, band: band}
}

// Network is the definition under study.
func (in *Inspector) Network() network.Network {
	return in.def
}

// Memory is the tap store shared between studies.
func (in *Inspector) Memory() memory.Store {
	return in.store
}

// Chain resolves the regulators upstream of bus.
func (in *Inspector) Chain(bus string) (topology.Chain, error) {
	r, err := topology.NewResolver(in.def)
	if err != nil {
		return nil, err
	}
	return r.Resolve(bus)
}

// ControllingElement picks the element a bus is monitored through: the first
// line at the bus, else the first transformer. terminal is 1 or 2.
func ControllingElement(def network.Network, bus string) (network.Element, int, error) {
	bus = network.BusID(bus)
	elems := def.ElementsAtBus(bus)
	for _, e := range elems {
		if e.Kind != network.LineKind {
			continue
		}
		buses, _ := def.ElementBuses(e)
		if len(buses) > 0 && buses[0] == bus {
			return e, 1, nil
		}
		return e, 2, nil
	}
	for _, e := range elems {
		if e.IsTransformer() {
			return e, 1, nil
		}
	}
	return network.Element{}, 0, fmt.Errorf("%s: %w", bus, ErrNoControllingElement)
}

func (in *Inspector) setup(opts Options, target string) (map[string]int, error) {
	if opts.Day < 1 || opts.Day > 365 {
		return nil, fmt.Errorf("inspect: day %d outside [1,365]", opts.Day)
	}
	if err := in.solver.Compile(in.def); err != nil {
		return nil, err
	}
	for _, pv := range in.def.PVSystems {
		if err := in.solver.SetPVEnabled(pv.Name, opts.PVEnabled); err != nil {
			return nil, err
		}
		if opts.PVEnabled {
			if err := in.solver.SetPVTemperature(pv.Name, network.PVTemperatureCurve, opts.Temperature); err != nil {
				return nil, err
			}
		}
	}
	if opts.TestLoadKW > 0 {
		bus := opts.TestLoadBus
		if bus == "" {
			bus = target
		}
		load := network.Load{
			Name: "test_experiment_load",
			Bus:  bus,
			KW:   opts.TestLoadKW,
			KVAR: opts.TestLoadKW * math.Tan(math.Acos(TestLoadPF)),
		}
		if err := in.solver.AddLoad(load); err != nil {
			return nil, err
		}
		log.Printf("[Inspector] test load %.1f kW at %s", load.KW, bus)
	}
	in.solver.SetTime(float64(opts.Day-1)*24, network.StepSize)
	in.solver.SetControlMode(network.ControlOff, 0)

	restored, err := memory.Restore(in.store, in.solver)
	if err != nil {
		return nil, err
	}
	if len(restored) > 0 {
		log.WithField("taps", restored).Info("[Inspector] restored taps from memory")
	}
	return restored, nil
}

func (in *Inspector) taps() map[string]int {
	return observation.Taps(in.solver, in.solver.RegulatorNames())
}

// RunForBus simulates one day while monitoring target. With opts.Active the
// rule controller acts after every interval and the final taps are saved to
// memory.
func (in *Inspector) RunForBus(target string, opts Options) (Report, error) {
	target = network.BusID(target)
	if _, ok := in.def.Bus(target); !ok {
		return Report{}, fmt.Errorf("%s: %w", target, topology.ErrUnknownBus)
	}
	elem, term, err := ControllingElement(in.def, target)
	if err != nil {
		return Report{}, err
	}
	chain, err := in.Chain(target)
	if err != nil {
		return Report{}, err
	}

	restored, err := in.setup(opts, target)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Target:          target,
		Element:         elem.String(),
		Terminal:        term,
		Chain:           chain,
		InitialTaps:     in.taps(),
		RegulationSteps: make([]int, 0),
		Events:          make([]control.Event, 0),
		TargetPU:        make([]float64, 0, network.StepsPerDay),
		Min:             Extreme{PU: math.Inf(1)},
		Max:             Extreme{PU: math.Inf(-1)},
		Restored:        restored,
		Options:         opts,
	}
	for _, e := range in.def.ElementsAtBus(target) {
		report.AtBus = append(report.AtBus, e.String())
	}

	var controller control.Controller = control.Noop{}
	if opts.Active {
		controller = rulecontrol.NewWithConfig(in.band, in.solver, chain)
		if len(chain) == 0 {
			log.Warnf("[Inspector] no regulators upstream of %s", target)
		}
	}

	for step := 0; step < network.StepsPerDay; step++ {
		if err := in.solver.Solve(); err != nil {
			return Report{}, err
		}
		if !in.solver.Converged() {
			report.NonConverged++
		}
		report.PeakPowerKW = math.Max(report.PeakPowerKW, math.Abs(in.solver.TotalPower().KW))

		pu := observation.SensorVoltages(in.solver, []string{target})[target]
		report.TargetPU = append(report.TargetPU, pu)
		if pu < report.Min.PU {
			report.Min = Extreme{PU: pu, Step: step}
		}
		if pu > report.Max.PU {
			report.Max = Extreme{PU: pu, Step: step}
		}

		res := controller.CheckAndAct(step)
		for _, e := range res.Events {
			e.Log("[Inspector]")
		}
		report.Events = append(report.Events, res.Events...)
		if res.Acted {
			report.RegulationSteps = append(report.RegulationSteps, step)
		}
	}

	report.FinalTaps = in.taps()
	if opts.Active {
		if err := in.store.Save(report.FinalTaps); err != nil {
			return report, err
		}
		report.Saved = true
	}
	return report, nil
}

// AnalyzeViolations solves the day without control and lists the buses whose
// voltage left the band. Intervals that did not converge are skipped.
func (in *Inspector) AnalyzeViolations(opts Options) (Analysis, error) {
	if _, err := in.setup(opts, in.def.SourceBus); err != nil {
		return Analysis{}, err
	}

	a := Analysis{
		Under: make([]string, 0),
		Over:  make([]string, 0),
		MinPU: make(map[string]float64),
		MaxPU: make(map[string]float64),
	}
	for step := 0; step < network.StepsPerDay; step++ {
		if err := in.solver.Solve(); err != nil {
			return Analysis{}, err
		}
		if !in.solver.Converged() {
			continue
		}
		a.PeakPowerKW = math.Max(a.PeakPowerKW, math.Abs(in.solver.TotalPower().KW))

		for _, b := range in.def.Buses {
			lo, hi, ok := in.phaseExtremes(b.ID)
			if !ok {
				continue
			}
			if cur, seen := a.MaxPU[b.ID]; !seen || hi > cur {
				a.MaxPU[b.ID] = hi
			}
			if lo > 0 {
				if cur, seen := a.MinPU[b.ID]; !seen || lo < cur {
					a.MinPU[b.ID] = lo
				}
			}
		}
	}

	buses := make([]string, 0, len(a.MaxPU))
	for b := range a.MaxPU {
		buses = append(buses, b)
	}
	sort.Strings(buses)
	for _, b := range buses {
		if b == in.def.SourceBus {
			continue
		}
		lo, seen := a.MinPU[b]
		switch {
		case seen && lo < in.band.LowPU && lo > 0.001:
			a.Under = append(a.Under, b)
		case a.MaxPU[b] > in.band.HighPU:
			a.Over = append(a.Over, b)
		}
	}
	log.WithFields(log.Fields{"under": len(a.Under), "over": len(a.Over), "peak_kw": a.PeakPowerKW}).Info("[Inspector] violation scan")
	return a, nil
}

// phaseExtremes returns the lowest positive and the highest phase voltage of bus in pu.
func (in *Inspector) phaseExtremes(bus string) (float64, float64, bool) {
	kv, err := in.solver.BusKVBase(bus)
	if err != nil || kv <= 0 {
		return 0, 0, false
	}
	mags, err := in.solver.BusVoltages(bus)
	if err != nil || len(mags) == 0 {
		return 0, 0, false
	}
	lo, hi := 0.0, 0.0
	for _, v := range mags {
		pu := v / (kv * 1000)
		if pu > hi {
			hi = pu
		}
		if pu > 0 && (lo == 0 || pu < lo) {
			lo = pu
		}
	}
	return lo, hi, true
}
