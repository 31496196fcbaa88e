/*
virtualfeeder.go In-process radial power flow. The feeder is solved in per
unit with a backward/forward sweep: branch flows accumulate from the leaves to
the source, then voltages are propagated outward. Transformers are ideal and
scale voltage by the product of their regulator ratios; lines drop
(R*P + X*Q)/V_LL^2 and lose I^2 R.
*/

package virtualfeeder

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/topology"
	"github.com/ohowland/vvc_core/internal/pkg/virtual"
)

// TapStep is the per-tap voltage ratio change of a 32-step regulator.
const TapStep = 0.00625

// Default regulator band when a RegControl does not set one: 120 V +/- 1 V.
const (
	defaultBandLow  = 119.0 / 120.0
	defaultBandHigh = 121.0 / 120.0
	defaultKVBase   = 2.4018
	collapsePU      = 0.2
)

// Config holds the site and numerical parameters of the virtual feeder.
type Config struct {
	Latitude    float64   `json:"Latitude"`    // degrees
	ElevationFt float64   `json:"ElevationFt"` // feet
	ArrayTilt   float64   `json:"ArrayTilt"`   // degrees
	DailyShape  []float64 `json:"DailyShape"`  // 24 hourly load factors
	Seasonal    float64   `json:"Seasonal"`
	MaxSweeps   int       `json:"MaxSweeps"`
	Tolerance   float64   `json:"Tolerance"` // pu
}

// DefaultConfig is a mid-latitude site with a residential load shape.
func DefaultConfig() Config {
	return Config{
		Latitude:    42,
		ElevationFt: 600,
		ArrayTilt:   30,
		DailyShape:  virtual.DefaultDailyShape,
		Seasonal:    0.1,
		MaxSweeps:   50,
		Tolerance:   1e-7,
	}
}

// Feeder is a network.Solver.
type Feeder struct {
	pid    uuid.UUID
	mux    *sync.Mutex
	config Config
	array  virtual.Array
	site   virtual.Location
	shape  virtual.LoadShape

	net      network.Network
	compiled bool
	order    []string // buses reachable from the source, BFS order
	feeds    topology.ParentMap
	children map[string][]string
	kvBase   map[string]float64
	lines    map[string]network.Line
	xfmrRegs map[string][]string // lower-case transformer name -> regulators

	taps     map[string]int
	pvOn     map[string]bool
	pvFactor map[string]float64
	loadMult float64
	added    []network.Load

	hour    float64
	step    time.Duration
	mode    network.ControlMode
	maxIter int

	pu        map[string]float64
	power     network.PQ
	losses    network.PQ
	converged bool
}

// New reads a Config from configPath. An empty path selects DefaultConfig.
func New(configPath string) (*Feeder, error) {
	config := DefaultConfig()
	if configPath != "" {
		jsonConfig, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(jsonConfig, &config); err != nil {
			return nil, err
		}
	}
	return NewWithConfig(config)
}

// NewWithConfig builds a Feeder from an explicit Config.
func NewWithConfig(config Config) (*Feeder, error) {
	if len(config.DailyShape) == 0 {
		config.DailyShape = virtual.DefaultDailyShape
	}
	if config.MaxSweeps <= 0 {
		config.MaxSweeps = 50
	}
	if config.Tolerance <= 0 {
		config.Tolerance = 1e-7
	}
	shape, err := virtual.NewLoadShape(config.DailyShape, config.Seasonal)
	if err != nil {
		return nil, err
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	return &Feeder{
		pid:    pid,
		mux:    &sync.Mutex{},
		config: config,
		array:  virtual.NewArray(config.ArrayTilt),
		site:   virtual.NewLocation(config.Latitude, config.ElevationFt),
		shape:  shape,
		step:   network.StepSize,
	}, nil
}

// PID is an accessor for the process id.
func (f *Feeder) PID() uuid.UUID {
	return f.pid
}

// Compile loads a definition and resets every runtime setting to it.
func (f *Feeder) Compile(def network.Network) error {
	if err := def.Validate(); err != nil {
		return err
	}
	g, err := topology.BuildAdjacency(def)
	if err != nil {
		return err
	}
	feeds, err := topology.BFSParentMap(g, def.SourceBus)
	if err != nil {
		return err
	}

	f.mux.Lock()
	defer f.mux.Unlock()

	f.net = def
	f.feeds = feeds
	f.children = topology.Children(feeds)
	f.order = bfsOrder(def.SourceBus, f.children)

	f.kvBase = make(map[string]float64, len(def.Buses))
	for _, b := range def.Buses {
		f.kvBase[b.ID] = b.KVBase
	}

	f.lines = make(map[string]network.Line, len(def.Lines))
	for _, l := range def.Lines {
		f.lines[l.Name] = l
	}

	f.taps = make(map[string]int, len(def.RegControls))
	f.xfmrRegs = make(map[string][]string)
	for _, r := range def.RegControls {
		f.taps[r.Name] = r.Tap
		key := strings.ToLower(r.Transformer)
		f.xfmrRegs[key] = append(f.xfmrRegs[key], r.Name)
	}

	f.pvOn = make(map[string]bool, len(def.PVSystems))
	f.pvFactor = make(map[string]float64, len(def.PVSystems))
	for _, pv := range def.PVSystems {
		f.pvOn[pv.Name] = true
		f.pvFactor[pv.Name] = 1.0
	}

	f.loadMult = 1.0
	f.added = nil
	f.hour = 0
	f.step = network.StepSize
	f.mode = network.ControlOff
	f.maxIter = 0
	f.pu = make(map[string]float64)
	f.power = network.PQ{}
	f.losses = network.PQ{}
	f.converged = false
	f.compiled = true
	return nil
}

func bfsOrder(source string, children map[string][]string) []string {
	order := []string{source}
	for i := 0; i < len(order); i++ {
		order = append(order, children[order[i]]...)
	}
	return order
}

func (f *Feeder) Network() network.Network {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.net
}

func (f *Feeder) phases(id string) int {
	b, _ := f.net.Bus(id)
	if len(b.Phases) == 0 {
		return 3
	}
	return len(b.Phases)
}

func (f *Feeder) BusVoltages(bus string) ([]float64, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if !f.compiled {
		return nil, network.ErrNotCompiled
	}
	kv, ok := f.kvBase[bus]
	if !ok {
		return nil, fmt.Errorf("%s: %w", bus, network.ErrUnknownBus)
	}
	mags := make([]float64, f.phases(bus))
	for i := range mags {
		mags[i] = f.pu[bus] * kv * 1000
	}
	return mags, nil
}

func (f *Feeder) BusKVBase(bus string) (float64, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if !f.compiled {
		return 0, network.ErrNotCompiled
	}
	kv, ok := f.kvBase[bus]
	if !ok {
		return 0, fmt.Errorf("%s: %w", bus, network.ErrUnknownBus)
	}
	return kv, nil
}

// AllBusVmagPu returns one entry per bus phase in definition order. Buses cut
// off from the source read 0.
func (f *Feeder) AllBusVmagPu() []float64 {
	f.mux.Lock()
	defer f.mux.Unlock()
	all := make([]float64, 0, len(f.net.Buses)*3)
	for _, b := range f.net.Buses {
		for i := 0; i < f.phases(b.ID); i++ {
			all = append(all, f.pu[b.ID])
		}
	}
	return all
}

func (f *Feeder) TapNumber(reg string) (int, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	tap, ok := f.taps[reg]
	if !ok {
		return 0, fmt.Errorf("%s: %w", reg, network.ErrUnknownRegulator)
	}
	return tap, nil
}

// SetTapNumber moves a regulator. Positions outside the physical range are rejected.
func (f *Feeder) SetTapNumber(reg string, tap int) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if _, ok := f.taps[reg]; !ok {
		return fmt.Errorf("%s: %w", reg, network.ErrUnknownRegulator)
	}
	if tap < network.MinTap || tap > network.MaxTap {
		return fmt.Errorf("%s: tap %d outside [%d,%d]", reg, tap, network.MinTap, network.MaxTap)
	}
	f.taps[reg] = tap
	return nil
}

func (f *Feeder) RegulatorNames() []string {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.net.RegulatorNames()
}

func (f *Feeder) RegTransformer(reg string) (string, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	for _, r := range f.net.RegControls {
		if r.Name == reg {
			return r.Transformer, nil
		}
	}
	return "", fmt.Errorf("%s: %w", reg, network.ErrUnknownRegulator)
}

func (f *Feeder) SetPVEnabled(pv string, enabled bool) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if _, ok := f.pvOn[pv]; !ok {
		return fmt.Errorf("pvsystem %s not found", pv)
	}
	f.pvOn[pv] = enabled
	return nil
}

// SetPVTemperature derates a PV system by curve evaluated at celsius.
func (f *Feeder) SetPVTemperature(pv string, curve network.XYCurve, celsius float64) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if _, ok := f.pvFactor[pv]; !ok {
		return fmt.Errorf("pvsystem %s not found", pv)
	}
	f.pvFactor[pv] = curve.At(celsius)
	return nil
}

func (f *Feeder) SetLoadMult(mult float64) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.loadMult = mult
}

// AddLoad attaches an extra constant load until the next Compile.
func (f *Feeder) AddLoad(load network.Load) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if _, ok := f.kvBase[network.BusID(load.Bus)]; !ok {
		return fmt.Errorf("load %s bus %q: %w", load.Name, load.Bus, network.ErrUnknownBus)
	}
	f.added = append(f.added, load)
	return nil
}

func (f *Feeder) SetTime(hour float64, step time.Duration) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.hour = hour
	f.step = step
}

// Hour is the simulated clock in hours since the start of the reference year.
func (f *Feeder) Hour() float64 {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.hour
}

func (f *Feeder) SetControlMode(mode network.ControlMode, maxIter int) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.mode = mode
	f.maxIter = maxIter
}

// Solve solves the current interval, runs regulator automation if enabled,
// then advances the clock one step.
func (f *Feeder) Solve() error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if !f.compiled {
		return network.ErrNotCompiled
	}
	f.sweep()
	if f.mode == network.ControlTime {
		for i := 0; i < f.maxIter; i++ {
			if !f.regulate() {
				break
			}
			f.sweep()
		}
	}
	f.hour += f.step.Hours()
	return nil
}

func (f *Feeder) SolveNoControl() error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if !f.compiled {
		return network.ErrNotCompiled
	}
	f.sweep()
	return nil
}

func (f *Feeder) Converged() bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.converged
}

func (f *Feeder) TotalPower() network.PQ {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.power
}

func (f *Feeder) Losses() network.PQ {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.losses
}

// injections returns the net demand at every bus for the current clock.
func (f *Feeder) injections() map[string]network.PQ {
	t := virtual.ClockTime(f.hour)
	mult := f.loadMult * f.shape.At(t)
	inj := make(map[string]network.PQ)
	add := func(bus string, kw, kvar float64) {
		s := inj[bus]
		s.KW += kw
		s.KVAR += kvar
		inj[bus] = s
	}

	for _, l := range f.net.Loads {
		add(network.BusID(l.Bus), l.KW*mult, l.KVAR*mult)
	}
	for _, l := range f.added {
		add(network.BusID(l.Bus), l.KW, l.KVAR)
	}

	irradiance := virtual.TotalIrradiance(f.array, f.site, t) / 1000
	for _, pv := range f.net.PVSystems {
		if !f.pvOn[pv.Name] {
			continue
		}
		add(network.BusID(pv.Bus), -pv.PmppKW*irradiance*f.pvFactor[pv.Name], 0)
	}
	return inj
}

func (f *Feeder) ratio(xfmr string) float64 {
	r := 1.0
	for _, reg := range f.xfmrRegs[strings.ToLower(xfmr)] {
		r *= 1 + TapStep*float64(f.taps[reg])
	}
	return r
}

func (f *Feeder) vllSquared(bus string) float64 {
	kv := f.kvBase[bus]
	if kv <= 0 {
		kv = defaultKVBase
	}
	return 3 * kv * kv
}

// sweep solves the network at the current clock without touching taps.
func (f *Feeder) sweep() {
	inj := f.injections()
	source := f.net.SourcePU
	if source <= 0 {
		source = 1.0
	}

	pu := make(map[string]float64, len(f.order))
	for _, b := range f.order {
		pu[b] = source
	}
	flow := make(map[string]network.PQ, len(f.order))
	loss := make(map[string]network.PQ, len(f.order))

	f.converged = false
	for iter := 0; iter < f.config.MaxSweeps; iter++ {
		for i := len(f.order) - 1; i >= 0; i-- {
			b := f.order[i]
			s := inj[b]
			for _, c := range f.children[b] {
				s.KW += flow[c].KW + loss[c].KW
				s.KVAR += flow[c].KVAR + loss[c].KVAR
			}
			flow[b] = s
			loss[b] = network.PQ{}
			feed, ok := f.feeds[b]
			if !ok || feed.Element.IsTransformer() {
				continue
			}
			if l, ok := f.lines[feed.Element.Name]; ok {
				scale := (s.KW*s.KW + s.KVAR*s.KVAR) / (1000 * f.vllSquared(b) * pu[b] * pu[b])
				loss[b] = network.PQ{KW: l.R * scale, KVAR: l.X * scale}
			}
		}

		delta := 0.0
		for _, b := range f.order[1:] {
			feed := f.feeds[b]
			parent := pu[feed.From]
			next := parent
			if feed.Element.IsTransformer() {
				next = parent * f.ratio(feed.Element.Name)
			} else if l, ok := f.lines[feed.Element.Name]; ok {
				s := flow[b]
				next = parent - (l.R*s.KW+l.X*s.KVAR)/(1000*f.vllSquared(b)*parent)
			}
			delta = math.Max(delta, math.Abs(next-pu[b]))
			pu[b] = next
		}

		if collapsed(pu) {
			break
		}
		if delta < f.config.Tolerance {
			f.converged = true
			break
		}
	}

	var total, lost network.PQ
	for _, b := range f.order {
		total.KW += inj[b].KW
		total.KVAR += inj[b].KVAR
		lost.KW += loss[b].KW
		lost.KVAR += loss[b].KVAR
	}
	f.pu = pu
	f.losses = lost
	f.power = network.PQ{KW: -(total.KW + lost.KW), KVAR: -(total.KVAR + lost.KVAR)}
}

func collapsed(pu map[string]float64) bool {
	for _, v := range pu {
		if v < collapsePU || math.IsNaN(v) {
			return true
		}
	}
	return false
}

// regulate applies one round of band control to every regulator. It reports
// whether any tap moved.
func (f *Feeder) regulate() bool {
	moved := false
	regs := append([]network.RegControl(nil), f.net.RegControls...)
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].Name < regs[j].Name })
	for _, r := range regs {
		xfmr, ok := f.net.Transformer(r.Transformer)
		if !ok || len(xfmr.Buses) < 2 {
			continue
		}
		v, ok := f.pu[network.BusID(xfmr.Buses[1])]
		if !ok {
			continue
		}
		low, high := r.BandLowPU, r.BandHighPU
		if low <= 0 || high <= 0 {
			low, high = defaultBandLow, defaultBandHigh
		}
		tap := f.taps[r.Name]
		switch {
		case v < low && tap < network.MaxTap:
			f.taps[r.Name] = tap + 1
			moved = true
		case v > high && tap > network.MinTap:
			f.taps[r.Name] = tap - 1
			moved = true
		}
	}
	return moved
}
