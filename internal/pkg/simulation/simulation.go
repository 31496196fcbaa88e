/*
simulation.go Episode lifecycle over a Solver. The Core owns tap actuation for
the length of an episode: the solver's own regulator automation is switched
off on reset and every tap change comes through Step.
*/

package simulation

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/observation"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotReset    = errors.New("simulation: no episode in progress")
	ErrEpisodeDone = errors.New("simulation: episode finished")
	ErrBadDay      = errors.New("simulation: day of year outside [1,365]")
)

// EpisodeParams are the conditions of one simulated day.
type EpisodeParams struct {
	Day         int     `json:"Day"`
	PVEnabled   bool    `json:"PVEnabled"`
	Temperature float64 `json:"Temperature"` // panel temperature, C
	LoadScale   float64 `json:"LoadScale"`   // <= 0 means 1.0
}

// Episode is the episode in progress.
type Episode struct {
	ID uuid.UUID
	EpisodeParams
	Step int
}

// State is a snapshot taken after a solve. Callers own it.
type State struct {
	Voltages     map[string]float64 // sensor bus -> pu
	Taps         map[string]int
	TotalPowerKW float64
	TotalLossKW  float64
	Converged    bool
}

// Core steps one Solver through episodes of network.StepsPerDay intervals.
type Core struct {
	solver     network.Solver
	def        network.Network
	sensors    []string
	regulators []string
	episode    Episode
	started    bool
}

// New binds a solver to a network definition and a sensor list. The sensor
// list may be empty.
func New(solver network.Solver, def network.Network, sensors []string) *Core {
	return &Core{
		solver:     solver,
		def:        def,
		sensors:    append([]string(nil), sensors...),
		regulators: def.RegulatorNames(),
	}
}

// Reset compiles the definition and prepares a new day. It returns the
// snapshot at t=0.
func (c *Core) Reset(params EpisodeParams) (State, error) {
	if params.Day < 1 || params.Day > 365 {
		return State{}, fmt.Errorf("day %d: %w", params.Day, ErrBadDay)
	}
	if params.LoadScale <= 0 {
		params.LoadScale = 1.0
	}

	if err := c.solver.Compile(c.def); err != nil {
		return State{}, err
	}
	for _, pv := range c.def.PVSystems {
		if params.PVEnabled {
			if err := c.solver.SetPVEnabled(pv.Name, true); err != nil {
				return State{}, err
			}
			if err := c.solver.SetPVTemperature(pv.Name, network.PVTemperatureCurve, params.Temperature); err != nil {
				return State{}, err
			}
			continue
		}
		if err := c.solver.SetPVEnabled(pv.Name, false); err != nil {
			return State{}, err
		}
	}
	c.solver.SetLoadMult(params.LoadScale)
	c.solver.SetTime(float64(params.Day-1)*24, network.StepSize)
	c.solver.SetControlMode(network.ControlOff, 0)
	c.regulators = c.solver.RegulatorNames()

	if err := c.solver.SolveNoControl(); err != nil {
		return State{}, err
	}

	id, err := uuid.NewUUID()
	if err != nil {
		return State{}, err
	}
	c.episode = Episode{ID: id, EpisodeParams: params}
	c.started = true

	log.WithFields(log.Fields{
		"episode": id,
		"day":     params.Day,
		"pv":      params.PVEnabled,
		"scale":   params.LoadScale,
	}).Debug("[Simulation] reset")
	return c.State(), nil
}

// Step applies tap deltas and solves one interval. A delta that would leave
// the tap range, or names an unknown regulator, is dropped. done is true once
// the day is complete.
func (c *Core) Step(deltas map[string]int) (State, bool, error) {
	if !c.started {
		return State{}, false, ErrNotReset
	}
	if c.episode.Step >= network.StepsPerDay {
		return State{}, true, ErrEpisodeDone
	}

	for _, reg := range c.regulators {
		d := deltas[reg]
		if d == 0 {
			continue
		}
		tap, err := c.solver.TapNumber(reg)
		if err != nil {
			continue
		}
		next, ok := network.ClampTap(tap, d)
		if !ok {
			continue
		}
		if err := c.solver.SetTapNumber(reg, next); err != nil {
			return State{}, false, err
		}
	}

	if err := c.solver.Solve(); err != nil {
		return State{}, false, err
	}
	c.episode.Step++
	return c.State(), c.episode.Step >= network.StepsPerDay, nil
}

// State samples the solver. Sensor voltages fall back to 1.0 pu when unreadable.
func (c *Core) State() State {
	return State{
		Voltages:     observation.SensorVoltages(c.solver, c.sensors),
		Taps:         observation.Taps(c.solver, c.regulators),
		TotalPowerKW: math.Abs(c.solver.TotalPower().KW),
		TotalLossKW:  c.solver.Losses().KW,
		Converged:    c.solver.Converged(),
	}
}

// EnableNativeControl hands tap actuation back to the solver's own time-based
// regulator automation. Used as the baseline in comparison runs.
func (c *Core) EnableNativeControl(maxIter int) {
	c.solver.SetControlMode(network.ControlTime, maxIter)
}

// Layout is the observation layout for this core's sensors and regulators.
func (c *Core) Layout() observation.Layout {
	return observation.Layout{Sensors: c.sensors, Regulators: c.regulators}
}

// Observation encodes state at the current step.
func (c *Core) Observation(s State) []float32 {
	return observation.Encode(c.Layout(), Reading(s), c.episode.Step)
}

// Reading converts a State into the encoder's input.
func Reading(s State) observation.Reading {
	return observation.Reading{Voltages: s.Voltages, Taps: s.Taps, PowerKW: s.TotalPowerKW}
}

func (c *Core) Episode() Episode {
	return c.episode
}

func (c *Core) CurrentStep() int {
	return c.episode.Step
}

func (c *Core) Solver() network.Solver {
	return c.solver
}

func (c *Core) Network() network.Network {
	return c.def
}

func (c *Core) Sensors() []string {
	return c.sensors
}

func (c *Core) Regulators() []string {
	return c.regulators
}
