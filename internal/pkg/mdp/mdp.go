/*
mdp.go Markov decision process view of a simulated day. Observations come from
the observation package, actions are one choice per regulator and every
episode is exactly one day long.
*/

package mdp

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/observation"
	"github.com/ohowland/vvc_core/internal/pkg/simulation"
)

// ErrBadAction is returned for an action of the wrong length or with an unknown choice.
var ErrBadAction = errors.New("mdp: invalid action")

// Choices per regulator: stay, raise, lower.
const Choices = 3

var choiceDelta = [Choices]int{0, 1, -1}

// Reward weights.
const (
	DeviationWeight = 0.5
	ViolationCost   = 2.0
	SwitchCost      = 0.1
	LowPU           = 0.95
	HighPU          = 1.05
)

// DecodeAction maps choices {0,1,2} to tap deltas {0,+1,-1}.
func DecodeAction(action []int, regulators int) ([]int, error) {
	if len(action) != regulators {
		return nil, fmt.Errorf("%d choices for %d regulators: %w", len(action), regulators, ErrBadAction)
	}
	deltas := make([]int, len(action))
	for i, a := range action {
		if a < 0 || a >= Choices {
			return nil, fmt.Errorf("choice %d for regulator %d: %w", a, i, ErrBadAction)
		}
		deltas[i] = choiceDelta[a]
	}
	return deltas, nil
}

// Violated reports whether v is outside the service band.
func Violated(v float64) bool {
	return v < LowPU || v > HighPU
}

// Reward scores one step. Voltages are summed in bus order so the result does
// not depend on map iteration.
func Reward(voltages map[string]float64, switches int) float64 {
	buses := make([]string, 0, len(voltages))
	for b := range voltages {
		buses = append(buses, b)
	}
	sort.Strings(buses)

	reward := 0.0
	deviation := 0.0
	for _, b := range buses {
		v := voltages[b]
		deviation += math.Abs(v - 1.0)
		if Violated(v) {
			reward -= ViolationCost
		}
	}
	reward -= DeviationWeight * deviation
	reward -= SwitchCost * float64(switches)
	return reward
}

// Violations counts sensors outside the band.
func Violations(voltages map[string]float64) int {
	n := 0
	for _, v := range voltages {
		if Violated(v) {
			n++
		}
	}
	return n
}

// Config sets the episode randomisation.
type Config struct {
	MinDay       int     `json:"MinDay"` // inclusive
	MaxDay       int     `json:"MaxDay"` // exclusive
	MinLoadScale float64 `json:"MinLoadScale"`
	MaxLoadScale float64 `json:"MaxLoadScale"`
	PVEnabled    bool    `json:"PVEnabled"`
	Temperature  float64 `json:"Temperature"`
	Seed         int64   `json:"Seed"`
}

// DefaultConfig draws days from [1,365) and load scales from [0.8,1.2).
func DefaultConfig() Config {
	return Config{
		MinDay:       1,
		MaxDay:       365,
		MinLoadScale: 0.8,
		MaxLoadScale: 1.2,
		PVEnabled:    true,
		Temperature:  25,
		Seed:         1,
	}
}

// Info accompanies every transition.
type Info struct {
	Episode    uuid.UUID
	Day        int
	Step       int
	PowerKW    float64
	Switches   int
	Violations int
	Converged  bool
}

// Env is a reinforcement learning environment over a simulation.Core.
type Env struct {
	core   *simulation.Core
	config Config
	rng    *rand.Rand
	state  simulation.State
}

// NewEnv wraps core. Episode conditions are drawn from a source seeded by config.Seed.
func NewEnv(core *simulation.Core, config Config) *Env {
	if config.MaxDay <= config.MinDay {
		config.MinDay, config.MaxDay = 1, 365
	}
	if config.MaxLoadScale < config.MinLoadScale {
		config.MinLoadScale, config.MaxLoadScale = config.MaxLoadScale, config.MinLoadScale
	}
	return &Env{
		core:   core,
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// ObservationLen is the fixed observation length.
func (e *Env) ObservationLen() int {
	return e.core.Layout().Len()
}

// ActionDims is the number of choices for each regulator.
func (e *Env) ActionDims() []int {
	dims := make([]int, len(e.core.Regulators()))
	for i := range dims {
		dims[i] = Choices
	}
	return dims
}

// Regulators is the order actions are read in.
func (e *Env) Regulators() []string {
	return e.core.Regulators()
}

// Reset starts an episode on a random day with a random load scale.
func (e *Env) Reset() ([]float32, Info, error) {
	day := e.config.MinDay + e.rng.Intn(e.config.MaxDay-e.config.MinDay)
	scale := e.config.MinLoadScale + (e.config.MaxLoadScale-e.config.MinLoadScale)*e.rng.Float64()
	return e.ResetWith(simulation.EpisodeParams{
		Day:         day,
		PVEnabled:   e.config.PVEnabled,
		Temperature: e.config.Temperature,
		LoadScale:   scale,
	})
}

// ResetWith starts an episode under fixed conditions.
func (e *Env) ResetWith(params simulation.EpisodeParams) ([]float32, Info, error) {
	s, err := e.core.Reset(params)
	if err != nil {
		return nil, Info{}, err
	}
	e.state = s
	return e.core.Observation(s), e.info(s, 0), nil
}

// Step applies action and advances one interval. Every nonzero choice counts
// as a switch whether or not the regulator was at its limit.
func (e *Env) Step(action []int) ([]float32, float64, bool, Info, error) {
	regs := e.core.Regulators()
	deltas, err := DecodeAction(action, len(regs))
	if err != nil {
		return nil, 0, false, Info{}, err
	}
	byReg := make(map[string]int, len(regs))
	switches := 0
	for i, reg := range regs {
		byReg[reg] = deltas[i]
		if deltas[i] != 0 {
			switches++
		}
	}

	s, done, err := e.core.Step(byReg)
	if err != nil {
		return nil, 0, done, Info{}, err
	}
	e.state = s
	return e.core.Observation(s), Reward(s.Voltages, switches), done, e.info(s, switches), nil
}

// State is the last snapshot.
func (e *Env) State() simulation.State {
	return e.state
}

func (e *Env) info(s simulation.State, switches int) Info {
	ep := e.core.Episode()
	return Info{
		Episode:    ep.ID,
		Day:        ep.Day,
		Step:       ep.Step,
		PowerKW:    s.TotalPowerKW,
		Switches:   switches,
		Violations: Violations(s.Voltages),
		Converged:  s.Converged,
	}
}

// Layout exposes the observation layout.
func (e *Env) Layout() observation.Layout {
	return e.core.Layout()
}

// StepsPerEpisode is fixed.
func (e *Env) StepsPerEpisode() int {
	return network.StepsPerDay
}
