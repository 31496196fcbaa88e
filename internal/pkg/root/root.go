/*
root.go The System drives whole simulated days. Each solved interval is
published on msg.Step, every controller event on msg.Control, and a summary on
msg.Episode when the day ends.
*/

package root

import (
	"math"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/control"
	"github.com/ohowland/vvc_core/internal/pkg/mdp"
	"github.com/ohowland/vvc_core/internal/pkg/msg"
	"github.com/ohowland/vvc_core/internal/pkg/simulation"
	log "github.com/sirupsen/logrus"
)

// StepRecord is published once per solved interval.
type StepRecord struct {
	Episode      uuid.UUID          `json:"Episode"`
	Mode         string             `json:"Mode"`
	Day          int                `json:"Day"`
	Step         int                `json:"Step"`
	Voltages     map[string]float64 `json:"Voltages"`
	Taps         map[string]int     `json:"Taps"`
	TotalPowerKW float64            `json:"TotalPowerKW"`
	TotalLossKW  float64            `json:"TotalLossKW"`
	Converged    bool               `json:"Converged"`
	Violations   int                `json:"Violations"`
	Switches     int                `json:"Switches"`
	Reward       float64            `json:"Reward"`
}

// Summary is published when a day ends.
type Summary struct {
	Episode      uuid.UUID `json:"Episode"`
	Mode         string    `json:"Mode"`
	Day          int       `json:"Day"`
	Steps        int       `json:"Steps"`
	Violations   int       `json:"Violations"`
	Switches     int       `json:"Switches"`
	Degraded     int       `json:"Degraded"`
	NonConverged int       `json:"NonConverged"`
	PeakPowerKW  float64   `json:"PeakPowerKW"`
	TotalReward  float64   `json:"TotalReward"`
}

// System is the root node of the control system
type System struct {
	pid       uuid.UUID
	core      *simulation.Core
	publisher *msg.PubSub
}

// NewSystem wires a simulation core to a publisher.
func NewSystem(core *simulation.Core) (*System, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	return &System{
		pid:       pid,
		core:      core,
		publisher: msg.NewPublisher(pid),
	}, nil
}

func (s *System) PID() uuid.UUID {
	return s.pid
}

// Publisher is where datastreams subscribe.
func (s *System) Publisher() msg.Publisher {
	return s.publisher
}

func (s *System) Core() *simulation.Core {
	return s.core
}

// Close releases every subscriber.
func (s *System) Close() {
	s.publisher.Close()
}

// RunDay simulates one day with the solver's automation off. After every
// solved interval controller may move taps, which take effect on the next
// interval. The controller is handed the number of intervals solved so far,
// the same index mdp.Env encodes after a step.
func (s *System) RunDay(params simulation.EpisodeParams, controller control.Controller, mode string) (Summary, error) {
	return s.run(params, mode, func(step int) control.Result {
		return controller.CheckAndAct(step)
	}, 0)
}

// RunNative simulates one day with the solver's own regulator automation.
func (s *System) RunNative(params simulation.EpisodeParams, maxIter int) (Summary, error) {
	return s.run(params, "native", nil, maxIter)
}

func (s *System) run(params simulation.EpisodeParams, mode string, act func(int) control.Result, maxIter int) (Summary, error) {
	state, err := s.core.Reset(params)
	if err != nil {
		return Summary{}, err
	}
	if act == nil {
		s.core.EnableNativeControl(maxIter)
	}
	episode := s.core.Episode()
	log.WithFields(log.Fields{"episode": episode.ID, "day": episode.Day, "mode": mode}).Info("[System] day started")

	summary := Summary{Episode: episode.ID, Mode: mode, Day: episode.Day}
	prev := state.Taps
	for done := false; !done; {
		step := s.core.CurrentStep()
		state, done, err = s.core.Step(nil)
		if err != nil {
			return summary, err
		}
		if !state.Converged {
			summary.NonConverged++
			log.Warnf("[System] step %d did not converge", step)
		}

		switches := 0
		if act != nil {
			res := act(s.core.CurrentStep())
			for _, e := range res.Events {
				e.Episode = episode.ID
				e.Log("[System]")
				s.publisher.Publish(msg.Control, e)
				switch {
				case e.Severity == control.Normal && e.NewTap != e.OldTap:
					switches++
				case e.Severity != control.Normal:
					summary.Degraded++
				}
			}
		} else {
			switches = tapChanges(prev, state.Taps)
		}
		prev = state.Taps

		violations := mdp.Violations(state.Voltages)
		reward := mdp.Reward(state.Voltages, switches)
		s.publisher.Publish(msg.Step, StepRecord{
			Episode:      episode.ID,
			Mode:         mode,
			Day:          episode.Day,
			Step:         step,
			Voltages:     state.Voltages,
			Taps:         state.Taps,
			TotalPowerKW: state.TotalPowerKW,
			TotalLossKW:  state.TotalLossKW,
			Converged:    state.Converged,
			Violations:   violations,
			Switches:     switches,
			Reward:       reward,
		})

		summary.Steps++
		summary.Violations += violations
		summary.Switches += switches
		summary.TotalReward += reward
		summary.PeakPowerKW = math.Max(summary.PeakPowerKW, state.TotalPowerKW)
	}

	s.publisher.Publish(msg.Episode, summary)
	log.WithFields(log.Fields{
		"episode":    summary.Episode,
		"violations": summary.Violations,
		"switches":   summary.Switches,
		"reward":     summary.TotalReward,
	}).Info("[System] day finished")
	return summary, nil
}

func tapChanges(before, after map[string]int) int {
	n := 0
	for reg, tap := range after {
		if old, ok := before[reg]; ok && old != tap {
			n++
		}
	}
	return n
}
