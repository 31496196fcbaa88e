/*
aicontrol.go Applies a trained policy in place of regulator automation. The
observation is built by the same encoder the training environment uses.
*/

package aicontrol

import (
	"fmt"

	"github.com/ohowland/vvc_core/internal/pkg/control"
	"github.com/ohowland/vvc_core/internal/pkg/mdp"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/observation"
	"github.com/ohowland/vvc_core/internal/pkg/policy"
	log "github.com/sirupsen/logrus"
)

// Target is the part of the solver the controller reads and actuates.
type Target interface {
	network.VoltageReader
	network.TapActuator
	network.PowerReader
}

// Config locates model artifacts.
type Config struct {
	CheckpointDir string `json:"CheckpointDir"`
	Extension     string `json:"Extension"`
	FinalModel    string `json:"FinalModel"`
}

// AIControl is a control.Controller driven by a policy.Policy.
type AIControl struct {
	target  Target
	layout  observation.Layout
	policy  policy.Policy
	model   string
	pending []control.Event
}

// New binds a loaded policy. layout must be the one the policy was trained
// with; take it from simulation.Core.Layout, which reads the network
// definition rather than the solver. A nil policy yields a controller that
// never acts.
func New(target Target, layout observation.Layout, p policy.Policy) *AIControl {
	c := &AIControl{
		target: target,
		layout: layout,
		policy: p,
	}
	if p == nil {
		log.Warn("[AIControl] no model found, controller inactive")
		c.pending = []control.Event{{Severity: control.Degraded, Reason: control.ModelMissing}}
	}
	return c
}

// Load selects the newest artifact described by config and loads it with
// loader. A missing artifact is not an error; a broken one is.
func Load(target Target, layout observation.Layout, config Config, loader policy.Loader) (*AIControl, error) {
	path, ok := policy.SelectCheckpoint(config.CheckpointDir, config.Extension, config.FinalModel)
	if !ok {
		return New(target, layout, nil), nil
	}
	p, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	log.Printf("[AIControl] loaded model %s", path)
	c := New(target, layout, p)
	c.model = path
	return c, nil
}

// Active reports whether a model is loaded.
func (c *AIControl) Active() bool {
	return c.policy != nil
}

// Model is the path of the loaded artifact, if any.
func (c *AIControl) Model() string {
	return c.model
}

// Layout is the observation layout presented to the policy.
func (c *AIControl) Layout() observation.Layout {
	return c.layout
}

// CheckAndAct queries the policy deterministically and applies every change
// that keeps its regulator in range. step is the index the training
// environment reports after the same solve, i.e. the number of intervals
// solved so far. Without a model, the first call reports
// the missing model and later calls do nothing.
func (c *AIControl) CheckAndAct(step int) control.Result {
	result := control.Result{Events: make([]control.Event, 0)}
	if c.policy == nil {
		for _, e := range c.pending {
			e.Step = step
			result.Events = append(result.Events, e)
		}
		c.pending = nil
		return result
	}

	obs := observation.Encode(c.layout, observation.Read(c.target, c.layout), step)
	action, err := c.policy.Predict(obs, true)
	if err != nil {
		log.Errorf("[AIControl] predict: %v", err)
		result.Events = append(result.Events, control.Event{Severity: control.Fatal, Step: step, Reason: control.PredictFailed, Detail: err.Error()})
		return result
	}
	deltas, err := mdp.DecodeAction(action, len(c.layout.Regulators))
	if err != nil {
		log.Errorf("[AIControl] decode: %v", err)
		result.Events = append(result.Events, control.Event{Severity: control.Fatal, Step: step, Reason: control.DecodeFailed, Detail: err.Error()})
		return result
	}

	for i, reg := range c.layout.Regulators {
		if deltas[i] == 0 {
			continue
		}
		tap, err := c.target.TapNumber(reg)
		if err != nil {
			continue
		}
		next, ok := network.ClampTap(tap, deltas[i])
		if !ok {
			continue
		}
		if err := c.target.SetTapNumber(reg, next); err != nil {
			log.Warnf("[AIControl] %s: %v", reg, err)
			continue
		}
		result.Events = append(result.Events, control.Event{
			Severity:  control.Normal,
			Step:      step,
			Regulator: reg,
			OldTap:    tap,
			NewTap:    next,
			Reason:    control.PolicyAction,
		})
		result.Acted = true
	}
	return result
}
