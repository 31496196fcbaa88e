/*
rulecontrol.go Bang-bang tap control. Each step the global voltage extremes are
checked against a band and at most one regulator in the chain moves one tap.
The chain is tried in order; a regulator already at its limit hands control to
the next one.
*/

package rulecontrol

import (
	"encoding/json"
	"os"

	"github.com/ohowland/vvc_core/internal/pkg/control"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/topology"
	log "github.com/sirupsen/logrus"
)

// Config is the voltage band.
type Config struct {
	LowPU  float64 `json:"LowPU"`
	HighPU float64 `json:"HighPU"`
	DeadPU float64 `json:"DeadPU"` // readings at or below this are disconnected nodes
}

// DefaultConfig is the ANSI range A band.
func DefaultConfig() Config {
	return Config{LowPU: 0.95, HighPU: 1.05, DeadPU: 0.01}
}

// Target is the part of the solver the controller needs.
type Target interface {
	network.VoltageReader
	network.TapActuator
}

// RuleControl is a control.Controller bound to one regulator chain.
type RuleControl struct {
	config Config
	target Target
	chain  topology.Chain
}

// ReadConfig reads a band from configPath. An empty path selects DefaultConfig.
func ReadConfig(configPath string) (Config, error) {
	config := DefaultConfig()
	if configPath == "" {
		return config, nil
	}
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(jsonConfig, &config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// New builds a controller with the band read from configPath.
func New(configPath string, target Target, chain topology.Chain) (RuleControl, error) {
	config, err := ReadConfig(configPath)
	if err != nil {
		return RuleControl{}, err
	}
	return NewWithConfig(config, target, chain), nil
}

// NewWithConfig builds a controller from an explicit band.
func NewWithConfig(config Config, target Target, chain topology.Chain) RuleControl {
	return RuleControl{config: config, target: target, chain: chain}
}

// Chain returns the regulators this controller escalates through.
func (c RuleControl) Chain() topology.Chain {
	return c.chain
}

// Extremes returns the min and max per-unit voltage over live nodes.
// ok is false when no node is live.
func (c RuleControl) Extremes() (min float64, max float64, ok bool) {
	for _, v := range c.target.AllBusVmagPu() {
		if v <= c.config.DeadPU {
			continue
		}
		if !ok {
			min, max, ok = v, v, true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, ok
}

// CheckAndAct inspects the current solution and commits at most one tap change.
func (c RuleControl) CheckAndAct(step int) control.Result {
	result := control.Result{Events: make([]control.Event, 0)}
	if len(c.chain) == 0 {
		return result
	}

	min, max, ok := c.Extremes()
	if !ok {
		return result
	}

	var direction int
	var reason string
	switch {
	case min < c.config.LowPU:
		direction, reason = 1, control.UnderVoltage
	case max > c.config.HighPU:
		direction, reason = -1, control.OverVoltage
	default:
		return result
	}

	for _, reg := range c.chain {
		tap, err := c.target.TapNumber(reg)
		if err != nil {
			log.Warnf("[RuleControl] %s: %v", reg, err)
			continue
		}
		next, inRange := network.ClampTap(tap, direction)
		if !inRange {
			result.Events = append(result.Events, control.Event{
				Severity:  control.Degraded,
				Step:      step,
				Regulator: reg,
				OldTap:    tap,
				NewTap:    tap,
				Reason:    control.TapLimit,
			})
			continue
		}
		if err := c.target.SetTapNumber(reg, next); err != nil {
			log.Warnf("[RuleControl] %s: %v", reg, err)
			continue
		}
		result.Events = append(result.Events, control.Event{
			Severity:  control.Normal,
			Step:      step,
			Regulator: reg,
			OldTap:    tap,
			NewTap:    next,
			Reason:    reason,
		})
		result.Acted = true
		break
	}
	return result
}
