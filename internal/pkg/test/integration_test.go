package vvcintegrationtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/config"
	"github.com/ohowland/vvc_core/internal/pkg/control/aicontrol"
	"github.com/ohowland/vvc_core/internal/pkg/control/rulecontrol"
	"github.com/ohowland/vvc_core/internal/pkg/inspect"
	"github.com/ohowland/vvc_core/internal/pkg/mdp"
	"github.com/ohowland/vvc_core/internal/pkg/memory"
	"github.com/ohowland/vvc_core/internal/pkg/msg"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/policy"
	"github.com/ohowland/vvc_core/internal/pkg/policy/mlp"
	"github.com/ohowland/vvc_core/internal/pkg/root"
	"github.com/ohowland/vvc_core/internal/pkg/simulation"
	"github.com/ohowland/vvc_core/internal/pkg/topology"
	"github.com/ohowland/vvc_core/internal/pkg/virtual/virtualfeeder"
	"gotest.tools/v3/assert"
)

type fixture struct {
	cfg     config.Config
	def     network.Network
	feeder  *virtualfeeder.Feeder
	sensors []string
	system  *root.System
}

func newFixture(t *testing.T) fixture {
	cfg, err := config.Load("../../../config/vvc.json")
	assert.NilError(t, err)
	def, err := network.LoadFile(cfg.Network)
	assert.NilError(t, err)
	feeder, err := virtualfeeder.New(cfg.Feeder)
	assert.NilError(t, err)
	sensors := config.LoadSensors(cfg.Sensors)
	system, err := root.NewSystem(simulation.New(feeder, def, sensors))
	assert.NilError(t, err)
	return fixture{cfg, def, feeder, sensors, system}
}

func assertTapsInRange(t *testing.T, taps map[string]int) {
	for reg, tap := range taps {
		assert.Assert(t, tap >= network.MinTap && tap <= network.MaxTap, "%s at %d", reg, tap)
	}
}

func TestIEEE13Chain(t *testing.T) {
	f := newFixture(t)
	r, err := topology.NewResolver(f.def)
	assert.NilError(t, err)

	chain, err := r.Resolve("675")
	assert.NilError(t, err)
	assert.DeepEqual(t, chain, topology.Chain{"creg2", "creg1"})

	chain, err = r.Resolve("634")
	assert.NilError(t, err)
	assert.DeepEqual(t, chain, topology.Chain{"creg1"})

	chain, err = r.Resolve("650")
	assert.NilError(t, err)
	assert.Equal(t, len(chain), 0)
}

func TestRuleDay(t *testing.T) {
	f := newFixture(t)
	r, _ := topology.NewResolver(f.def)
	chain, _ := r.Resolve("675")
	ctrl, err := rulecontrol.New(f.cfg.RuleConfig, f.feeder, chain)
	assert.NilError(t, err)

	pid, _ := uuid.NewUUID()
	steps, err := f.system.Publisher().Subscribe(pid, msg.Step)
	assert.NilError(t, err)

	summary, err := f.system.RunDay(f.cfg.Episode, ctrl, "rule")
	assert.NilError(t, err)
	assert.Equal(t, summary.Steps, network.StepsPerDay)
	assert.Assert(t, summary.NonConverged < summary.Steps)
	assert.Equal(t, len(steps), network.StepsPerDay)
	assertTapsInRange(t, f.system.Core().State().Taps)
}

func TestNativeDay(t *testing.T) {
	f := newFixture(t)
	summary, err := f.system.RunNative(f.cfg.Episode, f.cfg.NativeMaxIter)
	assert.NilError(t, err)
	assert.Equal(t, summary.Steps, network.StepsPerDay)
	assertTapsInRange(t, f.system.Core().State().Taps)
}

func TestAIDay(t *testing.T) {
	f := newFixture(t)
	// the feeder is not compiled until the day starts
	assert.Equal(t, len(f.feeder.RegulatorNames()), 0)
	ctrl, err := aicontrol.Load(f.feeder, f.system.Core().Layout(), f.cfg.Model, mlp.Loader{Seed: 1})
	assert.NilError(t, err)
	assert.Assert(t, ctrl.Active())
	assert.Equal(t, ctrl.Layout().Len(), 10)
	assert.DeepEqual(t, ctrl.Layout().Sensors, f.sensors)

	summary, err := f.system.RunDay(f.cfg.Episode, ctrl, "ai")
	assert.NilError(t, err)
	assert.Equal(t, summary.Steps, network.StepsPerDay)
	assert.Equal(t, summary.Degraded, 0)
	assertTapsInRange(t, f.system.Core().State().Taps)
}

func TestRandomEpisode(t *testing.T) {
	f := newFixture(t)
	env := mdp.NewEnv(f.system.Core(), f.cfg.Training)
	assert.Equal(t, env.ObservationLen(), 10)

	r, err := mdp.Episode(env, policy.NewRandom(len(env.Regulators()), mdp.Choices, 3), false)
	assert.NilError(t, err)
	assert.Equal(t, r.Steps, network.StepsPerDay)
	assert.Assert(t, r.Day >= 1 && r.Day < 365)
	assertTapsInRange(t, env.State().Taps)
}

func TestInspectorRemembersTaps(t *testing.T) {
	f := newFixture(t)
	store := memory.NewSession()
	in := inspect.New(f.feeder, f.def, store, rulecontrol.DefaultConfig())

	report, err := in.RunForBus("675", inspect.Options{Day: 196, PVEnabled: true, Temperature: 25, Active: true})
	assert.NilError(t, err)
	assert.Equal(t, report.Element, "Line.692675")
	assert.Assert(t, report.Saved)

	taps, err := store.Load()
	assert.NilError(t, err)
	assert.DeepEqual(t, taps, report.FinalTaps)

	again, err := in.RunForBus("675", inspect.Options{Day: 196})
	assert.NilError(t, err)
	assert.DeepEqual(t, again.InitialTaps, report.FinalTaps)
}
