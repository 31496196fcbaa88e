package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ohowland/vvc_core/internal/pkg/comm/modbuscomm"
	"github.com/ohowland/vvc_core/internal/pkg/config"
	"github.com/ohowland/vvc_core/internal/pkg/control/aicontrol"
	"github.com/ohowland/vvc_core/internal/pkg/control/rulecontrol"
	"github.com/ohowland/vvc_core/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/vvc_core/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/vvc_core/internal/pkg/mdp"
	"github.com/ohowland/vvc_core/internal/pkg/memory"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/policy"
	"github.com/ohowland/vvc_core/internal/pkg/policy/mlp"
	"github.com/ohowland/vvc_core/internal/pkg/root"
	"github.com/ohowland/vvc_core/internal/pkg/simulation"
	"github.com/ohowland/vvc_core/internal/pkg/topology"
	"github.com/ohowland/vvc_core/internal/pkg/virtual/virtualfeeder"
	log "github.com/sirupsen/logrus"
)

type options struct {
	configPath string
	mode       string
	bus        string
	day        int
	episodes   int
}

func parseFlags() options {
	o := options{}
	flag.StringVar(&o.configPath, "config", "./config/vvc.json", "application config")
	flag.StringVar(&o.mode, "mode", "rule", "rule | ai | native | random | compare")
	flag.StringVar(&o.bus, "bus", "", "bus the rule controller regulates")
	flag.IntVar(&o.day, "day", 0, "day of year, overrides the config")
	flag.IntVar(&o.episodes, "episodes", 5, "episodes for the random benchmark")
	flag.Parse()
	return o
}

// stoppable is a datastream handler.
type stoppable interface {
	Stop()
}

func main() {
	log.Println("[Main] Starting VVC_Core v0.1.0")
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		panic(err)
	}
	cfg.ApplyLogLevel()
	if opts.day > 0 {
		cfg.Episode.Day = opts.day
	}

	log.Println("[Main] Loading Network")
	def, err := network.LoadFile(cfg.Network)
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Building Virtual Feeder")
	feeder, err := virtualfeeder.New(cfg.Feeder)
	if err != nil {
		panic(err)
	}

	sensors := config.LoadSensors(cfg.Sensors)
	core := simulation.New(feeder, def, sensors)

	log.Println("[Main] Assembling System")
	system, err := root.NewSystem(core)
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Linking Datastreams")
	handlers, err := linkDatastreams(system, cfg)
	if err != nil {
		panic(err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)
	go func() { done <- run(opts, cfg, system, feeder) }()

	select {
	case err = <-done:
	case <-sigs:
		log.Println("[Main] Interrupted")
	}

	log.Println("[Main] Stopping system")
	for _, h := range handlers {
		h.Stop()
	}
	system.Close()
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}
}

func linkDatastreams(system *root.System, cfg config.Config) ([]stoppable, error) {
	handlers := make([]stoppable, 0)
	if cfg.NATS != "" {
		h, err := natshandler.New(cfg.NATS, system.Publisher())
		if err != nil {
			return handlers, err
		}
		go func() {
			if err := h.Process(); err != nil {
				log.Errorf("[NATS client] %v", err)
			}
		}()
		handlers = append(handlers, &h)
	}
	if cfg.SQL != "" {
		h, err := sqldb.New(cfg.SQL, system.Publisher())
		if err != nil {
			return handlers, err
		}
		go func() {
			if err := h.Process(); err != nil {
				log.Errorf("[SQL] %v", err)
			}
		}()
		handlers = append(handlers, &h)
	}
	if cfg.Modbus != "" {
		mirror, err := modbuscomm.New(cfg.Modbus)
		if err != nil {
			return handlers, err
		}
		h, err := modbuscomm.NewHandler(mirror, system.Publisher())
		if err != nil {
			return handlers, err
		}
		go h.Process()
		handlers = append(handlers, &h)
	}
	return handlers, nil
}

func run(opts options, cfg config.Config, system *root.System, feeder *virtualfeeder.Feeder) error {
	switch opts.mode {
	case "rule":
		s, err := runRule(opts, cfg, system, feeder)
		report(s)
		return err
	case "ai":
		s, err := runAI(cfg, system, feeder)
		report(s)
		return err
	case "native":
		s, err := system.RunNative(cfg.Episode, cfg.NativeMaxIter)
		report(s)
		return err
	case "random":
		return runRandom(opts, cfg, system)
	case "compare":
		return runCompare(opts, cfg, system, feeder)
	}
	return fmt.Errorf("unknown mode %q", opts.mode)
}

// runRule regulates opts.bus and remembers the final taps.
func runRule(opts options, cfg config.Config, system *root.System, feeder *virtualfeeder.Feeder) (root.Summary, error) {
	def := system.Core().Network()
	bus := opts.bus
	if bus == "" {
		return root.Summary{}, fmt.Errorf("rule mode needs -bus")
	}
	resolver, err := topology.NewResolver(def)
	if err != nil {
		return root.Summary{}, err
	}
	chain, err := resolver.Resolve(bus)
	if err != nil {
		return root.Summary{}, err
	}
	log.WithFields(log.Fields{"bus": bus, "chain": chain}).Info("[Main] regulator chain")

	ctrl, err := rulecontrol.New(cfg.RuleConfig, feeder, chain)
	if err != nil {
		return root.Summary{}, err
	}
	summary, err := system.RunDay(cfg.Episode, ctrl, "rule")
	if err != nil {
		return summary, err
	}

	store, closeStore, err := openMemory(cfg)
	if err != nil {
		log.Warnf("[Main] tap memory unavailable: %v", err)
		return summary, nil
	}
	defer closeStore()
	return summary, store.Save(system.Core().State().Taps)
}

func openMemory(cfg config.Config) (memory.Store, func(), error) {
	if cfg.Mongo == "" {
		return memory.NewSession(), func() {}, nil
	}
	mc, err := memory.ReadMongoConfig(cfg.Mongo)
	if err != nil {
		return nil, nil, err
	}
	store, err := memory.NewMongoStore(context.Background(), mc)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(context.Background()); err != nil {
			log.Warnf("[Mongo] close: %v", err)
		}
	}, nil
}

func runAI(cfg config.Config, system *root.System, feeder *virtualfeeder.Feeder) (root.Summary, error) {
	ctrl, err := aicontrol.Load(feeder, system.Core().Layout(), cfg.Model, mlp.Loader{Seed: cfg.Training.Seed})
	if err != nil {
		return root.Summary{}, err
	}
	return system.RunDay(cfg.Episode, ctrl, "ai")
}

func runRandom(opts options, cfg config.Config, system *root.System) error {
	env := mdp.NewEnv(system.Core(), cfg.Training)
	agent := policy.NewRandom(len(env.Regulators()), mdp.Choices, cfg.Training.Seed)
	for i := 0; i < opts.episodes; i++ {
		r, err := mdp.Episode(env, agent, false)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"day":        r.Day,
			"reward":     r.TotalReward,
			"violations": r.Violations,
			"switches":   r.Switches,
		}).Infof("[Main] random episode %d", i+1)
	}
	return nil
}

func runCompare(opts options, cfg config.Config, system *root.System, feeder *virtualfeeder.Feeder) error {
	summaries := make([]root.Summary, 0, 3)

	native, err := system.RunNative(cfg.Episode, cfg.NativeMaxIter)
	if err != nil {
		return err
	}
	summaries = append(summaries, native)

	if opts.bus != "" {
		rule, err := runRule(opts, cfg, system, feeder)
		if err != nil {
			return err
		}
		summaries = append(summaries, rule)
	}

	ai, err := runAI(cfg, system, feeder)
	if err != nil {
		return err
	}
	summaries = append(summaries, ai)

	fmt.Printf("%-8s %10s %8s %8s %10s %10s\n", "mode", "reward", "viol", "switch", "peak kW", "nonconv")
	for _, s := range summaries {
		fmt.Printf("%-8s %10.2f %8d %8d %10.1f %10d\n", s.Mode, s.TotalReward, s.Violations, s.Switches, s.PeakPowerKW, s.NonConverged)
	}
	return nil
}

func report(s root.Summary) {
	if s.Steps == 0 {
		return
	}
	log.WithFields(log.Fields{
		"mode":         s.Mode,
		"day":          s.Day,
		"violations":   s.Violations,
		"switches":     s.Switches,
		"degraded":     s.Degraded,
		"nonconverged": s.NonConverged,
		"peak_kw":      s.PeakPowerKW,
		"reward":       s.TotalReward,
	}).Info("[Main] day summary")
}
