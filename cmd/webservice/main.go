package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/ohowland/vvc_core/internal/pkg/config"
	"github.com/ohowland/vvc_core/internal/pkg/control/rulecontrol"
	"github.com/ohowland/vvc_core/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/vvc_core/internal/pkg/inspect"
	"github.com/ohowland/vvc_core/internal/pkg/memory"
	"github.com/ohowland/vvc_core/internal/pkg/network"
	"github.com/ohowland/vvc_core/internal/pkg/virtual/virtualfeeder"
	"github.com/ohowland/vvc_core/internal/pkg/webservice"
	log "github.com/sirupsen/logrus"
)

func buildMemory(cfg config.Config) memory.Store {
	if cfg.Mongo == "" {
		return memory.NewSession()
	}
	mc, err := memory.ReadMongoConfig(cfg.Mongo)
	if err != nil {
		panic(err)
	}
	store, err := memory.NewMongoStore(context.Background(), mc)
	if err != nil {
		panic(err)
	}
	return store
}

func main() {
	configPath := flag.String("config", "./config/vvc.json", "application config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	cfg.ApplyLogLevel()

	def, err := network.LoadFile(cfg.Network)
	if err != nil {
		panic(err)
	}
	feeder, err := virtualfeeder.New(cfg.Feeder)
	if err != nil {
		panic(err)
	}
	band, err := rulecontrol.ReadConfig(cfg.RuleConfig)
	if err != nil {
		panic(err)
	}

	inspector := inspect.New(feeder, def, buildMemory(cfg), band)
	service, err := webservice.New(inspector, inspect.Options{
		Day:         cfg.Episode.Day,
		PVEnabled:   cfg.Episode.PVEnabled,
		Temperature: cfg.Episode.Temperature,
	})
	if err != nil {
		panic(err)
	}
	defer service.Close()

	if cfg.NATS != "" {
		h, err := natshandler.New(cfg.NATS, service.Publisher())
		if err != nil {
			panic(err)
		}
		go func() {
			if err := h.Process(); err != nil {
				log.Errorf("[NATS client] %v", err)
			}
		}()
		defer h.Stop()
	}

	r := service.Router()
	log.Println("[Webservice] Starting Server on Port", cfg.Port)
	if err := http.ListenAndServe(cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
