/*
config.go Top level configuration. Each component keeps its own JSON file, read
by its New(configPath); this file names those files and carries the few
settings that belong to no single component.
*/

package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ohowland/vvc_core/internal/pkg/control/aicontrol"
	"github.com/ohowland/vvc_core/internal/pkg/mdp"
	"github.com/ohowland/vvc_core/internal/pkg/simulation"
	log "github.com/sirupsen/logrus"
)

// Config is the application configuration.
type Config struct {
	Network    string `json:"Network"`
	Sensors    string `json:"Sensors"`
	Feeder     string `json:"Feeder"`
	RuleConfig string `json:"RuleControl"`

	// Optional datastreams. An empty path disables the component.
	Mongo  string `json:"Mongo"`
	NATS   string `json:"NATS"`
	SQL    string `json:"SQL"`
	Modbus string `json:"Modbus"`

	Model         aicontrol.Config         `json:"Model"`
	Episode       simulation.EpisodeParams `json:"Episode"`
	Training      mdp.Config               `json:"Training"`
	NativeMaxIter int                      `json:"NativeMaxIter"`
	Port          string                   `json:"Port"`
	LogLevel      string                   `json:"LogLevel"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		Model: aicontrol.Config{
			CheckpointDir: "./models/checkpoints",
			Extension:     ".json",
			FinalModel:    "./models/final.json",
		},
		Episode:       simulation.EpisodeParams{Day: 196, PVEnabled: true, Temperature: 25, LoadScale: 1.0},
		Training:      mdp.DefaultConfig(),
		NativeMaxIter: 30,
		Port:          ":8080",
		LogLevel:      "info",
	}
}

// Load reads configPath over Default. Relative component paths are resolved
// against the directory holding configPath.
func Load(configPath string) (Config, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}

	dir := filepath.Dir(configPath)
	for _, p := range []*string{
		&cfg.Network, &cfg.Sensors, &cfg.Feeder, &cfg.RuleConfig,
		&cfg.Mongo, &cfg.NATS, &cfg.SQL, &cfg.Modbus,
		&cfg.Model.CheckpointDir, &cfg.Model.FinalModel,
	} {
		*p = resolve(dir, *p)
	}
	return cfg, nil
}

func resolve(dir string, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// ApplyLogLevel sets the logrus level named by cfg. Unknown names leave it alone.
func (cfg Config) ApplyLogLevel() {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("[Config] log level %q: %v", cfg.LogLevel, err)
		return
	}
	log.SetLevel(level)
}

// LoadSensors reads a JSON array of bus ids. A missing or malformed file is
// not fatal: it yields an empty sensor list and a warning.
func LoadSensors(path string) []string {
	if path == "" {
		log.Warn("[Config] no sensor file configured, running blind")
		return []string{}
	}
	jsonSensors, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("[Config] sensor file: %v, running blind", err)
		return []string{}
	}
	sensors := make([]string, 0)
	if err := json.Unmarshal(jsonSensors, &sensors); err != nil {
		log.Warnf("[Config] sensor file %s: %v, running blind", path, err)
		return []string{}
	}
	return sensors
}
