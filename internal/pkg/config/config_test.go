package config

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("./config_test.json")
	assert.NilError(t, err)
	assert.Equal(t, cfg.Network, "ieee13.json")
	assert.Equal(t, cfg.NATS, "/etc/vvc/nats.json")
	assert.Equal(t, cfg.SQL, "")
	assert.Equal(t, cfg.Episode.Day, 10)
	assert.Equal(t, cfg.Port, ":9090")
	assert.Equal(t, cfg.NativeMaxIter, 30)
	assert.Equal(t, cfg.Model.Extension, ".json")
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	cfg, err := Load("../config/config_test.json")
	assert.NilError(t, err)
	assert.Equal(t, cfg.Network, "../config/ieee13.json")
	assert.Equal(t, cfg.Model.FinalModel, "../config/models/final.json")
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("./missing.json")
	assert.Assert(t, err != nil)
}

func TestLoadSensors(t *testing.T) {
	assert.DeepEqual(t, LoadSensors("./sensors_test.json"), []string{"675", "652", "611"})
}

func TestLoadSensorsDegradesToBlind(t *testing.T) {
	for _, path := range []string{"", "./missing.json", "./sensors_test_bad.json"} {
		sensors := LoadSensors(path)
		assert.Assert(t, sensors != nil)
		assert.Equal(t, len(sensors), 0)
	}
}
