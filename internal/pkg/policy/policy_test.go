package policy

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestCheckpointStep(t *testing.T) {
	cases := map[string]int{
		"rl_model_50000_steps.json": 50000,
		"ppo_ieee123_1200.json":     1200,
		"ppo_ieee123_final.json":    0,
		"10_20.json":                10,
		"model.json":                0,
		"a__7.json":                 7,
	}
	for name, want := range cases {
		assert.Equal(t, CheckpointStep(name), want, name)
	}
}

func TestLatest(t *testing.T) {
	name, ok := Latest([]string{"m_100.json", "m_2000.json", "m_300.json"})
	assert.Assert(t, ok)
	assert.Equal(t, name, "m_2000.json")

	name, _ = Latest([]string{"b_5.json", "a_5.json"})
	assert.Equal(t, name, "a_5.json")

	_, ok = Latest(nil)
	assert.Assert(t, !ok)
}

func TestSelectCheckpoint(t *testing.T) {
	root := t.TempDir()
	ckpt := filepath.Join(root, "checkpoints")
	assert.NilError(t, os.Mkdir(ckpt, 0o755))
	final := filepath.Join(root, "final.json")

	_, ok := SelectCheckpoint(ckpt, ".json", final)
	assert.Assert(t, !ok)

	assert.NilError(t, os.WriteFile(final, []byte("{}"), 0o644))
	path, ok := SelectCheckpoint(ckpt, ".json", final)
	assert.Assert(t, ok)
	assert.Equal(t, path, final)

	for _, n := range []string{"m_10_steps.json", "m_90_steps.json", "m_999_steps.txt"} {
		assert.NilError(t, os.WriteFile(filepath.Join(ckpt, n), []byte("{}"), 0o644))
	}
	path, ok = SelectCheckpoint(ckpt, ".json", final)
	assert.Assert(t, ok)
	assert.Equal(t, path, filepath.Join(ckpt, "m_90_steps.json"))

	_, ok = SelectCheckpoint(filepath.Join(root, "nowhere"), ".json", "")
	assert.Assert(t, !ok)
}

func TestRandomSeeded(t *testing.T) {
	a := NewRandom(4, 3, 7)
	b := NewRandom(4, 3, 7)
	for i := 0; i < 20; i++ {
		x, _ := a.Predict(nil, false)
		y, _ := b.Predict(nil, false)
		assert.DeepEqual(t, x, y)
		for _, v := range x {
			assert.Assert(t, v >= 0 && v < 3)
		}
	}
}
