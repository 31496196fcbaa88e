package mlp

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/ohowland/vvc_core/internal/pkg/policy"
	"gotest.tools/v3/assert"
)

// Two inputs, one hidden relu unit summing them, two heads of three choices.
// Head 0 prefers "up" when the sum is positive, head 1 always prefers "down".
func testModel() *Model {
	return &Model{
		Step:    500,
		Inputs:  2,
		Heads:   2,
		Choices: 3,
		Layers: []Layer{
			{Weights: [][]float64{{1, 1}}, Bias: []float64{0}, Activation: "relu"},
			{
				Weights: [][]float64{{0}, {1}, {0}, {0}, {0}, {0}},
				Bias:    []float64{0.5, 0, 0, 0, 0, 1},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	assert.NilError(t, testModel().Validate())

	m := testModel()
	m.Heads = 3
	assert.ErrorIs(t, m.Validate(), policy.ErrShape)

	m = testModel()
	m.Layers[0].Weights[0] = []float64{1}
	assert.ErrorIs(t, m.Validate(), policy.ErrShape)

	m = testModel()
	m.Layers[0].Activation = "gelu"
	assert.Assert(t, m.Validate() != nil)

	m = testModel()
	m.Layers[0] = Layer{}
	assert.ErrorIs(t, m.Validate(), policy.ErrShape)
	_, err := m.Predict([]float32{1, 1}, true)
	assert.ErrorIs(t, err, policy.ErrShape)
}

func TestLogitsTanh(t *testing.T) {
	m := &Model{
		Inputs:  3,
		Heads:   1,
		Choices: 2,
		Layers: []Layer{{
			Weights:    [][]float64{{1, 2, 3}, {-1, 0, 1}},
			Bias:       []float64{0.5, -0.5},
			Activation: "tanh",
		}},
	}
	logits, err := m.Logits([]float32{1, 0, -1})
	assert.NilError(t, err)
	assert.Equal(t, len(logits), 2)
	assert.Assert(t, math.Abs(logits[0]-math.Tanh(-1.5)) < 1e-12)
	assert.Assert(t, math.Abs(logits[1]-math.Tanh(-2.5)) < 1e-12)
}

func TestSampleFollowsDistribution(t *testing.T) {
	m := testModel()
	m.Seed(7)
	assert.Equal(t, m.sample([]float64{0, 0, 1}), 2)
	assert.Equal(t, m.sample([]float64{1, 0, 0}), 0)

	counts := make([]int, 3)
	for i := 0; i < 3000; i++ {
		counts[m.sample([]float64{0.2, 0.5, 0.3})]++
	}
	assert.Assert(t, counts[1] > counts[2] && counts[2] > counts[0], "%v", counts)
}

func TestPredictDeterministic(t *testing.T) {
	m := testModel()
	a, err := m.Predict([]float32{1, 0.5}, true)
	assert.NilError(t, err)
	assert.DeepEqual(t, a, []int{1, 2})

	a, err = m.Predict([]float32{-1, -1}, true)
	assert.NilError(t, err)
	assert.DeepEqual(t, a, []int{0, 2})
}

func TestPredictShape(t *testing.T) {
	_, err := testModel().Predict([]float32{1}, true)
	assert.ErrorIs(t, err, policy.ErrShape)
}

func TestPredictStochasticSeeded(t *testing.T) {
	a, b := testModel(), testModel()
	a.Seed(3)
	b.Seed(3)
	for i := 0; i < 50; i++ {
		x, err := a.Predict([]float32{0.2, 0.1}, false)
		assert.NilError(t, err)
		y, _ := b.Predict([]float32{0.2, 0.1}, false)
		assert.DeepEqual(t, x, y)
		for _, v := range x {
			assert.Assert(t, v >= 0 && v < 3)
		}
	}
}

func TestSoftmax(t *testing.T) {
	p := softmax([]float64{0, 0, 0})
	for _, v := range p {
		assert.Assert(t, v > 0.333 && v < 0.334)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ppo_ieee123_500_steps.json")
	assert.NilError(t, testModel().Save(path))

	p, err := Loader{Seed: 1}.Load(path)
	assert.NilError(t, err)
	a, err := p.Predict([]float32{1, 1}, true)
	assert.NilError(t, err)
	assert.DeepEqual(t, a, []int{1, 2})

	_, err = Loader{}.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Assert(t, err != nil)
}

func TestLinear(t *testing.T) {
	m := Linear(5, 4, []float64{1, 0, 0})
	assert.NilError(t, m.Validate())
	a, err := m.Predict(make([]float32, 5), true)
	assert.NilError(t, err)
	assert.DeepEqual(t, a, []int{0, 0, 0, 0})
}
