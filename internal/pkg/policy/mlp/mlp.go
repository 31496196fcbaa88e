/*
mlp.go A feed-forward policy network stored as JSON. The final layer emits
Choices logits per regulator head; a deterministic prediction takes the argmax
of each head, a stochastic one samples its softmax.
*/

package mlp

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"

	"github.com/ohowland/vvc_core/internal/pkg/policy"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer is a dense layer: out = act(W x + b). Weights are row-major, one row per output.
type Layer struct {
	Weights    [][]float64 `json:"Weights"`
	Bias       []float64   `json:"Bias"`
	Activation string      `json:"Activation"` // "tanh", "relu" or "" (linear)
}

// Model is the serialised policy.
type Model struct {
	Step    int     `json:"Step"`
	Inputs  int     `json:"Inputs"`
	Heads   int     `json:"Heads"`
	Choices int     `json:"Choices"`
	Layers  []Layer `json:"Layers"`

	rng *rand.Rand
}

// Validate checks that the layer shapes chain from Inputs to Heads*Choices.
func (m *Model) Validate() error {
	if m.Heads <= 0 || m.Choices <= 0 || m.Inputs <= 0 {
		return fmt.Errorf("mlp: inputs %d heads %d choices %d: %w", m.Inputs, m.Heads, m.Choices, policy.ErrShape)
	}
	width := m.Inputs
	for i, l := range m.Layers {
		if len(l.Bias) == 0 || len(l.Weights) != len(l.Bias) {
			return fmt.Errorf("mlp: layer %d has %d rows and %d biases: %w", i, len(l.Weights), len(l.Bias), policy.ErrShape)
		}
		for _, row := range l.Weights {
			if len(row) != width {
				return fmt.Errorf("mlp: layer %d expects %d inputs, got row of %d: %w", i, width, len(row), policy.ErrShape)
			}
		}
		switch l.Activation {
		case "", "linear", "tanh", "relu":
		default:
			return fmt.Errorf("mlp: layer %d: unknown activation %q", i, l.Activation)
		}
		width = len(l.Bias)
	}
	if width != m.Heads*m.Choices {
		return fmt.Errorf("mlp: output width %d, want %d: %w", width, m.Heads*m.Choices, policy.ErrShape)
	}
	return nil
}

// Seed fixes the sampling source for stochastic predictions.
func (m *Model) Seed(seed int64) {
	m.rng = rand.New(rand.NewSource(seed))
}

// dense packs the row-major weights of a layer.
func (l Layer) dense() *mat.Dense {
	cols := len(l.Weights[0])
	data := make([]float64, 0, len(l.Weights)*cols)
	for _, row := range l.Weights {
		data = append(data, row...)
	}
	return mat.NewDense(len(l.Weights), cols, data)
}

// Logits runs the forward pass.
func (m *Model) Logits(obs []float32) ([]float64, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(obs) != m.Inputs {
		return nil, fmt.Errorf("mlp: observation length %d, want %d: %w", len(obs), m.Inputs, policy.ErrShape)
	}
	in := make([]float64, len(obs))
	for i, v := range obs {
		in[i] = float64(v)
	}
	x := mat.NewVecDense(len(in), in)
	for _, l := range m.Layers {
		var y mat.VecDense
		y.MulVec(l.dense(), x)
		y.AddVec(&y, mat.NewVecDense(len(l.Bias), l.Bias))
		data := y.RawVector().Data
		for j, v := range data {
			data[j] = activate(l.Activation, v)
		}
		x = &y
	}
	return mat.Col(nil, 0, x), nil
}

func activate(name string, v float64) float64 {
	switch name {
	case "tanh":
		return math.Tanh(v)
	case "relu":
		return math.Max(0, v)
	}
	return v
}

// Predict returns one choice per head.
func (m *Model) Predict(obs []float32, deterministic bool) ([]int, error) {
	logits, err := m.Logits(obs)
	if err != nil {
		return nil, err
	}
	action := make([]int, m.Heads)
	for h := 0; h < m.Heads; h++ {
		head := logits[h*m.Choices : (h+1)*m.Choices]
		if deterministic {
			action[h] = floats.MaxIdx(head)
			continue
		}
		action[h] = m.sample(softmax(head))
	}
	return action, nil
}

func softmax(v []float64) []float64 {
	p := append([]float64(nil), v...)
	floats.AddConst(-floats.Max(p), p)
	for i, x := range p {
		p[i] = math.Exp(x)
	}
	floats.Scale(1/floats.Sum(p), p)
	return p
}

func (m *Model) sample(p []float64) int {
	if m.rng == nil {
		m.Seed(1)
	}
	cum := floats.CumSum(make([]float64, len(p)), p)
	u := m.rng.Float64()
	i := sort.Search(len(cum), func(i int) bool { return cum[i] > u })
	if i == len(cum) {
		return len(cum) - 1
	}
	return i
}

// Save writes the model as JSON.
func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Read decodes and validates a model file.
func Read(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Model{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Loader is a policy.Loader for JSON models.
type Loader struct {
	Seed int64
}

func (l Loader) Load(path string) (policy.Policy, error) {
	m, err := Read(path)
	if err != nil {
		return nil, err
	}
	m.Seed(l.Seed)
	return m, nil
}

// Linear builds a single-layer model with zero weights whose head biases are
// bias. Useful as a fixed baseline.
func Linear(inputs int, heads int, bias []float64) *Model {
	choices := len(bias)
	l := Layer{Weights: make([][]float64, heads*choices), Bias: make([]float64, heads*choices)}
	for i := range l.Weights {
		l.Weights[i] = make([]float64, inputs)
		l.Bias[i] = bias[i%choices]
	}
	return &Model{Inputs: inputs, Heads: heads, Choices: choices, Layers: []Layer{l}}
}
