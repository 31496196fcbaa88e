package policy

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrShape is returned when an observation or action does not match a policy's dimensions.
var ErrShape = errors.New("policy: shape mismatch")

// Policy maps an observation to one discrete choice per regulator.
type Policy interface {
	Predict(obs []float32, deterministic bool) ([]int, error)
}

// Loader opens a trained policy artifact.
type Loader interface {
	Load(path string) (Policy, error)
}

// CheckpointStep is the first all-digit "_"-separated token of a file name
// with its extension removed, or 0.
func CheckpointStep(name string) int {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	for _, tok := range strings.Split(base, "_") {
		if !allDigits(tok) {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			return n
		}
	}
	return 0
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Latest returns the name with the highest checkpoint step. Ties go to the
// name that sorts first.
func Latest(names []string) (string, bool) {
	if len(names) == 0 {
		return "", false
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	best := sorted[0]
	for _, n := range sorted[1:] {
		if CheckpointStep(n) > CheckpointStep(best) {
			best = n
		}
	}
	return best, true
}

// SelectCheckpoint picks the artifact to load: the latest checkpoint in dir
// with extension ext, else finalPath if it exists. ok is false when neither
// is available.
func SelectCheckpoint(dir string, ext string, finalPath string) (string, bool) {
	if entries, err := os.ReadDir(dir); err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
				continue
			}
			names = append(names, e.Name())
		}
		if latest, ok := Latest(names); ok {
			return filepath.Join(dir, latest), true
		}
	}
	if finalPath == "" {
		return "", false
	}
	if info, err := os.Stat(finalPath); err == nil && !info.IsDir() {
		return finalPath, true
	}
	return "", false
}

// Random chooses uniformly among Choices for each of Heads regulators.
type Random struct {
	Heads   int
	Choices int
	rng     *rand.Rand
}

// NewRandom returns a seeded Random policy.
func NewRandom(heads int, choices int, seed int64) *Random {
	return &Random{Heads: heads, Choices: choices, rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Predict(obs []float32, deterministic bool) ([]int, error) {
	action := make([]int, r.Heads)
	for i := range action {
		action[i] = r.rng.Intn(r.Choices)
	}
	return action, nil
}

// Constant always returns the same action.
type Constant []int

func (c Constant) Predict(obs []float32, deterministic bool) ([]int, error) {
	return append([]int(nil), c...), nil
}
