// Package ranker scores candidate groups against a loaded weight vector and
// maps the resulting distribution to percentiles, for the Policy Engine's
// hybrid/ml-only modes.
package ranker

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/smoothtask/smoothtask/internal/policy"
)

// Model is the exchange-format file loaded from disk: a named weight per
// feature slot plus metadata describing where it came from.
type Model struct {
	Version    string             `yaml:"version"`
	Weights    map[string]float64 `yaml:"weights"`
	TrainedAt  string             `yaml:"trained_at"`
}

// featureSlots is the fixed, named decomposition of a Features vector,
// mirrored on the teacher's slot-weighted scoring (cpu/io/focus/audio in
// place of psi/latency/queue/secondary).
var featureSlots = []string{"cpu", "io", "focus", "audio"}

func defaultWeights() map[string]float64 {
	return map[string]float64{
		"cpu":   0.35,
		"io":    0.20,
		"focus": 0.30,
		"audio": 0.15,
	}
}

// Ranker implements policy.Ranker against a loaded Model. It is safe to
// reload a new model at any time; in-flight Score calls finish against the
// model snapshot they started with.
type Ranker struct {
	model Model
}

// New constructs a Ranker with the default weight vector, used before any
// model file has been loaded and as the fallback if loading fails.
func New() *Ranker {
	return &Ranker{model: Model{Version: "builtin", Weights: defaultWeights()}}
}

// Load replaces the active model from a YAML exchange file on disk.
func (r *Ranker) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ranker: read model: %w", err)
	}
	var m Model
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("ranker: parse model: %w", err)
	}
	if len(m.Weights) == 0 {
		return fmt.Errorf("ranker: model %s has no weights", path)
	}
	for _, slot := range featureSlots {
		if _, ok := m.Weights[slot]; !ok {
			return fmt.Errorf("ranker: model %s missing slot %q", path, slot)
		}
	}
	r.model = m
	return nil
}

// Score implements policy.Ranker: a deterministic weighted sum per
// candidate, in the same order as features.
func (r *Ranker) Score(queryID uint64, features []policy.Features) ([]float64, error) {
	if len(features) == 0 {
		return nil, nil
	}
	w := r.model.Weights
	scores := make([]float64, len(features))
	for i, f := range features {
		focus := 0.0
		if f.Focused {
			focus = 1.0
		}
		audio := 0.0
		if f.AudioActive {
			audio = 1.0
		}
		scores[i] = w["cpu"]*clamp01(f.CPUShare) +
			w["io"]*clamp01(f.IOShare) +
			w["focus"]*focus +
			w["audio"]*audio
	}
	return scores, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Percentile returns the fraction of scores at or below v, using gonum/stat
// over the sorted sample. Exposed for callers (tests, diagnostics) that want
// the Ranker's own percentile mapping rather than the Policy Engine's rank
// based one.
func Percentile(sortedScores []float64, v float64) float64 {
	if len(sortedScores) == 0 {
		return 0
	}
	return stat.CDF(v, stat.Empirical, sortedScores, nil)
}

var _ policy.Ranker = (*Ranker)(nil)
