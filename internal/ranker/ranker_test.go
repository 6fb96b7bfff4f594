package ranker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smoothtask/smoothtask/internal/policy"
	"github.com/stretchr/testify/require"
)

func TestScoreOrdersFocusedAboveUnfocused(t *testing.T) {
	r := New()
	scores, err := r.Score(1, []policy.Features{
		{GroupID: "a", CPUShare: 0.1, Focused: false},
		{GroupID: "b", CPUShare: 0.1, Focused: true},
	})
	require.NoError(t, err)
	require.Greater(t, scores[1], scores[0])
}

func TestScoreEmptyFeaturesReturnsEmpty(t *testing.T) {
	r := New()
	scores, err := r.Score(1, nil)
	require.NoError(t, err)
	require.Empty(t, scores)
}

func TestLoadRejectsModelMissingSlots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v1\nweights:\n  cpu: 0.5\n"), 0o644))

	r := New()
	err := r.Load(path)
	require.Error(t, err)
}

func TestLoadAcceptsCompleteModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	content := "version: v2\nweights:\n  cpu: 0.4\n  io: 0.2\n  focus: 0.3\n  audio: 0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := New()
	require.NoError(t, r.Load(path))
	require.Equal(t, "v2", r.model.Version)
}

func TestPercentileOfMaxIsOne(t *testing.T) {
	sorted := []float64{0.1, 0.2, 0.5, 0.9}
	require.InDelta(t, 1.0, Percentile(sorted, 0.9), 1e-9)
}
