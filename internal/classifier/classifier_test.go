package classifier

import (
	"errors"
	"testing"

	"github.com/smoothtask/smoothtask/internal/model"
	"github.com/stretchr/testify/require"
)

func TestPatternStageMatchesBrowser(t *testing.T) {
	c := New(DefaultPatterns(), nil)
	snap := &model.Snapshot{Processes: []model.ProcessRecord{
		{PID: 1, Exe: "/usr/bin/firefox"},
	}}
	c.Classify(snap)
	require.Equal(t, model.TypeBrowser, snap.Processes[0].ProcessType)
}

func TestHeuristicFallsBackToCLI(t *testing.T) {
	c := New(nil, nil)
	snap := &model.Snapshot{Processes: []model.ProcessRecord{
		{PID: 1, TTYNr: 3, EnvTerm: "xterm-256color"},
	}}
	c.Classify(snap)
	require.Equal(t, model.TypeCLIInteractive, snap.Processes[0].ProcessType)
}

type fakeML struct {
	res MLResult
	err error
}

func (f fakeML) Classify(model.ProcessRecord) (MLResult, error) { return f.res, f.err }

func TestMLOverridesOnlyAboveConfidenceThreshold(t *testing.T) {
	c := New(nil, fakeML{res: MLResult{Type: model.TypeGame, Confidence: 0.71, Tags: []string{"steam"}}})
	snap := &model.Snapshot{Processes: []model.ProcessRecord{{PID: 1}}}
	c.Classify(snap)
	require.Equal(t, model.TypeGame, snap.Processes[0].ProcessType)
	require.Contains(t, snap.Processes[0].Tags, "steam")
}

func TestMLDoesNotOverrideAtOrBelowThreshold(t *testing.T) {
	c := New(nil, fakeML{res: MLResult{Type: model.TypeGame, Confidence: 0.7}})
	snap := &model.Snapshot{Processes: []model.ProcessRecord{
		{PID: 1, TTYNr: 2, EnvTerm: "xterm"},
	}}
	c.Classify(snap)
	require.Equal(t, model.TypeCLIInteractive, snap.Processes[0].ProcessType)
}

func TestMLErrorRecordsWarningButDoesNotAbort(t *testing.T) {
	c := New(nil, fakeML{err: errors.New("boom")})
	snap := &model.Snapshot{Processes: []model.ProcessRecord{{PID: 1}}}
	c.Classify(snap)
	require.NotEmpty(t, snap.Processes[0].ClassifyWarning)
	require.Equal(t, model.TypeOther, snap.Processes[0].ProcessType)
}

func TestGroupTypePrecedenceGameBeatsBrowser(t *testing.T) {
	snap := &model.Snapshot{
		Processes: []model.ProcessRecord{
			{PID: 1, ProcessType: model.TypeBrowser},
			{PID: 2, ProcessType: model.TypeGame},
		},
		Groups: []model.AppGroupRecord{{GroupID: "g", Members: []int{1, 2}}},
	}
	aggregateGroup(&snap.Groups[0], snap)
	require.Equal(t, model.TypeGame, snap.Groups[0].GroupType)
}
