package sampler

import (
	"testing"
	"time"

	"github.com/smoothtask/smoothtask/internal/model"
	"github.com/stretchr/testify/require"
)

func TestSystemdUnitFromCgroup(t *testing.T) {
	cases := map[string]string{
		"/user.slice/user-1000.slice/user@1000.service/app.slice/app-foo.service": "app-foo.service",
		"/user.slice/user-1000.slice/session-2.scope":                             "session-2.scope",
		"/system.slice/cron.service":                                             "cron.service",
		"/":                                                                       "",
	}
	for input, want := range cases {
		require.Equal(t, want, systemdUnitFromCgroup(input), "input=%s", input)
	}
}

func TestSelectCandidatesBoundedByMax(t *testing.T) {
	s := New(Config{MaxCandidates: 2, NoisyCPUShareThreshold: 0.01, ProcRoot: "/proc"}, nil, nil, nil)
	cheap := map[int]model.ProcessRecord{
		1: {PID: 1, CPUShare1s: 0.9},
		2: {PID: 2, CPUShare1s: 0.5},
		3: {PID: 3, CPUShare1s: 0.3},
	}
	cand := s.selectCandidates(cheap)
	require.LessOrEqual(t, len(cand), 2)
}

func TestResponsivenessProbeFailSafeWhenUnhealthy(t *testing.T) {
	p := NewResponsivenessProbe()
	_, _, healthy := p.Percentiles(time.Now(), time.Second)
	require.False(t, healthy)
}

func TestResponsivenessProbeRecordsSamples(t *testing.T) {
	p := NewResponsivenessProbe()
	p.record(1.0)
	p.record(2.0)
	p95, p99, healthy := p.Percentiles(time.Now(), time.Second)
	require.True(t, healthy)
	require.GreaterOrEqual(t, p99, p95)
}

func TestTrimCPUHistDropsOnlyOlderThanCutoff(t *testing.T) {
	hist := []cpuHistSample{
		{wallNs: 1000, ticks: 1},
		{wallNs: 2000, ticks: 2},
		{wallNs: 3000, ticks: 3},
	}
	trimmed := trimCPUHist(hist, 2000)
	require.Equal(t, []cpuHistSample{{wallNs: 2000, ticks: 2}, {wallNs: 3000, ticks: 3}}, trimmed)
}

func TestTrimCPUHistKeepsEverythingWhenNothingIsStale(t *testing.T) {
	hist := []cpuHistSample{{wallNs: 5000, ticks: 1}}
	require.Equal(t, hist, trimCPUHist(hist, 0))
}

func TestSampleResponsivenessUsesConfiguredThresholds(t *testing.T) {
	s := New(Config{
		SchedLatencyP99ThresholdMs: 1000, // unreachable, forces p99 branch off
		UILoopP95ThresholdMs:       1000,
		PSICPUSomeHigh:             0.1,
		PSIIOSomeHigh:              0.9,
		TickPeriod:                 time.Second,
	}, nil, nil, nil)
	s.probe.record(5.0)
	snap := &model.Snapshot{}
	snap.Global.PSI.CPU.Some.Avg10 = 0.5 // exceeds PSICPUSomeHigh
	s.sampleResponsiveness(snap, time.Now())
	require.True(t, snap.Responsiveness.BadResponsiveness)
}

func TestSampleResponsivenessFalseWhenWithinAllThresholds(t *testing.T) {
	s := New(Config{
		SchedLatencyP99ThresholdMs: 1000,
		UILoopP95ThresholdMs:       1000,
		PSICPUSomeHigh:             0.9,
		PSIIOSomeHigh:              0.9,
		TickPeriod:                 time.Second,
	}, nil, nil, nil)
	s.probe.record(5.0)
	snap := &model.Snapshot{}
	s.sampleResponsiveness(snap, time.Now())
	require.False(t, snap.Responsiveness.BadResponsiveness)
}

func TestSampleGlobalUsesConfiguredIdleTimeout(t *testing.T) {
	s := New(Config{ProcRoot: "/proc", UserIdleTimeoutSec: 5}, nil, nil, fakeInput{ms: 4000})
	snap := &model.Snapshot{}
	require.NoError(t, s.sampleGlobal(snap, time.Now()))
	require.True(t, snap.Global.UserActive)

	s2 := New(Config{ProcRoot: "/proc", UserIdleTimeoutSec: 5}, nil, nil, fakeInput{ms: 6000})
	snap2 := &model.Snapshot{}
	require.NoError(t, s2.sampleGlobal(snap2, time.Now()))
	require.False(t, snap2.Global.UserActive)
}

type fakeInput struct{ ms int64 }

func (f fakeInput) MSSinceLastInput() (int64, error) { return f.ms, nil }
