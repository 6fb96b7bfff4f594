package actuator

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/smoothtask/smoothtask/internal/model"
	"github.com/stretchr/testify/require"
)

func TestApplySkipsProtectedTargets(t *testing.T) {
	a := New(t.TempDir(), true)
	errs := a.Apply([]Target{{PID: 1, Protected: true, Class: model.Normal}})
	require.Empty(t, errs)
	require.Empty(t, a.originals)
}

func TestApplyVanishedPIDIsSkippedSilently(t *testing.T) {
	a := New(t.TempDir(), true)
	// PID 999999999 will never exist; applyOne should classify it vanished
	// and Apply must not surface that as an error.
	errs := a.Apply([]Target{{PID: 999999999, Class: model.Normal}})
	require.Empty(t, errs)
}

func TestCaptureOriginalIsSetOnce(t *testing.T) {
	a := New(t.TempDir(), true)
	pid := 1 // init/systemd, always pid 1 and always alive on any Linux host
	a.captureOriginal(Target{PID: pid})
	first := a.originals[pid]
	a.captureOriginal(Target{PID: pid})
	require.Same(t, first, a.originals[pid])
}

func TestForgetDropsTrackedState(t *testing.T) {
	a := New(t.TempDir(), true)
	a.captureOriginal(Target{PID: 1})
	require.Contains(t, a.originals, 1)
	a.Forget(1)
	require.NotContains(t, a.originals, 1)
}

func TestClassifyErrMapsPermissionErrno(t *testing.T) {
	require.Equal(t, model.ActuationPermission, classifyErr(unix.EPERM))
}

func TestClassifyErrMapsVanishedErrno(t *testing.T) {
	require.Equal(t, model.ActuationVanished, classifyErr(unix.ESRCH))
}

func TestAttemptKnobSuppressesPermissionFailureAfterFirstReport(t *testing.T) {
	a := New(t.TempDir(), true)
	calls := 0
	fail := func() error { calls++; return unix.EPERM }

	err := a.attemptKnob(1, "nice", fail)
	require.Error(t, err)
	require.Equal(t, 1, calls)

	// Suppressed: fn is not called again, and no error is surfaced.
	err = a.attemptKnob(1, "nice", fail)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestAttemptKnobRetriesTransientThenSuppresses(t *testing.T) {
	a := New(t.TempDir(), true)
	calls := 0
	fail := func() error { calls++; return unix.EAGAIN }

	for i := 0; i < maxTransientRetries; i++ {
		err := a.attemptKnob(1, "ionice", fail)
		require.Error(t, err)
	}
	require.Equal(t, maxTransientRetries, calls)

	// Suppressed once the retry budget is exhausted.
	err := a.attemptKnob(1, "ionice", fail)
	require.NoError(t, err)
	require.Equal(t, maxTransientRetries, calls)
}

func TestAttemptKnobSuccessClearsFailureState(t *testing.T) {
	a := New(t.TempDir(), true)
	require.Error(t, a.attemptKnob(1, "nice", func() error { return unix.EAGAIN }))
	require.NoError(t, a.attemptKnob(1, "nice", func() error { return nil }))
	require.NotContains(t, a.knobFailures, "1:nice")
}

func TestForgetClearsKnobFailures(t *testing.T) {
	a := New(t.TempDir(), true)
	_ = a.attemptKnob(1, "nice", func() error { return unix.EPERM })
	require.Contains(t, a.knobFailures, "1:nice")
	a.Forget(1)
	require.NotContains(t, a.knobFailures, "1:nice")
}
