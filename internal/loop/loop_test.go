package loop

import (
	"testing"

	"github.com/smoothtask/smoothtask/internal/policy"
	"github.com/stretchr/testify/require"
)

func TestDryRunSkipsActuatorWhenAllDecisionsAreDryRun(t *testing.T) {
	cfg := Config{}
	require.True(t, cfg.dryRunSkipsActuator([]policy.Decision{
		{GroupID: "a", DryRun: true},
		{GroupID: "b", DryRun: true},
	}))
}

func TestDryRunSkipsActuatorFalseIfAnyLive(t *testing.T) {
	cfg := Config{}
	require.False(t, cfg.dryRunSkipsActuator([]policy.Decision{
		{GroupID: "a", DryRun: true},
		{GroupID: "b", DryRun: false},
	}))
}

func TestDryRunSkipsActuatorTrueOnEmpty(t *testing.T) {
	cfg := Config{}
	require.True(t, cfg.dryRunSkipsActuator(nil))
}
