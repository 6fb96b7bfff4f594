package main

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/smoothtask/smoothtask/internal/model"
	"github.com/stretchr/testify/require"
)

func TestClassColorOfKnownClassesAreDistinct(t *testing.T) {
	seen := map[lipgloss.Color]bool{}
	for _, c := range []model.PriorityClass{model.Idle, model.Background, model.Normal, model.Interactive, model.CritInteractive} {
		color := classColorOf(c)
		require.False(t, seen[color], "class %s reused color %s", c, color)
		seen[color] = true
	}
}

func TestClassColorOfUnknownClassFallsBackToNormalColor(t *testing.T) {
	require.Equal(t, classColorOf(model.Normal), classColorOf(model.PriorityClass(99)))
}
