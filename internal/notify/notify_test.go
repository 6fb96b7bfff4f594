package notify

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogNotifierLogsModeDegradedAsWarn(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)
	n := NewLogNotifier(logger)

	n.Notify(EventModeDegraded, map[string]any{"reason": "ranker_errors"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != string(EventModeDegraded) {
		t.Fatalf("unexpected message: %s", entries[0].Message)
	}
}

func TestLogNotifierSuppressesInfoBelowWarnCore(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)
	n := NewLogNotifier(logger)

	n.Notify(EventDaemonUp, nil)

	if len(logs.All()) != 0 {
		t.Fatalf("expected daemon_up at Info to be filtered by the Warn-level core, got %d entries", len(logs.All()))
	}
}
