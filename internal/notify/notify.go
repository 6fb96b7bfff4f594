// Package notify defines the narrow set of user-visible events: startup/
// shutdown, policy mode degradation, and rollback failures. The loop
// supervisor raises startup/shutdown and rollback failures; no code in the
// daemon raises EventModeDegraded.
// Transport (webhook/email/Slack) is an external collaborator's concern, not
// this package's — only a log-backed default ships here.
package notify

import "go.uber.org/zap"

// Event names the fixed set of notifications the daemon may raise.
type Event string

const (
	EventDaemonUp         Event = "daemon_up"
	EventDaemonDown       Event = "daemon_down"
	EventModeDegraded     Event = "mode_degraded"
	EventRollbackFailures Event = "rollback_failures"
)

// Notifier receives daemon lifecycle and health events.
type Notifier interface {
	Notify(event Event, fields map[string]any)
}

// LogNotifier is the default Notifier: it logs every event at a severity
// appropriate to the event kind and does nothing else.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(event Event, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	switch event {
	case EventDaemonUp, EventDaemonDown:
		n.logger.Info(string(event), zf...)
	case EventModeDegraded, EventRollbackFailures:
		n.logger.Warn(string(event), zf...)
	default:
		n.logger.Info(string(event), zf...)
	}
}

var _ Notifier = (*LogNotifier)(nil)
