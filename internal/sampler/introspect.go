// Package sampler produces one model.Snapshot per tick: a cheap pass over
// every process plus a bounded expensive pass over candidates, merged with
// window/audio/input introspection and a responsiveness probe.
package sampler

// WindowInfo is one window introspector entry.
type WindowInfo struct {
	AppID        string
	Title        string
	Workspace    string
	IsFocused    bool
	IsMinimized  bool
	IsFullscreen bool
	PID          int
	PIDConfidence float64
}

// WindowIntrospector is the abstract capability contract for a desktop
// window manager backend (X11, Wayland compositors, ...). Concrete
// backends are out of scope; callers inject a stub or a real
// implementation behind this interface.
type WindowIntrospector interface {
	// Windows returns the current window list. Implementations that cannot
	// determine pid ownership leave PID at 0 and PIDConfidence at 0.
	Windows() ([]WindowInfo, error)
}

// AudioNodeInfo is one audio client node's state.
type AudioNodeInfo struct {
	PID          int
	LatencyMs    float64
	XrunsTotal   uint64
	XrunsRecent  uint64
	BufferFrames int
}

// AudioGraphInfo is graph-wide audio state.
type AudioGraphInfo struct {
	DSPLoad          float64
	XrunsGlobalRecent uint64
}

// AudioIntrospector is the abstract capability contract for an audio
// server backend (PipeWire, PulseAudio). Concrete backends are out of
// scope.
type AudioIntrospector interface {
	Nodes() ([]AudioNodeInfo, error)
	Graph() (AudioGraphInfo, error)
}

// InputActivitySource reports milliseconds since the last user input
// event system-wide. Concrete backends (evdev, compositor idle protocols)
// are out of scope.
type InputActivitySource interface {
	MSSinceLastInput() (int64, error)
}

// NullWindowIntrospector is used when no window backend is configured;
// absent capability means absent fields, never an error.
type NullWindowIntrospector struct{}

func (NullWindowIntrospector) Windows() ([]WindowInfo, error) { return nil, nil }

// NullAudioIntrospector is used when no audio backend is configured.
type NullAudioIntrospector struct{}

func (NullAudioIntrospector) Nodes() ([]AudioNodeInfo, error)   { return nil, nil }
func (NullAudioIntrospector) Graph() (AudioGraphInfo, error)    { return AudioGraphInfo{}, nil }

// NullInputActivitySource is used when no input backend is configured. It
// reports a large value rather than zero so the Sampler does not mistake
// "unknown" for "just touched".
type NullInputActivitySource struct{}

func (NullInputActivitySource) MSSinceLastInput() (int64, error) {
	return 1 << 30, nil
}
