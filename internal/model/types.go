// Package model holds the data shared by every stage of the tick loop:
// snapshots, process and group records, and the priority class table.
package model

import "time"

// PriorityClass is the totally ordered target/observed priority level.
// Zero value is CritInteractive deliberately avoided; Normal is the
// documented default for first observation, so callers must set it
// explicitly rather than relying on the zero value.
type PriorityClass int

const (
	Idle PriorityClass = iota
	Background
	Normal
	Interactive
	CritInteractive
)

func (c PriorityClass) String() string {
	switch c {
	case Idle:
		return "idle"
	case Background:
		return "background"
	case Normal:
		return "normal"
	case Interactive:
		return "interactive"
	case CritInteractive:
		return "crit_interactive"
	default:
		return "unknown"
	}
}

// ClassParams is the fixed knob tuple for a PriorityClass.
type ClassParams struct {
	Nice        int
	LatencyNice int
	IOClass     int
	IOLevel     int
	CPUWeight   int
}

// ClassTable is the default, fixed parameter table from the spec. It is
// not configurable: guardrails and semantic rules operate on classes, never
// on raw knob values, so this table is the single place knob values live.
var ClassTable = map[PriorityClass]ClassParams{
	CritInteractive: {Nice: -8, LatencyNice: -15, IOClass: 2, IOLevel: 0, CPUWeight: 200},
	Interactive:     {Nice: -4, LatencyNice: -10, IOClass: 2, IOLevel: 2, CPUWeight: 150},
	Normal:          {Nice: 0, LatencyNice: 0, IOClass: 2, IOLevel: 4, CPUWeight: 100},
	Background:      {Nice: 5, LatencyNice: 10, IOClass: 2, IOLevel: 6, CPUWeight: 50},
	Idle:            {Nice: 10, LatencyNice: 15, IOClass: 3, IOLevel: 0, CPUWeight: 25},
}

// ProcessState mirrors the single-letter state field from /proc/[pid]/stat.
type ProcessState byte

const (
	StateRunning  ProcessState = 'R'
	StateSleeping ProcessState = 'S'
	StateDisk     ProcessState = 'D'
	StateZombie   ProcessState = 'Z'
	StateStopped  ProcessState = 'T'
)

// ProcessType is the classifier's output category.
type ProcessType string

const (
	TypeGUIInteractive ProcessType = "gui_interactive"
	TypeCLIInteractive ProcessType = "cli_interactive"
	TypeSystemService  ProcessType = "system_service"
	TypeUserDaemon     ProcessType = "user_daemon"
	TypeBatchHeavy     ProcessType = "batch_heavy"
	TypeMaintenance    ProcessType = "maintenance"
	TypeAudioClient    ProcessType = "audio_client"
	TypeBrowser        ProcessType = "browser"
	TypeIDE            ProcessType = "ide"
	TypeGame           ProcessType = "game"
	TypeIndexer        ProcessType = "indexer"
	TypeUpdater        ProcessType = "updater"
	TypeBuildTool      ProcessType = "build_tool"
	TypeOther          ProcessType = "other"
)

// TypePrecedence ranks process types most-specific first, used by the
// Classifier to pick a group's aggregate type.
var TypePrecedence = []ProcessType{
	TypeGame, TypeBrowser, TypeIDE, TypeAudioClient, TypeGUIInteractive,
	TypeCLIInteractive, TypeBuildTool, TypeBatchHeavy, TypeMaintenance,
	TypeIndexer, TypeUpdater, TypeSystemService, TypeUserDaemon, TypeOther,
}

// WindowState mirrors the window introspector's reported state for a pid's
// owning window, if any.
type WindowState string

const (
	WindowNone      WindowState = ""
	WindowNormal    WindowState = "normal"
	WindowMinimized WindowState = "minimized"
	WindowFullscreen WindowState = "fullscreen"
)

// PSIValue is one pressure-stall-information line (some or full) with its
// rolling averages, as exposed by /proc/pressure/{cpu,io,memory}.
type PSIValue struct {
	Avg10  float64
	Avg60  float64
	Avg300 float64
	Total  uint64
}

// PSILine holds the "some" and (where applicable) "full" PSI lines for one
// resource.
type PSILine struct {
	Some PSIValue
	Full PSIValue
}

// PSI aggregates the three kernel pressure-stall resources.
type PSI struct {
	CPU    PSILine
	IO     PSILine
	Memory PSILine
}

// Memory holds global memory/swap state in kilobytes, as read from
// /proc/meminfo.
type Memory struct {
	Total     uint64
	Available uint64
	SwapTotal uint64
	SwapFree  uint64
}

// GlobalMetrics is the system-wide portion of a Snapshot.
type GlobalMetrics struct {
	CPUBusyPct     float64
	CPUUserPct     float64
	CPUSystemPct   float64
	CPUIOWaitPct   float64
	CPUStealPct    float64
	LoadAvg1       float64
	LoadAvg5       float64
	LoadAvg15      float64
	Memory         Memory
	PSI            PSI
	UserActive     bool
	MSSinceInput   int64
}

// Responsiveness is the Sampler's synthesized latency-feedback signal.
type Responsiveness struct {
	SchedLatencyP95Ms float64
	SchedLatencyP99Ms float64
	UILoopP95Ms       float64
	AudioXrunDelta    uint64
	BadResponsiveness bool
	Score             float64 // 0..1, 1 = fully responsive
	Unknown           bool    // true when the probe has no recent samples
}

// ProcessRecord is one process's state for a single tick.
type ProcessRecord struct {
	PID  int
	PPID int
	UID  int

	Exe         string
	Cmdline     []string
	CgroupPath  string
	SystemdUnit string
	GroupID     string

	State     ProcessState
	StartTime uint64 // ticks since boot, from /proc/[pid]/stat field 22
	TTYNr     int

	CPUShare1s      float64
	CPUShare10s     float64
	IOReadBytes     uint64
	IOWriteBytes    uint64
	RSSMB           float64
	SwapMB          float64
	VoluntaryCtx    uint64
	InvoluntaryCtx  uint64

	HasGUIWindow    bool
	IsFocusedWindow bool
	WindowState     WindowState
	EnvHasDisplay   bool
	EnvHasWayland   bool
	EnvTerm         string
	EnvSSH          bool
	IsAudioClient   bool
	HasActiveStream bool
	AudioBufferFrames int

	ProcessType ProcessType
	Tags        []string
	ClassifyWarning string

	ObservedNice        int
	ObservedIOClass     int
	ObservedIOLevel     int
	ObservedCgroupWeight int
	ObservedCgroupMax    string

	TargetClass PriorityClass

	Stale bool // per-pid expensive-pass read failed; fields beyond cheap pass are zero
}

// AppGroupRecord is the aggregate view of one AppGroup for a tick.
type AppGroupRecord struct {
	GroupID string
	RootPID int
	Members []int // pids, in discovery order

	AppName string

	CPUShare1s   float64
	CPUShare10s  float64
	IOReadBytes  uint64
	IOWriteBytes uint64
	RSSMB        float64

	HasGUIWindow   bool
	IsFocusedGroup bool
	Tags           []string
	GroupType      ProcessType

	CurrentClass PriorityClass
	TargetClass  PriorityClass
}

// Snapshot is the immutable record produced once per tick.
type Snapshot struct {
	SnapshotID int64 // monotonic millisecond stamp, unique per tick
	TickSeq    uint64
	Timestamp  time.Time
	Overrun    bool

	Global         GlobalMetrics
	Responsiveness Responsiveness

	Processes []ProcessRecord
	Groups    []AppGroupRecord

	Errors []error
}

// ProcessByPID returns the index of the ProcessRecord with the given pid,
// or -1 if absent. Snapshots are small enough (bounded by max_candidates
// plus the cheap-pass population) that a linear scan is acceptable and
// avoids maintaining a second map structure on a value that is discarded
// every tick.
func (s *Snapshot) ProcessByPID(pid int) int {
	for i := range s.Processes {
		if s.Processes[i].PID == pid {
			return i
		}
	}
	return -1
}

// GroupByID returns the index of the AppGroupRecord with the given id, or -1.
func (s *Snapshot) GroupByID(id string) int {
	for i := range s.Groups {
		if s.Groups[i].GroupID == id {
			return i
		}
	}
	return -1
}
