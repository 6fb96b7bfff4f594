// Package policy selects candidates, applies guardrails and semantic
// rules, consults the Ranker in hybrid/ml-only modes, and runs the
// hysteresis state machine that turns proposals into committed target
// classes, per spec.md 4.4.
package policy

// Mode is the Policy Engine's operating mode.
type Mode string

const (
	ModeRulesOnly Mode = "rules-only"
	ModeHybrid    Mode = "hybrid"
	ModeMLOnly    Mode = "ml-only"
)

// Thresholds holds the configurable tunables from spec.md 6.
type Thresholds struct {
	PSICPUSomeHigh            float64
	PSIIOSomeHigh             float64
	UserIdleTimeoutSec        int
	InteractiveBuildGraceSec  int
	NoisyNeighbourCPUShare    float64
	CritInteractivePercentile float64
	InteractivePercentile     float64
	NormalPercentile          float64
	BackgroundPercentile      float64
	SchedLatencyP99ThresholdMs float64
	UILoopP95ThresholdMs       float64
	// AudioSmallBufferFrames resolves Open Question (b): the audio
	// guardrail's "small buffer" is explicitly any buffer at or below this
	// frame count.
	AudioSmallBufferFrames int
	// BackgroundIdleWeightShareCap bounds the fraction of total assigned
	// cpu_weight that Background∪Idle groups may hold.
	BackgroundIdleWeightShareCap float64
	// NoisyNeighbourDampingCooldownTicks rate-limits repeated damping of the
	// same group, modeled on engine/watchdog.go's cooldown gate.
	NoisyNeighbourDampingCooldownTicks int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PSICPUSomeHigh:                     0.3,
		PSIIOSomeHigh:                      0.4,
		UserIdleTimeoutSec:                 60,
		InteractiveBuildGraceSec:           20,
		NoisyNeighbourCPUShare:             0.5,
		CritInteractivePercentile:          0.95,
		InteractivePercentile:              0.75,
		NormalPercentile:                   0.40,
		BackgroundPercentile:               0.15,
		SchedLatencyP99ThresholdMs:         50,
		UILoopP95ThresholdMs:               33,
		AudioSmallBufferFrames:             256,
		BackgroundIdleWeightShareCap:       0.2,
		NoisyNeighbourDampingCooldownTicks: 5,
	}
}

// Config bundles everything the Policy Engine needs besides the snapshot.
type Config struct {
	Mode          Mode
	MaxCandidates int
	DryRun        bool
	ProtectList   map[string]bool // exe basename or systemd unit
	Thresholds    Thresholds

	MinStableTicks  int // default 3
	MinTimeInClass  int // default 5
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeRulesOnly,
		MaxCandidates:  150,
		ProtectList:    DefaultProtectList(),
		Thresholds:     DefaultThresholds(),
		MinStableTicks: 3,
		MinTimeInClass: 5,
	}
}

// DefaultProtectList covers the processes spec.md 4.4 names by category:
// init, journal, display server, udev, network/disk critical services.
func DefaultProtectList() map[string]bool {
	names := []string{
		"systemd", "init", "systemd-journald", "systemd-udevd",
		"Xorg", "Xwayland", "gnome-shell", "kwin_wayland", "sway",
		"NetworkManager", "systemd-networkd", "wpa_supplicant",
		"udisksd", "systemd-logind", "dbus-daemon",
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
