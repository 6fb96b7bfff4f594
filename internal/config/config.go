// Package config loads and saves the daemon's on-disk configuration,
// covering every tunable the Sampler, Policy Engine, Actuator, and
// Snapshot Logger expose.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/smoothtask/smoothtask/internal/policy"
)

// Config is the full on-disk shape of smoothtaskd's configuration.
type Config struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
	MaxCandidates  int `yaml:"max_candidates"`

	Mode   policy.Mode `yaml:"mode"`
	DryRun bool        `yaml:"dry_run"`

	ProtectList []string `yaml:"protect_list"`

	Thresholds ThresholdsConfig `yaml:"thresholds"`

	CgroupRoot    string `yaml:"cgroup_root"`
	RankerModel   string `yaml:"ranker_model"`
	SnapshotDBPath string `yaml:"snapshot_db_path"`
	SnapshotQueueDepth int `yaml:"snapshot_queue_depth"`

	LogLevel string `yaml:"log_level"`
}

// ThresholdsConfig mirrors policy.Thresholds for YAML (un)marshaling; kept
// distinct from policy.Thresholds so the policy package stays free of a
// struct-tag/serialization dependency.
type ThresholdsConfig struct {
	PSICPUSomeHigh             float64 `yaml:"psi_cpu_some_high"`
	PSIIOSomeHigh              float64 `yaml:"psi_io_some_high"`
	UserIdleTimeoutSec         int     `yaml:"user_idle_timeout_sec"`
	InteractiveBuildGraceSec   int     `yaml:"interactive_build_grace_sec"`
	NoisyNeighbourCPUShare     float64 `yaml:"noisy_neighbour_cpu_share"`
	CritInteractivePercentile  float64 `yaml:"crit_interactive_percentile"`
	InteractivePercentile      float64 `yaml:"interactive_percentile"`
	NormalPercentile           float64 `yaml:"normal_percentile"`
	BackgroundPercentile       float64 `yaml:"background_percentile"`
	SchedLatencyP99ThresholdMs float64 `yaml:"sched_latency_p99_threshold_ms"`
	UILoopP95ThresholdMs       float64 `yaml:"ui_loop_p95_threshold_ms"`
	AudioSmallBufferFrames     int     `yaml:"audio_small_buffer_frames"`
	BackgroundIdleWeightShareCap float64 `yaml:"background_idle_weight_share_cap"`
	NoisyNeighbourDampingCooldownTicks int `yaml:"noisy_neighbour_damping_cooldown_ticks"`
}

func (t ThresholdsConfig) toPolicy() policy.Thresholds {
	return policy.Thresholds{
		PSICPUSomeHigh:                     t.PSICPUSomeHigh,
		PSIIOSomeHigh:                      t.PSIIOSomeHigh,
		UserIdleTimeoutSec:                 t.UserIdleTimeoutSec,
		InteractiveBuildGraceSec:           t.InteractiveBuildGraceSec,
		NoisyNeighbourCPUShare:             t.NoisyNeighbourCPUShare,
		CritInteractivePercentile:          t.CritInteractivePercentile,
		InteractivePercentile:              t.InteractivePercentile,
		NormalPercentile:                   t.NormalPercentile,
		BackgroundPercentile:               t.BackgroundPercentile,
		SchedLatencyP99ThresholdMs:         t.SchedLatencyP99ThresholdMs,
		UILoopP95ThresholdMs:               t.UILoopP95ThresholdMs,
		AudioSmallBufferFrames:             t.AudioSmallBufferFrames,
		BackgroundIdleWeightShareCap:       t.BackgroundIdleWeightShareCap,
		NoisyNeighbourDampingCooldownTicks: t.NoisyNeighbourDampingCooldownTicks,
	}
}

func fromPolicyThresholds(t policy.Thresholds) ThresholdsConfig {
	return ThresholdsConfig{
		PSICPUSomeHigh:                     t.PSICPUSomeHigh,
		PSIIOSomeHigh:                      t.PSIIOSomeHigh,
		UserIdleTimeoutSec:                 t.UserIdleTimeoutSec,
		InteractiveBuildGraceSec:           t.InteractiveBuildGraceSec,
		NoisyNeighbourCPUShare:             t.NoisyNeighbourCPUShare,
		CritInteractivePercentile:          t.CritInteractivePercentile,
		InteractivePercentile:              t.InteractivePercentile,
		NormalPercentile:                   t.NormalPercentile,
		BackgroundPercentile:               t.BackgroundPercentile,
		SchedLatencyP99ThresholdMs:         t.SchedLatencyP99ThresholdMs,
		UILoopP95ThresholdMs:               t.UILoopP95ThresholdMs,
		AudioSmallBufferFrames:             t.AudioSmallBufferFrames,
		BackgroundIdleWeightShareCap:       t.BackgroundIdleWeightShareCap,
		NoisyNeighbourDampingCooldownTicks: t.NoisyNeighbourDampingCooldownTicks,
	}
}

// ToPolicyConfig builds a policy.Config from the loaded Config.
func (c Config) ToPolicyConfig() policy.Config {
	protect := make(map[string]bool, len(c.ProtectList))
	for _, name := range c.ProtectList {
		protect[name] = true
	}
	return policy.Config{
		Mode:           c.Mode,
		MaxCandidates:  c.MaxCandidates,
		DryRun:         c.DryRun,
		ProtectList:    protect,
		Thresholds:     c.Thresholds.toPolicy(),
		MinStableTicks: 3,
		MinTimeInClass: 5,
	}
}

// Default returns a config with sensible defaults.
func Default() Config {
	protectList := make([]string, 0, len(policy.DefaultProtectList()))
	for name := range policy.DefaultProtectList() {
		protectList = append(protectList, name)
	}
	return Config{
		TickIntervalMs:     1000,
		MaxCandidates:      150,
		Mode:               policy.ModeRulesOnly,
		DryRun:             false,
		ProtectList:        protectList,
		Thresholds:         fromPolicyThresholds(policy.DefaultThresholds()),
		CgroupRoot:         "/sys/fs/cgroup/smoothtask",
		SnapshotDBPath:     defaultSnapshotDBPath(),
		SnapshotQueueDepth: 512,
		LogLevel:           "info",
	}
}

// Path returns $XDG_CONFIG_HOME/smoothtask/config.yaml, falling back to
// ~/.config. Returns empty string if no home directory can be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "smoothtask", "config.yaml")
}

// Load loads config from disk, returning defaults on a missing file, and
// logging a warning and returning defaults on a parse error.
func Load(logger *zap.Logger) Config {
	cfg := Default()
	p := Path()
	if p == "" {
		return cfg
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logger.Warn("config parse error, using defaults", zap.String("path", p), zap.Error(err))
		return Default()
	}
	if cfg.SnapshotDBPath == "" {
		cfg.SnapshotDBPath = defaultSnapshotDBPath()
	}
	return cfg
}

func defaultSnapshotDBPath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "smoothtask.db"
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "smoothtask", "snapshots.db")
}

// Save writes the config to disk.
func Save(cfg Config) error {
	path := Path()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
