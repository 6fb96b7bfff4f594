package policy

import "github.com/smoothtask/smoothtask/internal/model"

// IsProtected reports whether a process is in the configured protect-list,
// matched against exe basename or systemd unit, per spec.md 4.4 and 6.
func IsProtected(cfg Config, p model.ProcessRecord) bool {
	base := baseName(p.Exe)
	if cfg.ProtectList[base] {
		return true
	}
	if cfg.ProtectList[p.SystemdUnit] {
		return true
	}
	return false
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// niceFloor and weight bounds are inviolable per spec.md 4.4.
const (
	niceFloor       = -10
	cpuWeightFloor  = 10
	cpuWeightCeil   = 10000
)

// clampClassParams enforces the nice-floor and weight floor/ceiling on a
// class's fixed parameters. The class table itself never violates these
// bounds, and no code in this repository calls this function.
func clampClassParams(p model.ClassParams) model.ClassParams {
	if p.Nice < niceFloor {
		p.Nice = niceFloor
	}
	if p.CPUWeight < cpuWeightFloor {
		p.CPUWeight = cpuWeightFloor
	}
	if p.CPUWeight > cpuWeightCeil {
		p.CPUWeight = cpuWeightCeil
	}
	return p
}

// audioFloorClass is the minimum class an audio client with an active stream
// on a small buffer may be assigned, per spec.md 4.4.
const audioFloorClass = model.Interactive

// applyAudioGuardrail enforces: an audio client with an active stream on a
// buffer at or below AudioSmallBufferFrames, or of unknown size (0), may not
// fall below Interactive. Xrun counts are not consulted.
func applyAudioGuardrail(cfg Config, p model.ProcessRecord, proposed model.PriorityClass) model.PriorityClass {
	if !p.IsAudioClient || !p.HasActiveStream {
		return proposed
	}
	if p.AudioBufferFrames > 0 && p.AudioBufferFrames > cfg.Thresholds.AudioSmallBufferFrames {
		return proposed
	}
	if proposed < audioFloorClass {
		return audioFloorClass
	}
	return proposed
}

// backgroundIdleShareExceeded reports whether the sum of cpu_weight
// assigned to Background∪Idle targets exceeds
// cfg.Thresholds.BackgroundIdleWeightShareCap of the total assigned
// weight. The guardrail is read-only: it cannot promote a group out of
// Background/Idle, it only flags the breach so the caller can log a
// PolicyViolation for visibility, since Background and Idle are already
// the bottom of the class order.
func backgroundIdleShareExceeded(cfg Config, proposals map[string]model.PriorityClass) bool {
	total, bgIdle := 0, 0
	for _, class := range proposals {
		w := model.ClassTable[class].CPUWeight
		total += w
		if class == model.Background || class == model.Idle {
			bgIdle += w
		}
	}
	if total == 0 {
		return false
	}
	return float64(bgIdle)/float64(total) > cfg.Thresholds.BackgroundIdleWeightShareCap
}
