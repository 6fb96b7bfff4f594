package policy

import (
	"sort"
	"time"

	"github.com/smoothtask/smoothtask/internal/model"
)

// Ranker is the narrow contract the Policy Engine consults in
// hybrid/ml-only modes. internal/ranker.Ranker satisfies this.
type Ranker interface {
	Score(queryID uint64, features []Features) ([]float64, error)
}

// Features is one candidate's feature vector for the Ranker.
type Features struct {
	GroupID    string
	CPUShare   float64
	IOShare    float64
	Focused    bool
	AudioActive bool
	Vec        []float64
}

// Decision is the Policy Engine's per-group output for one tick.
type Decision struct {
	GroupID string
	Class   model.PriorityClass
	// ProcessClasses carries any per-pid overrides distinct from the
	// group's class (the spec allows per-process nice/ionice application
	// even when cpu_weight/cpu_max are group-level, 4.6).
	ProcessClasses map[int]model.PriorityClass
	DryRun         bool
}

// Engine runs candidate selection, guardrails, semantic rules, the Ranker
// clamp, and hysteresis.
type Engine struct {
	cfg   Config
	hyst  *Hysteresis
	rank  Ranker

	priorCandidates   map[string]bool
	dampCooldown      map[string]int // group id -> remaining cooldown ticks
	degraded          bool           // forced rules-only after repeated RankerError
	consecutiveRankErrs int

	// buildToolSince tracks when a group was first observed as
	// model.TypeBuildTool, keyed by group id, for the
	// interactive_build_grace_sec rule.
	buildToolSince map[string]time.Time
}

// maxConsecutiveRankerErrors: three consecutive RankerErrors force
// rules-only until the next Reload.
const maxConsecutiveRankerErrors = 3

// Config returns the engine's active configuration, read-only for callers
// that need it outside Decide (e.g. the loop supervisor's protect-list
// lookups at actuation time).
func (e *Engine) Config() Config {
	return e.cfg
}

// SkipTick advances hysteresis for every known group as a no-op, used when
// a tick's deadline is exceeded before Decide runs: per spec.md 5 the
// skipped tick must not reset any group's time-in-class progress.
func (e *Engine) SkipTick() {
	for _, key := range e.hyst.Keys() {
		e.hyst.AdvanceNoop(key)
	}
}

// Reload swaps in a new config and clears the ranker degrade state, mirroring
// classifier.Reload's "next reload clears the slate" behavior.
func (e *Engine) Reload(cfg Config) {
	e.cfg = cfg
	e.hyst = NewHysteresis(cfg.MinStableTicks, cfg.MinTimeInClass)
	e.degraded = false
	e.consecutiveRankErrs = 0
	e.buildToolSince = make(map[string]time.Time)
}

func New(cfg Config, rank Ranker) *Engine {
	return &Engine{
		cfg:             cfg,
		hyst:            NewHysteresis(cfg.MinStableTicks, cfg.MinTimeInClass),
		rank:            rank,
		priorCandidates: make(map[string]bool),
		dampCooldown:    make(map[string]int),
		buildToolSince:  make(map[string]time.Time),
	}
}

// Decide runs one tick of policy for the given snapshot and returns the
// committed decisions plus any errors to attach to the snapshot.
func (e *Engine) Decide(snap *model.Snapshot) ([]Decision, []error) {
	var errs []error

	if e.cfg.MaxCandidates == 0 {
		return nil, nil
	}

	candidates := e.selectCandidates(snap)

	proposals := make(map[string]model.PriorityClass, len(candidates))
	for _, gr := range candidates {
		proposals[gr.GroupID] = e.proposeClass(snap, gr, candidates)
	}

	mode := e.cfg.Mode
	if e.degraded {
		mode = ModeRulesOnly
	}

	if mode != ModeRulesOnly && e.rank != nil {
		ranked, err := e.runRanker(snap, candidates)
		if err != nil {
			errs = append(errs, &model.RankerError{Err: err})
			e.consecutiveRankErrs++
			if e.consecutiveRankErrs >= maxConsecutiveRankerErrors {
				e.degraded = true
			}
		} else {
			e.consecutiveRankErrs = 0
			for gid, class := range ranked {
				if mode == ModeHybrid {
					proposals[gid] = clampByOne(proposals[gid], class)
				} else {
					proposals[gid] = class
				}
			}
		}
	}

	for gid, class := range proposals {
		idx := snap.GroupByID(gid)
		if idx < 0 {
			continue
		}
		gr := &snap.Groups[idx]
		clamped := e.applyGuardrailsGroup(snap, *gr, class)
		if clamped != class {
			errs = append(errs, &model.PolicyViolation{Target: gid, Rule: "guardrail", Clamped: clamped})
		}
		proposals[gid] = clamped
	}

	if backgroundIdleShareExceeded(e.cfg, proposals) {
		errs = append(errs, &model.PolicyViolation{Target: "*", Rule: "background_idle_weight_share_cap"})
	}

	decisions := make([]Decision, 0, len(proposals))
	gids := make([]string, 0, len(proposals))
	for gid := range proposals {
		gids = append(gids, gid)
	}
	sort.Strings(gids)

	for _, gid := range gids {
		committed := e.hyst.Advance(gid, proposals[gid])
		idx := snap.GroupByID(gid)
		if idx >= 0 {
			snap.Groups[idx].TargetClass = committed
			for _, pid := range snap.Groups[idx].Members {
				pidx := snap.ProcessByPID(pid)
				if pidx >= 0 {
					snap.Processes[pidx].TargetClass = committed
				}
			}
		}
		decisions = append(decisions, Decision{GroupID: gid, Class: committed, DryRun: e.cfg.DryRun})
	}

	e.priorCandidates = make(map[string]bool, len(candidates))
	for gid := range candidates {
		e.priorCandidates[gid] = true
	}

	return decisions, errs
}

// selectCandidates is the union of: groups with has_gui_window, audio-active
// groups, groups whose 1s cpu share exceeds the noise threshold (or that do
// any I/O with a 10s cpu share above it), groups named in prior decisions,
// bounded by max_candidates.
func (e *Engine) selectCandidates(snap *model.Snapshot) map[string]*model.AppGroupRecord {
	out := make(map[string]*model.AppGroupRecord)
	add := func(gr *model.AppGroupRecord) {
		if len(out) >= e.cfg.MaxCandidates {
			return
		}
		out[gr.GroupID] = gr
	}

	for i := range snap.Groups {
		gr := &snap.Groups[i]
		if gr.HasGUIWindow || groupIsAudioActive(snap, gr) {
			add(gr)
		}
	}
	for i := range snap.Groups {
		gr := &snap.Groups[i]
		if _, ok := out[gr.GroupID]; ok {
			continue
		}
		if gr.CPUShare1s > e.cfg.Thresholds.NoisyNeighbourCPUShare ||
			float64(gr.IOReadBytes+gr.IOWriteBytes) > 0 && gr.CPUShare10s > e.cfg.Thresholds.NoisyNeighbourCPUShare {
			add(gr)
		}
	}
	for i := range snap.Groups {
		gr := &snap.Groups[i]
		if _, ok := out[gr.GroupID]; ok {
			continue
		}
		if e.priorCandidates[gr.GroupID] {
			add(gr)
		}
	}
	return out
}

func groupIsAudioActive(snap *model.Snapshot, gr *model.AppGroupRecord) bool {
	for _, pid := range gr.Members {
		idx := snap.ProcessByPID(pid)
		if idx < 0 {
			continue
		}
		if snap.Processes[idx].IsAudioClient && snap.Processes[idx].HasActiveStream {
			return true
		}
	}
	return false
}

// proposeClass applies the rules-only semantic rules from spec.md 4.4.
func (e *Engine) proposeClass(snap *model.Snapshot, gr *model.AppGroupRecord, allCandidates map[string]*model.AppGroupRecord) model.PriorityClass {
	hasAudio := groupIsAudioActive(snap, gr)
	hasGameTag := hasTag(gr.Tags, "game")

	if gr.IsFocusedGroup {
		if hasAudio || hasGameTag {
			return model.CritInteractive
		}
		return model.Interactive
	}

	if gr.GroupType == model.TypeCLIInteractive && snap.Global.UserActive {
		return model.Interactive
	}

	if gr.GroupType == model.TypeUpdater || gr.GroupType == model.TypeIndexer {
		if snap.Global.UserActive {
			if snap.Responsiveness.BadResponsiveness {
				return model.Idle
			}
			return model.Background
		}
	}

	if gr.GroupType == model.TypeBuildTool {
		since, ok := e.buildToolSince[gr.GroupID]
		if !ok {
			since = snap.Timestamp
			e.buildToolSince[gr.GroupID] = since
		}
		grace := time.Duration(e.cfg.Thresholds.InteractiveBuildGraceSec) * time.Second
		if snap.Timestamp.Sub(since) < grace {
			// Still within the grace window: hold whatever class the
			// group already holds rather than demoting immediately.
			return e.hyst.Current(gr.GroupID)
		}
		if snap.Responsiveness.BadResponsiveness {
			return model.Background
		}
		return model.Normal
	}
	delete(e.buildToolSince, gr.GroupID)

	if gr.CPUShare1s > e.cfg.Thresholds.NoisyNeighbourCPUShare && snap.Responsiveness.BadResponsiveness {
		if e.dampCooldown[gr.GroupID] == 0 {
			e.dampCooldown[gr.GroupID] = e.cfg.Thresholds.NoisyNeighbourDampingCooldownTicks
			return demoteOne(e.hyst.Current(gr.GroupID))
		}
	}
	if e.dampCooldown[gr.GroupID] > 0 {
		e.dampCooldown[gr.GroupID]--
	}

	return model.Normal
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func demoteOne(c model.PriorityClass) model.PriorityClass {
	if c > model.Idle {
		return c - 1
	}
	return c
}

func promoteOne(c model.PriorityClass) model.PriorityClass {
	if c < model.CritInteractive {
		return c + 1
	}
	return c
}

// clampByOne implements the hybrid mode's rule: rules may raise or lower
// the ranker's output by at most one class.
func clampByOne(ruleClass, rankerClass model.PriorityClass) model.PriorityClass {
	diff := int(ruleClass) - int(rankerClass)
	switch {
	case diff > 0:
		return promoteOne(rankerClass)
	case diff < 0:
		return demoteOne(rankerClass)
	default:
		return rankerClass
	}
}

// applyGuardrailsGroup enforces protect-list, audio floor, and class-table
// clamps. Protect-list membership is evaluated per-member pid; if any
// member is protected the policy still proposes a class for the group
// (protect-list exempts only the Actuator from touching that pid, per
// spec.md 4.6 — the guardrail lives at application time for protected
// pids, and here only for the audio/weight guardrails that are
// class-level).
func (e *Engine) applyGuardrailsGroup(snap *model.Snapshot, gr model.AppGroupRecord, proposed model.PriorityClass) model.PriorityClass {
	for _, pid := range gr.Members {
		idx := snap.ProcessByPID(pid)
		if idx < 0 {
			continue
		}
		p := snap.Processes[idx]
		proposed = applyAudioGuardrail(e.cfg, p, proposed)
	}
	return proposed
}

// runRanker builds the feature matrix, scores it, and converts scores to
// percentiles within the query, mapping percentiles to classes via the
// configured thresholds.
func (e *Engine) runRanker(snap *model.Snapshot, candidates map[string]*model.AppGroupRecord) (map[string]model.PriorityClass, error) {
	gids := make([]string, 0, len(candidates))
	feats := make([]Features, 0, len(candidates))
	for gid, gr := range candidates {
		gids = append(gids, gid)
		feats = append(feats, Features{
			GroupID:     gid,
			CPUShare:    gr.CPUShare1s,
			IOShare:     float64(gr.IOReadBytes+gr.IOWriteBytes) / (1 << 20),
			Focused:     gr.IsFocusedGroup,
			AudioActive: groupIsAudioActive(snap, gr),
		})
	}
	scores, err := e.rank.Score(snap.TickSeq, feats)
	if err != nil {
		return nil, err
	}
	pcts := toPercentiles(scores)
	out := make(map[string]model.PriorityClass, len(gids))
	for i, gid := range gids {
		out[gid] = classFromPercentile(e.cfg.Thresholds, pcts[i])
	}
	return out, nil
}

func classFromPercentile(th Thresholds, pct float64) model.PriorityClass {
	switch {
	case pct >= th.CritInteractivePercentile:
		return model.CritInteractive
	case pct >= th.InteractivePercentile:
		return model.Interactive
	case pct >= th.NormalPercentile:
		return model.Normal
	case pct >= th.BackgroundPercentile:
		return model.Background
	default:
		return model.Idle
	}
}

// toPercentiles ranks scores and converts each to its percentile within
// the set (0..1), with ties receiving the same percentile.
func toPercentiles(scores []float64) []float64 {
	n := len(scores)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })
	for rank, i := range idx {
		out[i] = float64(rank) / float64(n-1)
		if n == 1 {
			out[i] = 1
		}
	}
	return out
}
