// Package classifier assigns a process_type and tag set to each process
// and aggregates to its group, per spec.md 4.3. The pattern stage is a
// first-match table; the heuristic stage and ML merge are modeled on the
// weighted-evidence accumulation pattern in identity/classify.go, adapted
// from role scoring to per-process type assignment.
package classifier

import (
	"sort"
	"strings"

	"github.com/smoothtask/smoothtask/internal/model"
)

// MLResult is what an optional ML classifier returns for one process.
type MLResult struct {
	Type       model.ProcessType
	Tags       []string
	Confidence float64
}

// MLClassifier is the abstract contract for an optional ML stage. A nil
// MLClassifier disables the ML stage entirely.
type MLClassifier interface {
	Classify(p model.ProcessRecord) (MLResult, error)
}

// mlConfidenceThreshold is the merge rule's cutoff: ML's type replaces the
// pattern/heuristic type only above this confidence.
const mlConfidenceThreshold = 0.7

// Classifier holds the loaded pattern database and optional ML stage. The
// pattern database is treated as immutable by consumers; Reload swaps the
// slice pointer atomically at tick boundaries per the design notes.
type Classifier struct {
	patterns []Pattern
	ml       MLClassifier
}

// New constructs a Classifier. Pass a nil MLClassifier to run
// pattern+heuristic only.
func New(patterns []Pattern, ml MLClassifier) *Classifier {
	byCategoryPriority := append([]Pattern(nil), patterns...)
	sort.SliceStable(byCategoryPriority, func(i, j int) bool {
		if byCategoryPriority[i].Category != byCategoryPriority[j].Category {
			return byCategoryPriority[i].Category < byCategoryPriority[j].Category
		}
		return byCategoryPriority[i].Priority < byCategoryPriority[j].Priority
	})
	return &Classifier{patterns: byCategoryPriority, ml: ml}
}

// Reload atomically swaps the pattern database.
func (c *Classifier) Reload(patterns []Pattern) {
	byCategoryPriority := append([]Pattern(nil), patterns...)
	sort.SliceStable(byCategoryPriority, func(i, j int) bool {
		if byCategoryPriority[i].Category != byCategoryPriority[j].Category {
			return byCategoryPriority[i].Category < byCategoryPriority[j].Category
		}
		return byCategoryPriority[i].Priority < byCategoryPriority[j].Priority
	})
	c.patterns = byCategoryPriority
}

// Classify assigns process_type and tags to every process in the snapshot,
// then aggregates group-level type and tags.
func (c *Classifier) Classify(snap *model.Snapshot) {
	for i := range snap.Processes {
		c.classifyOne(&snap.Processes[i])
	}
	for i := range snap.Groups {
		aggregateGroup(&snap.Groups[i], snap)
	}
}

func (c *Classifier) classifyOne(p *model.ProcessRecord) {
	matchedType, matchedTags, matched := c.matchPattern(*p)
	if !matched {
		matchedType, matchedTags = heuristic(*p)
	}

	finalType := matchedType
	finalTags := matchedTags

	if c.ml != nil {
		res, err := c.ml.Classify(*p)
		if err != nil {
			p.ClassifyWarning = "ml classify error: " + err.Error()
		} else {
			finalTags = unionSortedTags(finalTags, res.Tags)
			if res.Confidence > mlConfidenceThreshold && res.Type != "" {
				finalType = res.Type
			} else if res.Confidence == mlConfidenceThreshold {
				p.ClassifyWarning = "ml confidence tie at threshold"
			}
		}
	}

	if finalType == "" {
		finalType = model.TypeOther
	}
	p.ProcessType = finalType
	p.Tags = finalTags
}

// matchPattern runs the first-match-within-category-then-priority-order
// search. Patterns were sorted by (Category, Priority) at load time, so a
// single forward scan realizes that precedence.
func (c *Classifier) matchPattern(p model.ProcessRecord) (model.ProcessType, []string, bool) {
	seenCategory := make(map[string]bool)
	for _, pt := range c.patterns {
		if seenCategory[pt.Category] {
			continue
		}
		if pt.Matches(p) {
			seenCategory[pt.Category] = true
			return pt.Type, append([]string(nil), pt.Tags...), true
		}
	}
	return "", nil, false
}

// heuristic derives a type from context when no pattern matched, per
// spec.md 4.3's heuristic stage.
func heuristic(p model.ProcessRecord) (model.ProcessType, []string) {
	switch {
	case p.TTYNr != 0 && p.EnvTerm != "":
		return model.TypeCLIInteractive, nil
	case p.HasGUIWindow && (p.IsFocusedWindow || p.WindowState == model.WindowNormal):
		return model.TypeGUIInteractive, nil
	case p.TTYNr == 0 && !p.HasGUIWindow && strings.Contains(p.CgroupPath, "system.slice"):
		return model.TypeSystemService, nil
	case p.CPUShare10s > 0.6 && !p.HasGUIWindow:
		return model.TypeBatchHeavy, nil
	default:
		return model.TypeOther, nil
	}
}

func unionSortedTags(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		set[t] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func aggregateGroup(gr *model.AppGroupRecord, snap *model.Snapshot) {
	best := -1
	tagSet := make(map[string]bool)
	for _, pid := range gr.Members {
		idx := snap.ProcessByPID(pid)
		if idx < 0 {
			continue
		}
		p := snap.Processes[idx]
		for _, t := range p.Tags {
			tagSet[t] = true
		}
		rank := typeRank(p.ProcessType)
		if best == -1 || rank < best {
			best = rank
			gr.GroupType = p.ProcessType
		}
	}
	tags := make([]string, 0, len(tagSet)+len(gr.Tags))
	for _, t := range gr.Tags {
		tagSet[t] = true
	}
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	gr.Tags = tags
}

func typeRank(t model.ProcessType) int {
	for i, candidate := range model.TypePrecedence {
		if candidate == t {
			return i
		}
	}
	return len(model.TypePrecedence)
}
