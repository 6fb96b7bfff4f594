// Package grouper clusters processes into AppGroups with stable ids across
// ticks, per spec.md 4.2.
package grouper

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/smoothtask/smoothtask/internal/model"
)

// Grouper assigns a stable group_id to each process.
type Grouper struct {
	// keyToID remembers the group id chosen for a grouping key, so the id
	// stays stable even as the "earliest start_time" component would
	// otherwise need recomputation once the founding pid exits.
	keyToID map[string]string
	// noKeyID covers pids with no derivable key at all (e.g. a kernel
	// thread reparented to pid 2); each gets its own stable per-pid id.
	noKeyID map[int]string
}

// New constructs an empty Grouper.
func New() *Grouper {
	return &Grouper{
		keyToID: make(map[string]string),
		noKeyID: make(map[int]string),
	}
}

// Group assigns group ids to every process in the snapshot and builds the
// AppGroupRecord aggregates. parentOf and guiAncestor let tests and the
// loop supervisor supply ancestor-chain lookups without this package
// depending on a live /proc walk.
func (g *Grouper) Group(snap *model.Snapshot, parentOf map[int]int, guiAncestor map[int]bool) {
	keyOf := make(map[int]string, len(snap.Processes))
	startTimeOf := make(map[int]uint64, len(snap.Processes))
	for _, p := range snap.Processes {
		startTimeOf[p.PID] = p.StartTime
		keyOf[p.PID] = g.groupingKey(p, parentOf, guiAncestor)
	}

	// Earliest start_time per key, to keep the id stable regardless of
	// iteration order.
	earliest := make(map[string]uint64)
	for pid, key := range keyOf {
		if key == "" {
			continue
		}
		if st, ok := earliest[key]; !ok || startTimeOf[pid] < st {
			earliest[key] = startTimeOf[pid]
		}
	}

	groups := make(map[string]*model.AppGroupRecord)
	for i := range snap.Processes {
		p := &snap.Processes[i]
		key := keyOf[p.PID]
		var gid string
		if key == "" {
			gid, _ = g.noKeyID[p.PID]
			if gid == "" {
				gid = "noop-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(strconv.Itoa(p.PID))).String()
				g.noKeyID[p.PID] = gid
			}
		} else {
			gid = g.stableID(key, earliest[key])
		}
		p.GroupID = gid

		gr, ok := groups[gid]
		if !ok {
			gr = &model.AppGroupRecord{GroupID: gid, RootPID: p.PID}
			groups[gid] = gr
		}
		gr.Members = append(gr.Members, p.PID)
		if isRootCandidate(p, parentOf, groups, gid) {
			if gr.RootPID == 0 || p.StartTime < startTimeOf[gr.RootPID] {
				gr.RootPID = p.PID
			}
		}
	}

	out := make([]model.AppGroupRecord, 0, len(groups))
	for _, gr := range groups {
		aggregate(gr, snap)
		out = append(out, *gr)
	}
	snap.Groups = out
}

// groupingKey derives the first non-empty of: systemd unit, first
// significant cgroup path segment, ancestor chain up to a GUI-owning
// ancestor or session-scope boundary. Tie-break precedence when multiple
// ancestors could root a group: explicit container cgroup > systemd
// user-scope > GUI ancestor > parent pid, implemented here as the order in
// which each source is tried.
func (g *Grouper) groupingKey(p model.ProcessRecord, parentOf map[int]int, guiAncestor map[int]bool) string {
	if containerID := containerCgroupSegment(p.CgroupPath); containerID != "" {
		return "container:" + containerID
	}
	if p.SystemdUnit != "" {
		return "unit:" + p.SystemdUnit
	}
	if seg := firstSignificantCgroupSegment(p.CgroupPath); seg != "" {
		return "cgroup:" + seg
	}
	if guiAncestor != nil {
		if anc, ok := ancestorUntilGUI(p.PID, parentOf, guiAncestor); ok {
			return "gui:" + strconv.Itoa(anc)
		}
	}
	if parent, ok := parentOf[p.PID]; ok && parent > 1 {
		return "parent:" + strconv.Itoa(parent)
	}
	return ""
}

func containerCgroupSegment(cgPath string) string {
	segs := strings.Split(strings.Trim(cgPath, "/"), "/")
	for _, s := range segs {
		if len(s) == 64 && isHex(s) {
			return s
		}
		if strings.HasPrefix(s, "docker-") && strings.HasSuffix(s, ".scope") {
			return s
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func firstSignificantCgroupSegment(cgPath string) string {
	segs := strings.Split(strings.Trim(cgPath, "/"), "/")
	for _, s := range segs {
		if s == "" || s == "user.slice" || s == "system.slice" {
			continue
		}
		return s
	}
	return ""
}

func ancestorUntilGUI(pid int, parentOf map[int]int, guiAncestor map[int]bool) (int, bool) {
	cur := pid
	for i := 0; i < 64; i++ {
		parent, ok := parentOf[cur]
		if !ok || parent <= 1 {
			return 0, false
		}
		if guiAncestor[parent] {
			return parent, true
		}
		cur = parent
	}
	return 0, false
}

// stableID hashes the grouping key plus the earliest start_time seen for
// that key, so the id survives founding-pid exit as long as the key
// persists.
func (g *Grouper) stableID(key string, earliestStart uint64) string {
	if id, ok := g.keyToID[key]; ok {
		return id
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte(strconv.FormatUint(earliestStart, 10)))
	id := strconv.FormatUint(h.Sum64(), 16)
	g.keyToID[key] = id
	return id
}

// isRootCandidate reports whether p's parent lies outside its own group,
// the definition of root_pid from spec.md 4.2.
func isRootCandidate(p *model.ProcessRecord, parentOf map[int]int, groups map[string]*model.AppGroupRecord, gid string) bool {
	parent, ok := parentOf[p.PID]
	if !ok {
		return true
	}
	for otherGid, gr := range groups {
		if otherGid != gid {
			continue
		}
		for _, m := range gr.Members {
			if m == parent {
				return false
			}
		}
	}
	return true
}

func aggregate(gr *model.AppGroupRecord, snap *model.Snapshot) {
	tagSet := make(map[string]bool)
	for _, pid := range gr.Members {
		idx := snap.ProcessByPID(pid)
		if idx < 0 {
			continue
		}
		p := snap.Processes[idx]
		gr.CPUShare1s += p.CPUShare1s
		gr.CPUShare10s += p.CPUShare10s
		gr.IOReadBytes += p.IOReadBytes
		gr.IOWriteBytes += p.IOWriteBytes
		gr.RSSMB += p.RSSMB
		if p.HasGUIWindow {
			gr.HasGUIWindow = true
		}
		if p.IsFocusedWindow {
			gr.IsFocusedGroup = true
		}
		for _, tag := range p.Tags {
			tagSet[tag] = true
		}
		if gr.AppName == "" && p.Exe != "" {
			gr.AppName = baseName(p.Exe)
		}
	}
	for t := range tagSet {
		gr.Tags = append(gr.Tags, t)
	}
}

func baseName(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// Forget releases bookkeeping for a group id once its last pid has exited
// and no new pid has claimed its key, per the AppGroup lifecycle rule.
func (g *Grouper) Forget(key string) {
	delete(g.keyToID, key)
}
