package procfs

import (
	"os"
	"strconv"
	"strings"
)

// ProcStat is the subset of /proc/[pid]/stat fields the Sampler needs.
// Field numbering follows proc(5); comm is extracted by matching the last
// ')' since command names may themselves contain parentheses or spaces.
type ProcStat struct {
	PID       int
	Comm      string
	State     byte
	PPID      int
	TTYNr     int
	Utime     uint64
	Stime     uint64
	StartTime uint64
	NumThreads int64
}

// ReadProcStat reads and parses /proc/[pid]/stat.
func ReadProcStat(root string, pid int) (ProcStat, error) {
	var ps ProcStat
	data, err := os.ReadFile(root + "/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return ps, err
	}
	line := string(data)

	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return ps, os.ErrInvalid
	}
	ps.PID = ParseInt(line[:open])
	ps.Comm = line[open+1 : close]

	rest := strings.Fields(line[close+1:])
	// rest[0] = state, rest[1] = ppid, ... 1-indexed from field 3 overall.
	if len(rest) < 20 {
		return ps, os.ErrInvalid
	}
	ps.State = rest[0][0]
	ps.PPID = ParseInt(rest[1])
	ps.TTYNr = ParseInt(rest[4])
	ps.Utime = ParseUint64(rest[11])
	ps.Stime = ParseUint64(rest[12])
	ps.NumThreads = int64(ParseUint64(rest[17]))
	ps.StartTime = ParseUint64(rest[19])
	return ps, nil
}

// ProcIO is the subset of /proc/[pid]/io this package reads.
type ProcIO struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// ReadProcIO reads /proc/[pid]/io. Missing or permission-denied files (the
// common case for processes owned by other users) yield a zero value and
// the underlying error, which callers treat as a stale-field condition
// rather than aborting the tick.
func ReadProcIO(root string, pid int) (ProcIO, error) {
	var io ProcIO
	kv, err := ParseKeyValueFile(root + "/" + strconv.Itoa(pid) + "/io")
	if err != nil {
		return io, err
	}
	io.ReadBytes = ParseUint64(kv["read_bytes"])
	io.WriteBytes = ParseUint64(kv["write_bytes"])
	return io, nil
}

// ProcStatus is the subset of /proc/[pid]/status this package reads.
type ProcStatus struct {
	UID            int
	VmRSSKb        uint64
	VmSwapKb       uint64
	VoluntaryCtx   uint64
	InvoluntaryCtx uint64
}

// ReadProcStatus reads /proc/[pid]/status.
func ReadProcStatus(root string, pid int) (ProcStatus, error) {
	var st ProcStatus
	kv, err := ParseKeyValueFile(root + "/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return st, err
	}
	if uidLine, ok := kv["Uid"]; ok {
		fields := strings.Fields(uidLine)
		if len(fields) > 0 {
			st.UID = ParseInt(fields[0])
		}
	}
	st.VmRSSKb = ParseUint64(kv["VmRSS"])
	st.VmSwapKb = ParseUint64(kv["VmSwap"])
	st.VoluntaryCtx = ParseUint64(kv["voluntary_ctxt_switches"])
	st.InvoluntaryCtx = ParseUint64(kv["nonvoluntary_ctxt_switches"])
	return st, nil
}

// ReadProcCmdline reads /proc/[pid]/cmdline and splits on NUL bytes.
func ReadProcCmdline(root string, pid int) ([]string, error) {
	data, err := os.ReadFile(root + "/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// ReadProcExe resolves /proc/[pid]/exe.
func ReadProcExe(root string, pid int) (string, error) {
	return os.Readlink(root + "/" + strconv.Itoa(pid) + "/exe")
}

// ReadProcCgroup resolves the unified cgroup v2 path from /proc/[pid]/cgroup.
// On a pure v2 hierarchy there is exactly one line, "0::<path>".
func ReadProcCgroup(root string, pid int) (string, error) {
	lines, err := ReadFileLines(root + "/" + strconv.Itoa(pid) + "/cgroup")
	if err != nil {
		return "", err
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "0::") {
			return strings.TrimPrefix(l, "0::"), nil
		}
	}
	if len(lines) > 0 {
		idx := strings.Index(lines[0], ":")
		if idx >= 0 {
			parts := strings.SplitN(lines[0][idx+1:], ":", 2)
			if len(parts) == 2 {
				return parts[1], nil
			}
		}
	}
	return "", os.ErrNotExist
}

// ReadProcEnviron reads /proc/[pid]/environ and returns it as a key/value
// map. Requires matching uid or CAP_SYS_PTRACE for foreign processes; a
// permission error here is expected and non-fatal.
func ReadProcEnviron(root string, pid int) (map[string]string, error) {
	data, err := os.ReadFile(root + "/" + strconv.Itoa(pid) + "/environ")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, kv := range strings.Split(string(data), "\x00") {
		if kv == "" {
			continue
		}
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		out[kv[:idx]] = kv[idx+1:]
	}
	return out, nil
}

// PIDAlive reports whether root/pid still exists. Used by the Actuator to
// detect a target that vanished between Sample and Apply.
func PIDAlive(root string, pid int) bool {
	_, err := os.Stat(root + "/" + strconv.Itoa(pid))
	return err == nil
}

// ListPIDs enumerates the numeric entries directly under procRoot.
func ListPIDs(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
