package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CgroupStat is the subset of cgroup v2 cpu.stat this package reads.
type CgroupStat struct {
	UsageUsec     uint64
	UserUsec      uint64
	SystemUsec    uint64
	ThrottledUsec uint64
	NrThrottled   uint64
	NrPeriods     uint64
}

// ReadCgroupCPUStat reads cpu.stat from a cgroup v2 directory.
func ReadCgroupCPUStat(cgDir string) (CgroupStat, error) {
	var cg CgroupStat
	kv, err := ParseKeyValueFile(filepath.Join(cgDir, "cpu.stat"))
	if err != nil {
		return cg, err
	}
	cg.UsageUsec = ParseUint64(kv["usage_usec"])
	cg.UserUsec = ParseUint64(kv["user_usec"])
	cg.SystemUsec = ParseUint64(kv["system_usec"])
	cg.ThrottledUsec = ParseUint64(kv["throttled_usec"])
	cg.NrThrottled = ParseUint64(kv["nr_throttled"])
	cg.NrPeriods = ParseUint64(kv["nr_periods"])
	return cg, nil
}

// ReadCgroupWeight reads cpu.weight (default 100 on read failure, matching
// the kernel's own default for a freshly created cgroup).
func ReadCgroupWeight(cgDir string) int {
	s, err := ReadFileString(filepath.Join(cgDir, "cpu.weight"))
	if err != nil {
		return 100
	}
	return ParseInt(strings.TrimSpace(s))
}

// ReadCgroupMax reads cpu.max, returning the raw string ("max" or "<quota> <period>").
func ReadCgroupMax(cgDir string) string {
	s, err := ReadFileString(filepath.Join(cgDir, "cpu.max"))
	if err != nil {
		return "max"
	}
	return strings.TrimSpace(s)
}

// WriteCgroupWeight writes cpu.weight, valid range [1, 10000] per
// cgroup-v2.txt (the spec's own guardrail range of [10, 10000] is a subset).
func WriteCgroupWeight(cgDir string, weight int) error {
	if weight < 1 || weight > 10000 {
		return fmt.Errorf("cpu.weight %d out of range", weight)
	}
	return os.WriteFile(filepath.Join(cgDir, "cpu.weight"), []byte(strconv.Itoa(weight)), 0644)
}

// WriteCgroupMax writes cpu.max as "<quotaUsec> <periodUsec>", or "max" if
// quotaUsec < 0 to mean unlimited.
func WriteCgroupMax(cgDir string, quotaUsec, periodUsec int64) error {
	val := "max"
	if quotaUsec >= 0 {
		val = fmt.Sprintf("%d %d", quotaUsec, periodUsec)
	}
	return os.WriteFile(filepath.Join(cgDir, "cpu.max"), []byte(val), 0644)
}

// MoveToCgroup writes pid into cgDir/cgroup.procs, a single atomic move.
func MoveToCgroup(cgDir string, pid int) error {
	return os.WriteFile(filepath.Join(cgDir, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0644)
}

// EnsureCgroup creates cgDir (and parents) if absent.
func EnsureCgroup(cgDir string) error {
	return os.MkdirAll(cgDir, 0755)
}

// CgroupEmpty reports whether cgDir's cgroup.procs is empty, i.e. it is
// safe to rmdir.
func CgroupEmpty(cgDir string) bool {
	lines, err := ReadFileLines(filepath.Join(cgDir, "cgroup.procs"))
	if err != nil {
		return true
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

// RemoveCgroup removes an empty managed cgroup directory, returning
// os.Remove's error unchanged (the Rollback caller ignores it).
func RemoveCgroup(cgDir string) error {
	return os.Remove(cgDir)
}
