package procfs

import "strings"

// CPUTimes is one line of /proc/stat (the aggregate "cpu" line or a
// per-core "cpuN" line).
type CPUTimes struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
}

// Total returns the sum of all ticks, the denominator for CPUPct.
func (c CPUTimes) Total() uint64 {
	return c.User + c.Nice + c.System + c.Idle + c.IOWait + c.IRQ + c.SoftIRQ + c.Steal
}

// Active returns ticks spent doing work (everything but idle and iowait).
func (c CPUTimes) Active() uint64 {
	return c.Total() - c.Idle - c.IOWait
}

// ReadGlobalCPUTimes reads the aggregate "cpu" line from /proc/stat.
func ReadGlobalCPUTimes(root string) (CPUTimes, error) {
	var c CPUTimes
	lines, err := ReadFileLines(root + "/stat")
	if err != nil {
		return c, err
	}
	for _, l := range lines {
		if strings.HasPrefix(l, "cpu ") {
			f := strings.Fields(l)
			get := func(i int) uint64 {
				if i < len(f) {
					return ParseUint64(f[i])
				}
				return 0
			}
			c.User = get(1)
			c.Nice = get(2)
			c.System = get(3)
			c.Idle = get(4)
			c.IOWait = get(5)
			c.IRQ = get(6)
			c.SoftIRQ = get(7)
			c.Steal = get(8)
			return c, nil
		}
	}
	return c, errNotFound("cpu line")
}

// ReadLoadAvg reads /proc/loadavg.
func ReadLoadAvg(root string) (one, five, fifteen float64, err error) {
	s, err := ReadFileString(root + "/loadavg")
	if err != nil {
		return 0, 0, 0, err
	}
	f := strings.Fields(s)
	if len(f) < 3 {
		return 0, 0, 0, errNotFound("loadavg fields")
	}
	return ParseFloat64(f[0]), ParseFloat64(f[1]), ParseFloat64(f[2]), nil
}

// MemInfo is the subset of /proc/meminfo the Sampler needs, in kB.
type MemInfo struct {
	MemTotal     uint64
	MemAvailable uint64
	SwapTotal    uint64
	SwapFree     uint64
}

// ReadMemInfo reads /proc/meminfo.
func ReadMemInfo(root string) (MemInfo, error) {
	var m MemInfo
	kv, err := ParseKeyValueFile(root + "/meminfo")
	if err != nil {
		return m, err
	}
	m.MemTotal = ParseUint64(kv["MemTotal"])
	m.MemAvailable = ParseUint64(kv["MemAvailable"])
	m.SwapTotal = ParseUint64(kv["SwapTotal"])
	m.SwapFree = ParseUint64(kv["SwapFree"])
	return m, nil
}

type procfsError string

func (e procfsError) Error() string { return string(e) }

func errNotFound(what string) error { return procfsError("not found: " + what) }
