package procfs

import (
	"fmt"
	"strings"

	"github.com/smoothtask/smoothtask/internal/model"
)

// ReadPSIFile reads a /proc/pressure/{cpu,memory,io} file.
// Format: "some avg10=0.00 avg60=0.00 avg300=0.00 total=0"
//         "full avg10=0.00 avg60=0.00 avg300=0.00 total=0" (absent for cpu)
func ReadPSIFile(path string) (model.PSILine, error) {
	var res model.PSILine
	content, err := ReadFileString(path)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		val, isFull, err := parsePSILine(line)
		if err != nil {
			continue
		}
		if isFull {
			res.Full = val
		} else {
			res.Some = val
		}
	}
	return res, nil
}

func parsePSILine(line string) (model.PSIValue, bool, error) {
	var pv model.PSIValue
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return pv, false, fmt.Errorf("unexpected PSI line: %s", line)
	}
	isFull := fields[0] == "full"

	for _, f := range fields[1:] {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "avg10":
			pv.Avg10 = ParseFloat64(parts[1])
		case "avg60":
			pv.Avg60 = ParseFloat64(parts[1])
		case "avg300":
			pv.Avg300 = ParseFloat64(parts[1])
		case "total":
			pv.Total = ParseUint64(parts[1])
		}
	}
	return pv, isFull, nil
}

// ReadPSI reads all three pressure-stall files under root (typically
// "/proc/pressure"). Missing files (older kernels, or PSI disabled) are
// tolerated: the corresponding PSILine stays zero and the error is
// returned so the Sampler can mark the source unavailable without failing
// the whole tick.
func ReadPSI(root string) (model.PSI, error) {
	var psi model.PSI
	var firstErr error

	if v, err := ReadPSIFile(root + "/cpu"); err != nil {
		firstErr = err
	} else {
		psi.CPU = v
	}
	if v, err := ReadPSIFile(root + "/memory"); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		psi.Memory = v
	}
	if v, err := ReadPSIFile(root + "/io"); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		psi.IO = v
	}
	return psi, firstErr
}
