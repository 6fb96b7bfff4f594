// Package actuator applies committed PriorityClass decisions to the kernel:
// cgroup placement and weight, nice, and ionice, in the spec-mandated field
// order, with originals tracked for rollback.
package actuator

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/smoothtask/smoothtask/internal/model"
	"github.com/smoothtask/smoothtask/internal/procfs"
)

// Target is one pid's knob state to converge toward.
type Target struct {
	PID        int
	GroupID    string
	CgroupPath string // managed cgroup directory for this pid's group, "" if ungrouped
	Class      model.PriorityClass
	Protected  bool // present in the config's protect-list; skipped entirely
}

// original is the first-observed knob state for a pid, captured once and
// never overwritten, per invariant I6 (restoring must recover pre-management
// values even across many subsequent ticks).
type original struct {
	nice     int
	ioClass  int
	ioLevel  int
	cgroup   string
	captured bool
}

// knobFailure is the per-(pid,knob) retry/suppression bookkeeping from
// spec.md 4.6/7: a transient failure is retried up to maxTransientRetries
// ticks before giving up; a permission failure is logged once and never
// retried. Either way, once suppressed is set the knob is silently skipped
// on every later tick until the pid is forgotten (exit or group dissolve).
type knobFailure struct {
	attempts   int
	suppressed bool
}

// maxTransientRetries bounds how many ticks a transient knob-write failure
// (e.g. ESRCH-adjacent races, EAGAIN, a busy cgroup) is retried before the
// Actuator gives up on it for that pid.
const maxTransientRetries = 3

// Actuator converges observed process state toward policy decisions.
type Actuator struct {
	mu           sync.RWMutex
	originals    map[int]*original       // keyed by pid, set-once
	knobFailures map[string]*knobFailure // keyed by "pid:knob"

	procRoot   string
	cgroupRoot string // parent directory under which managed group cgroups live
	dryRun     bool
}

// CgroupRoot returns the parent directory under which managed group
// cgroups are created, for callers (the loop supervisor) that need to
// compute a target's managed cgroup path before calling Apply.
func (a *Actuator) CgroupRoot() string {
	return a.cgroupRoot
}

// cgroupFSRoot is the standard cgroup v2 unified hierarchy mountpoint, the
// base that /proc/[pid]/cgroup's "0::<path>" entries are relative to.
const cgroupFSRoot = "/sys/fs/cgroup"

func New(cgroupRoot string, dryRun bool) *Actuator {
	return &Actuator{
		originals:    make(map[int]*original),
		knobFailures: make(map[string]*knobFailure),
		procRoot:     "/proc",
		cgroupRoot:   cgroupRoot,
		dryRun:       dryRun,
	}
}

// Apply converges every target in field order: cgroup move, cpu_weight,
// nice, ionice; cpu.max is not written. Per-target failures are collected,
// not fatal to the batch; a vanished pid is silently skipped (Open Question (c)).
func (a *Actuator) Apply(targets []Target) []error {
	var errs []error
	for _, t := range targets {
		if t.Protected {
			continue
		}
		if errs2 := a.applyOne(t); len(errs2) > 0 {
			for _, err := range errs2 {
				if ae, ok := err.(*model.ActuationError); ok && ae.Kind == model.ActuationVanished {
					continue
				}
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// applyOne walks the knobs in field order and stops at the first one that
// fails, leaving the later knobs for the next tick. A knob that attemptKnob
// has suppressed counts as no failure, so the knobs after it still run.
func (a *Actuator) applyOne(t Target) []error {
	if !procfs.PIDAlive(a.procRoot, t.PID) {
		return []error{&model.ActuationError{PID: t.PID, Knob: "exists", Kind: model.ActuationVanished, Err: fmt.Errorf("pid %d gone", t.PID)}}
	}

	a.captureOriginal(t)

	params := model.ClassTable[t.Class]

	if t.CgroupPath != "" {
		if err := a.attemptKnob(t.PID, "cgroup", func() error { return a.moveToGroupCgroup(t) }); err != nil {
			return []error{err}
		} else if !a.dryRun {
			if err := a.attemptKnob(t.PID, "cpu_weight", func() error { return procfs.WriteCgroupWeight(t.CgroupPath, params.CPUWeight) }); err != nil {
				return []error{err}
			}
		}
	}

	if !a.dryRun {
		if err := a.attemptKnob(t.PID, "nice", func() error { return unix.Setpriority(unix.PRIO_PROCESS, t.PID, params.Nice) }); err != nil {
			return []error{err}
		}
		if err := a.attemptKnob(t.PID, "ionice", func() error {
			if err := setIOPrio(t.PID, params.IOClass, params.IOLevel); err != nil {
				return err
			}
			return nil
		}); err != nil {
			return []error{err}
		}
	}

	return nil
}

// attemptKnob runs fn for (pid, knob), applying the spec.md 4.6/7 retry
// taxonomy: a permission failure is returned once, then the knob is
// suppressed for this pid until Forget; a transient failure is returned
// and retried on subsequent ticks up to maxTransientRetries, after which it
// is likewise suppressed. A knob already suppressed is skipped silently
// (nil, no error) rather than retried or re-logged. A success clears any
// prior failure bookkeeping for the knob.
func (a *Actuator) attemptKnob(pid int, knob string, fn func() error) error {
	key := fmt.Sprintf("%d:%s", pid, knob)

	a.mu.Lock()
	if kf, ok := a.knobFailures[key]; ok && kf.suppressed {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	err := fn()
	if err == nil {
		a.mu.Lock()
		delete(a.knobFailures, key)
		a.mu.Unlock()
		return nil
	}

	kind := classifyErr(err)
	ae := &model.ActuationError{PID: pid, Knob: knob, Kind: kind, Err: err}

	a.mu.Lock()
	defer a.mu.Unlock()
	kf, ok := a.knobFailures[key]
	if !ok {
		kf = &knobFailure{}
		a.knobFailures[key] = kf
	}
	kf.attempts++
	switch kind {
	case model.ActuationPermission:
		kf.suppressed = true
	case model.ActuationTransient:
		if kf.attempts >= maxTransientRetries {
			kf.suppressed = true
		}
	}
	return ae
}

// captureOriginal records the pid's pre-management state exactly once. A
// second Apply call for the same pid is a no-op here regardless of how many
// ticks have passed, satisfying I6.
func (a *Actuator) captureOriginal(t Target) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.originals[t.PID]; ok {
		return
	}
	o := &original{captured: true}
	// getpriority(2)'s raw syscall returns 20-nice, unlike glibc's wrapper.
	if pri, err := unix.Getpriority(unix.PRIO_PROCESS, t.PID); err == nil {
		o.nice = 20 - pri
	}
	if class, level, err := getIOPrio(t.PID); err == nil {
		o.ioClass, o.ioLevel = class, level
	}
	if cg, err := procfs.ReadProcCgroup(a.procRoot, t.PID); err == nil {
		o.cgroup = cg
	}
	a.originals[t.PID] = o
}

// moveToGroupCgroup returns plain errors; attemptKnob is responsible for
// classifying and wrapping them into *model.ActuationError.
func (a *Actuator) moveToGroupCgroup(t Target) error {
	if a.dryRun {
		return nil
	}
	dir := filepath.Join(a.cgroupRoot, t.GroupID)
	if err := procfs.EnsureCgroup(dir); err != nil {
		return err
	}
	return procfs.MoveToCgroup(dir, t.PID)
}

// Rollback restores every captured original for pids still alive, then
// forgets them. Called at shutdown; a pid that has since exited is silently
// skipped (Open Question (c): rollback finds the pid gone and moves on).
// All three knobs are restored (nice, ionice, cgroup membership), and the
// pid's prior managed cgroup is removed afterward if it is now empty,
// satisfying the "fully reversible" invariant of spec.md 1 and 4.6.
func (a *Actuator) Rollback() []error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	touchedCgroups := make(map[string]bool)
	for pid, o := range a.originals {
		if !procfs.PIDAlive(a.procRoot, pid) {
			delete(a.originals, pid)
			continue
		}
		if err := unix.Setpriority(unix.PRIO_PROCESS, pid, o.nice); err != nil {
			errs = append(errs, &model.ActuationError{PID: pid, Knob: "nice", Kind: classifyErr(err), Err: err})
		}
		if err := setIOPrio(pid, o.ioClass, o.ioLevel); err != nil {
			errs = append(errs, &model.ActuationError{PID: pid, Knob: "ionice", Kind: classifyErr(err), Err: err})
		}
		if o.cgroup != "" {
			if cur, err := procfs.ReadProcCgroup(a.procRoot, pid); err == nil && cur != o.cgroup {
				touchedCgroups[filepath.Join(cgroupFSRoot, cur)] = true
				if err := procfs.MoveToCgroup(filepath.Join(cgroupFSRoot, o.cgroup), pid); err != nil {
					errs = append(errs, &model.ActuationError{PID: pid, Knob: "cgroup", Kind: classifyErr(err), Err: err})
				}
			}
		}
		delete(a.originals, pid)
	}
	for cgDir := range touchedCgroups {
		if procfs.CgroupEmpty(cgDir) {
			_ = procfs.RemoveCgroup(cgDir)
		}
	}
	return errs
}

// Forget drops tracked state for a pid without restoring it. No code in the
// daemon calls it, so the originals of a pid that exits stay tracked until
// Rollback, which drops them. This also clears any
// suppressed/retrying knob bookkeeping, so a pid id reused by a later
// process starts with a clean retry budget.
func (a *Actuator) Forget(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.originals, pid)
	prefix := fmt.Sprintf("%d:", pid)
	for key := range a.knobFailures {
		if strings.HasPrefix(key, prefix) {
			delete(a.knobFailures, key)
		}
	}
}

// setIOPrio issues the raw ioprio_set syscall (no x/sys/unix wrapper exists
// for it): ioprio_set(IOPRIO_WHO_PROCESS, pid, class<<13 | level).
func setIOPrio(pid, class, level int) error {
	const ioprioWhoProcess = 1
	prio := (class << 13) | (level & 0x1fff)
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, uintptr(ioprioWhoProcess), uintptr(pid), uintptr(prio))
	if errno != 0 {
		return errno
	}
	return nil
}

// getIOPrio issues the raw ioprio_get syscall, also unwrapped by
// x/sys/unix: ioprio_get(IOPRIO_WHO_PROCESS, pid) returns class<<13|level
// packed into its return value rather than an out-parameter.
func getIOPrio(pid int) (class, level int, err error) {
	const ioprioWhoProcess = 1
	r1, _, errno := unix.Syscall(unix.SYS_IOPRIO_GET, uintptr(ioprioWhoProcess), uintptr(pid), 0)
	if errno != 0 {
		return 0, 0, errno
	}
	prio := int(r1)
	return prio >> 13, prio & 0x1fff, nil
}

func classifyErr(err error) model.ActuationFailureKind {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EPERM, unix.EACCES:
			return model.ActuationPermission
		case unix.ESRCH:
			return model.ActuationVanished
		}
	}
	return model.ActuationTransient
}
