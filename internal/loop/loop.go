// Package loop runs the tick supervisor: Sampler -> Grouper -> Classifier ->
// Policy Engine -> Actuator -> Snapshot Logger, once per configured
// interval, with a bounded worker pool for any per-tick fan-out and a
// deadline that skips (never queues) an overrun tick.
package loop

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/smoothtask/smoothtask/internal/actuator"
	"github.com/smoothtask/smoothtask/internal/classifier"
	"github.com/smoothtask/smoothtask/internal/grouper"
	"github.com/smoothtask/smoothtask/internal/model"
	"github.com/smoothtask/smoothtask/internal/notify"
	"github.com/smoothtask/smoothtask/internal/policy"
	"github.com/smoothtask/smoothtask/internal/sampler"
	"github.com/smoothtask/smoothtask/internal/snapshotlog"
)

// Config bundles the Supervisor's tunables.
type Config struct {
	Interval     time.Duration
	TickDeadline time.Duration // if exceeded, the tick's decisions are skipped
	MaxWorkers   int64         // bounded worker-pool width for per-tick fan-out
}

// Supervisor wires every stage together and drives the tick loop.
type Supervisor struct {
	cfg Config

	sampler    *sampler.Sampler
	grouper    *grouper.Grouper
	classifier *classifier.Classifier
	policy     *policy.Engine
	actuator   *actuator.Actuator
	store      *snapshotlog.Store
	notifier   notify.Notifier
	logger     *zap.Logger

	sem *semaphore.Weighted
}

func New(
	cfg Config,
	samp *sampler.Sampler,
	gr *grouper.Grouper,
	cls *classifier.Classifier,
	pol *policy.Engine,
	act *actuator.Actuator,
	store *snapshotlog.Store,
	nt notify.Notifier,
	logger *zap.Logger,
) *Supervisor {
	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	return &Supervisor{
		cfg:        cfg,
		sampler:    samp,
		grouper:    gr,
		classifier: cls,
		policy:     pol,
		actuator:   act,
		store:      store,
		notifier:   nt,
		logger:     logger,
		sem:        semaphore.NewWeighted(workers),
	}
}

// Run drives the tick loop until ctx is cancelled or a SIGINT/SIGTERM
// arrives, then performs the Actuator rollback before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	s.notifier.Notify(notify.EventDaemonUp, nil)
	s.logger.Info("smoothtaskd started", zap.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-sigCh:
			s.logger.Info("smoothtaskd shutting down")
			return s.shutdown()
		case now := <-ticker.C:
			s.runTick(ctx, now)
		}
	}
}

func (s *Supervisor) shutdown() error {
	if errs := s.actuator.Rollback(); len(errs) > 0 {
		s.notifier.Notify(notify.EventRollbackFailures, map[string]any{"count": len(errs)})
		for _, err := range errs {
			s.logger.Warn("rollback failure", zap.Error(err))
		}
	}
	s.notifier.Notify(notify.EventDaemonDown, nil)
	return nil
}

// runTick runs exactly one Sampler->...->Logger pass. A tick whose deadline
// is exceeded before the Policy Engine has produced decisions is recorded
// with Overrun=true and its decisions are skipped entirely for this tick;
// policy.Engine.SkipTick advances every group's hysteresis state as a
// no-op so the skipped tick does not reset time-in-class progress, per
// spec.md 5.
func (s *Supervisor) runTick(ctx context.Context, now time.Time) {
	deadline := now.Add(s.cfg.TickDeadline)

	snap, err := s.sampler.Sample(now.UnixMilli(), now)
	if err != nil {
		s.logger.Warn("sample error", zap.Error(err))
		snap = &model.Snapshot{SnapshotID: now.UnixMilli(), Timestamp: now, Errors: []error{err}}
	}

	if time.Now().After(deadline) {
		snap.Overrun = true
		s.policy.SkipTick()
		s.store.Enqueue(snapshotlog.Entry{Snapshot: snap})
		return
	}

	s.grouper.Group(snap, nil, nil)
	s.classifier.Classify(snap)

	decisions, errs := s.policy.Decide(snap)
	for _, err := range errs {
		snap.Errors = append(snap.Errors, err)
	}

	if time.Now().After(deadline) {
		snap.Overrun = true
		s.policy.SkipTick()
		s.store.Enqueue(snapshotlog.Entry{Snapshot: snap})
		return
	}

	if !s.cfg.dryRunSkipsActuator(decisions) {
		s.applyDecisions(ctx, snap, decisions)
	}

	logDecisions := make([]snapshotlog.Decision, 0, len(decisions))
	for _, d := range decisions {
		logDecisions = append(logDecisions, snapshotlog.Decision{GroupID: d.GroupID, Class: d.Class, DryRun: d.DryRun})
	}
	s.store.Enqueue(snapshotlog.Entry{Snapshot: snap, Decisions: logDecisions})
}

// dryRunSkipsActuator reports whether every decision this tick is dry-run,
// in which case there is nothing for the Actuator to do.
func (c Config) dryRunSkipsActuator(decisions []policy.Decision) bool {
	for _, d := range decisions {
		if !d.DryRun {
			return false
		}
	}
	return true
}

// applyDecisions fans out Actuator.Apply calls bounded by MaxWorkers. Each
// target is independent (distinct pid sets per group), so fan-out is safe;
// the semaphore caps how many groups are converged concurrently. Every
// member pid is checked against the configured protect-list (spec.md 4.4's
// "processes in a configured protect-list are not modified") and given the
// group's managed cgroup path so cpu_weight actuation is reachable.
func (s *Supervisor) applyDecisions(ctx context.Context, snap *model.Snapshot, decisions []policy.Decision) {
	protectCfg := s.policy.Config()
	cgroupRoot := s.actuator.CgroupRoot()

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range decisions {
		d := d
		if d.DryRun {
			continue
		}
		idx := snap.GroupByID(d.GroupID)
		if idx < 0 {
			continue
		}
		members := snap.Groups[idx].Members
		groupID := d.GroupID
		class := d.Class
		cgroupPath := filepath.Join(cgroupRoot, groupID)

		targets := make([]actuator.Target, 0, len(members))
		for _, pid := range members {
			protected := false
			if pidx := snap.ProcessByPID(pid); pidx >= 0 {
				protected = policy.IsProtected(protectCfg, snap.Processes[pidx])
			}
			targets = append(targets, actuator.Target{
				PID:        pid,
				GroupID:    groupID,
				CgroupPath: cgroupPath,
				Class:      class,
				Protected:  protected,
			})
		}

		if err := s.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer s.sem.Release(1)
			if errs := s.actuator.Apply(targets); len(errs) > 0 {
				for _, err := range errs {
					s.logger.Warn("actuation error", zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
