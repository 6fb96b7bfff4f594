// Command smoothtaskd runs the SmoothTask tick loop as a background daemon:
// sample, group, classify, decide, and actuate process priorities once per
// configured interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/smoothtask/smoothtask/internal/actuator"
	"github.com/smoothtask/smoothtask/internal/classifier"
	"github.com/smoothtask/smoothtask/internal/config"
	"github.com/smoothtask/smoothtask/internal/grouper"
	"github.com/smoothtask/smoothtask/internal/loop"
	"github.com/smoothtask/smoothtask/internal/notify"
	"github.com/smoothtask/smoothtask/internal/policy"
	"github.com/smoothtask/smoothtask/internal/ranker"
	"github.com/smoothtask/smoothtask/internal/sampler"
	"github.com/smoothtask/smoothtask/internal/snapshotlog"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "smoothtaskd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dryRun   = flag.Bool("dry-run", false, "compute decisions but never touch the kernel")
		mode     = flag.String("mode", "", "policy mode override: rules-only, hybrid, ml-only")
		printVer = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *printVer {
		fmt.Println("smoothtaskd", Version)
		return nil
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	cfg := config.Load(logger)
	if *dryRun {
		cfg.DryRun = true
	}
	if *mode != "" {
		cfg.Mode = policy.Mode(*mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	samplerCfg := sampler.DefaultConfig()
	samplerCfg.SchedLatencyP99ThresholdMs = cfg.Thresholds.SchedLatencyP99ThresholdMs
	samplerCfg.UILoopP95ThresholdMs = cfg.Thresholds.UILoopP95ThresholdMs
	samplerCfg.PSICPUSomeHigh = cfg.Thresholds.PSICPUSomeHigh
	samplerCfg.PSIIOSomeHigh = cfg.Thresholds.PSIIOSomeHigh
	samplerCfg.UserIdleTimeoutSec = cfg.Thresholds.UserIdleTimeoutSec

	samp := sampler.New(samplerCfg, sampler.NullWindowIntrospector{}, sampler.NullAudioIntrospector{}, sampler.NullInputActivitySource{})
	go samp.Probe().Run(ctx)

	gr := grouper.New()
	cls := classifier.New(classifier.DefaultPatterns(), nil)

	rk := ranker.New()
	if cfg.RankerModel != "" {
		if err := rk.Load(cfg.RankerModel); err != nil {
			logger.Warn("ranker model load failed, using built-in weights", zap.Error(err))
		}
	}
	pol := policy.New(cfg.ToPolicyConfig(), rk)

	if err := os.MkdirAll(cfg.CgroupRoot, 0755); err != nil {
		logger.Warn("cgroup root unavailable, continuing without cgroup placement", zap.Error(err))
	}
	act := actuator.New(cfg.CgroupRoot, cfg.DryRun)

	store, err := snapshotlog.Open(ctx, cfg.SnapshotDBPath, cfg.SnapshotQueueDepth)
	if err != nil {
		return fmt.Errorf("open snapshot log: %w", err)
	}

	nt := notify.NewLogNotifier(logger)

	sup := loop.New(loop.Config{
		Interval:     time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		TickDeadline: time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		MaxWorkers:   8,
	}, samp, gr, cls, pol, act, store, nt, logger)

	return sup.Run(ctx)
}
