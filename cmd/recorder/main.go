// Command recorder runs a simulated recording session end to end: it wires
// the configuration, the rotating logger, the recording controller and the
// simulated rider, then finishes the session into a FIT activity file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/velotrace/recorder/internal/config"
	"github.com/velotrace/recorder/internal/logging"
	"github.com/velotrace/recorder/internal/plan"
	"github.com/velotrace/recorder/internal/recorder"
	"github.com/velotrace/recorder/internal/simsource"
	"github.com/velotrace/recorder/internal/stream"
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to YAML config file")
		dataDir    = pflag.String("data-dir", "", "override the data directory")
		duration   = pflag.Duration("duration", 2*time.Minute, "length of the simulated session")
		withPlan   = pflag.Bool("with-plan", false, "run a demo interval plan")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recorder: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger, closeLog := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer closeLog.Close()

	// Clear session chunk directories left behind by crashed runs.
	sessionRoot := filepath.Join(cfg.DataDir, "sessions")
	if err := stream.SweepOrphans(sessionRoot, time.Now().Add(-cfg.OrphanMaxAge), logger); err != nil {
		logger.Printf("main: orphan sweep failed: %v", err)
	}

	ctrl := recorder.NewController(recorder.Config{
		DataDir:          cfg.DataDir,
		SnapshotInterval: cfg.SnapshotInterval,
		FlushInterval:    cfg.FlushInterval,
		SettleDelay:      cfg.SettleDelay,
	}, cfg.Profile.Telemetry(), logger)
	defer ctrl.Shutdown()

	cancelState := ctrl.StateChanges().Subscribe(func(tr recorder.StateTransition) {
		logger.Printf("main: recorder %s -> %s", tr.From, tr.To)
	})
	defer cancelState()
	cancelErrs := ctrl.Errors().Subscribe(func(err error) {
		logger.Printf("main: recorder error: %v", err)
	})
	defer cancelErrs()
	cancelSteps := ctrl.StepChanges().Subscribe(func(sc plan.StepChange) {
		logger.Printf("main: plan step %d (%s)", sc.Index, sc.Step.Name)
	})
	defer cancelSteps()

	ctrl.GrantPermission(recorder.PermissionSensors)

	if *withPlan {
		if err := ctrl.SelectPlan(demoPlan()); err != nil {
			logger.Printf("main: select plan: %v", err)
		}
	}

	src := simsource.NewSource(simsource.Config{}, ctrl, logger)

	if err := ctrl.Start(recorder.StartInfo{ProfileID: "local", Category: "ride"}); err != nil {
		fmt.Fprintf(os.Stderr, "recorder: start: %v\n", err)
		os.Exit(1)
	}
	src.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(*duration):
	case <-sig:
		logger.Printf("main: interrupted, finishing recording")
	}

	src.Shutdown()
	if err := ctrl.Finish(); err != nil {
		fmt.Fprintf(os.Stderr, "recorder: finish: %v\n", err)
		os.Exit(1)
	}

	meta := ctrl.Metadata()
	metrics := ctrl.LiveMetrics()
	fmt.Printf("activity written to %s (%s elapsed, %.0f m)\n",
		meta.ActivityFilePath, metrics.Elapsed, metrics.DistanceM)
}

// demoPlan is a short interval workout exercising timed steps, repeats and
// relative power targets.
func demoPlan() plan.Plan {
	step := func(name string, d time.Duration, pctFTP float64) plan.Segment {
		return plan.Segment{Step: &plan.Step{
			Name:     name,
			Duration: plan.DurationSpec{Kind: plan.DurationTime, Time: d},
			Targets:  []plan.TargetSpec{{Kind: plan.TargetPowerPercentFTP, Value: pctFTP}},
		}}
	}
	return plan.Plan{
		Name: "demo intervals",
		Segments: []plan.Segment{
			step("warmup", 30*time.Second, 55),
			{Repeat: &plan.Repeat{Count: 3, Segments: []plan.Segment{
				step("work", 20*time.Second, 105),
				step("rest", 10*time.Second, 50),
			}}},
			step("cooldown", 30*time.Second, 55),
		},
	}
}
