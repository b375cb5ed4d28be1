package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/monitor"
	"github.com/petal-labs/petalinfer/smc"
	"github.com/petal-labs/petalinfer/smoother"
)

// NewSmoothCmd creates the "smooth" subcommand.
func NewSmoothCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smooth <model>",
		Short: "Run the filter, then smooth its record backward to the first step",
		Long: "smooth runs the particle filter (or loads a stored run with --run-id) and applies " +
			"forward-filtering backward-smoothing. Each backward step costs particles^2 transition evaluations.",
		Args: cobra.ExactArgs(1),
		RunE: runSmooth,
	}
	addFilterFlags(cmd)
	cmd.Flags().String("run-id", "", "Smooth a stored run instead of running the filter (requires --store)")
	return cmd
}

func runSmooth(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var (
		mon    *monitor.Monitor
		report *Report
	)
	runID, _ := cmd.Flags().GetString("run-id")
	if runID != "" {
		if s.store == nil {
			return exitError(exitUsage, "--run-id requires --store or %s", storeEnv)
		}
		mon, err = monitor.Load(ctx, s.store, runID)
		if err != nil {
			return exitError(exitStore, "loading run %s: %v", runID, err)
		}
		report = &Report{RunID: runID, Model: s.md.ID}
		if mon.Len() > 0 {
			snap, _ := mon.At(0)
			report.Particles = snap.Len()
		}
	} else {
		f, r, err := runFilter(ctx, s)
		if err != nil {
			return err
		}
		mon, report = f.Monitor(), r
		runID = f.RunID()
	}
	if report.Collapsed {
		if err := emitReport(cmd, report); err != nil {
			return err
		}
		return exitError(exitCollapse, "%v", smc.ErrWeightCollapse)
	}

	sm, err := smoother.New(mon, smc.NewGraphKernel(s.g),
		smoother.WithLogger(s.opts.Logger),
		smoother.WithEventHandler(runID, s.opts.EventHandler),
	)
	if err != nil {
		return exitError(exitRuntime, "creating smoother: %v", err)
	}
	if err := sm.Initialize(); err != nil {
		if errors.Is(err, smoother.ErrEmptyMonitor) {
			return emitReport(cmd, report)
		}
		return exitError(exitRuntime, "initializing smoother: %v", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return filterError(ctx, err)
		}
		snap, err := mon.At(sm.Step())
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
		sum, err := summarize(s.g.Label(snap.Node), sm.Step(), func(acc monitor.Accumulator) error {
			return sm.Accumulate(snap.Node, acc)
		})
		if err != nil {
			return exitError(exitRuntime, "summarizing %s: %v", s.g.Label(snap.Node), err)
		}
		report.Smoothed = append(report.Smoothed, sum)

		if sm.State() == smoother.Terminal {
			break
		}
		if err := sm.IterateBack(); err != nil {
			if core.IsRuntime(err) {
				return exitError(exitCollapse, "smoothing: %v", err)
			}
			return exitError(exitRuntime, "smoothing: %v", err)
		}
	}
	return emitReport(cmd, report)
}
