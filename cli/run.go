package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/loader"
	"github.com/petal-labs/petalinfer/monitor"
	"github.com/petal-labs/petalinfer/resample"
	"github.com/petal-labs/petalinfer/smc"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <model>",
		Short: "Run the particle filter over a model file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	addFilterFlags(cmd)
	return cmd
}

// addFilterFlags registers the flags shared by run and smooth.
func addFilterFlags(cmd *cobra.Command) {
	def := smc.DefaultOptions()
	cmd.Flags().IntP("particles", "n", def.Particles, "Number of particles")
	cmd.Flags().Uint64("seed", uint64(time.Now().UnixNano()), "Random seed (default: current time)")
	cmd.Flags().String("resampler", def.Resampler, fmt.Sprintf("Resampling scheme: %v", resample.Names()))
	cmd.Flags().Float64("ess", def.ESSThreshold, "Resample when ESS falls below this fraction of the particles")
	cmd.Flags().Int("concurrency", def.Concurrency, "Particles advanced in parallel")
	cmd.Flags().Int("max-support", def.MaxSupport, "Largest support enumerated by the discrete sampler")
	cmd.Flags().StringSlice("monitor", nil, "Extra nodes to summarize (repeatable)")
	cmd.Flags().String("store", "", "Path to a SQLite snapshot store (env "+storeEnv+")")
	cmd.Flags().StringP("output", "o", "", "Write the report to file (default: stdout)")
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Duration("timeout", 0, "Abort the run after this long (0 = no limit)")
	cmd.Flags().String("otlp-endpoint", "", "Export traces to this OTLP/HTTP endpoint URL")
}

// session is a loaded model plus the resources opened for one command.
type session struct {
	md      *graph.ModelDefinition
	g       *graph.Graph
	monitor []core.NodeID
	store   *monitor.SQLiteStore
	tel     *telemetry
	opts    smc.Options
}

func (s *session) close(ctx context.Context) {
	if s.tel != nil {
		_ = s.tel.shutdown(ctx)
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// loadModel loads and builds a model, printing diagnostics on failure.
func loadModel(cmd *cobra.Command, path string) (*graph.ModelDefinition, *graph.Graph, error) {
	md, g, err := loader.Build(path)
	if err == nil {
		return md, g, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, exitError(exitFileNotFound, "file not found: %s", path)
	}
	var diagErr *graph.DiagnosticError
	if errors.As(err, &diagErr) {
		writeDiagnostics(cmd.ErrOrStderr(), diagErr.Diagnostics)
		return nil, nil, exitError(exitValidation, "validation failed")
	}
	return nil, nil, exitError(exitValidation, "%v", err)
}

// openSession loads the model and reads the filter flags.
func openSession(cmd *cobra.Command, path string) (*session, error) {
	md, g, err := loadModel(cmd, path)
	if err != nil {
		return nil, err
	}
	s := &session{md: md, g: g}

	s.monitor, err = md.MonitorIDs(g)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	extra, _ := cmd.Flags().GetStringSlice("monitor")
	for _, name := range extra {
		id, ok := g.NodeByName(name)
		if !ok {
			return nil, exitError(exitUsage, "unknown node %q in --monitor", name)
		}
		s.monitor = append(s.monitor, id)
	}

	logger, err := loggerFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	s.store, err = openStore(cmd, 0)
	if err != nil {
		return nil, err
	}
	endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	s.tel, err = setupTelemetry(cmd.Context(), endpoint)
	if err != nil {
		s.close(cmd.Context())
		return nil, exitError(exitUsage, "%v", err)
	}

	opts := smc.DefaultOptions()
	opts.Particles, _ = cmd.Flags().GetInt("particles")
	opts.Seed, _ = cmd.Flags().GetUint64("seed")
	opts.Resampler, _ = cmd.Flags().GetString("resampler")
	opts.ESSThreshold, _ = cmd.Flags().GetFloat64("ess")
	opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	opts.MaxSupport, _ = cmd.Flags().GetInt("max-support")
	opts.Model = md.ID
	opts.Monitor = s.monitor
	opts.Logger = logger
	opts.EventHandler = s.tel.handler
	opts.EventEmitterDecorator = s.tel.decorator
	if s.store != nil {
		opts.Store = s.store
	}
	s.opts = opts
	return s, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout > 0 {
		return context.WithTimeout(cmd.Context(), timeout)
	}
	return context.WithCancel(cmd.Context())
}

// runFilter steps a new filter to the end and records each step.
func runFilter(ctx context.Context, s *session) (*smc.Filter, *Report, error) {
	f, err := smc.New(s.g, s.opts)
	if err != nil {
		if errors.Is(err, smc.ErrBadOptions) {
			return nil, nil, exitError(exitUsage, "%v", err)
		}
		return nil, nil, exitError(exitRuntime, "creating filter: %v", err)
	}
	if err := f.Initialize(ctx); err != nil {
		return nil, nil, filterError(ctx, err)
	}

	samplers := make(map[core.NodeID]string)
	for _, a := range f.Assignments() {
		samplers[a.Node] = a.Sampler.Name()
	}
	report := &Report{RunID: f.RunID(), Model: s.md.ID, Particles: s.opts.Particles}
	for !f.AtEnd() {
		res, err := f.Step(ctx)
		if err != nil {
			return nil, nil, filterError(ctx, err)
		}
		report.Steps = append(report.Steps, stepReport(res, s.g.Label(res.Node), samplers[res.Node]))
	}
	report.LogEvidence = finite(f.LogNormConst())
	report.Collapsed = report.LogEvidence == nil
	return f, report, nil
}

func filterError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return exitError(exitTimeout, "run timed out")
	}
	return exitError(exitRuntime, "run failed: %v", err)
}

// summaryNodes returns the nodes to summarize: the monitored ones, or
// every sampled node when none are monitored.
func summaryNodes(s *session) []core.NodeID {
	if len(s.monitor) > 0 {
		return s.monitor
	}
	return s.g.SampledNodes()
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	ctx, cancel := commandContext(cmd)
	defer cancel()

	f, report, err := runFilter(ctx, s)
	if err != nil {
		return err
	}
	mon := f.Monitor()
	if !report.Collapsed && mon.Len() > 0 {
		last := mon.Len() - 1
		for _, id := range summaryNodes(s) {
			sum, err := summarize(s.g.Label(id), last, func(acc monitor.Accumulator) error {
				return mon.Accumulate(last, id, acc)
			})
			if err != nil {
				return exitError(exitRuntime, "summarizing %s: %v", s.g.Label(id), err)
			}
			report.Filtered = append(report.Filtered, sum)
		}
	}
	if err := emitReport(cmd, report); err != nil {
		return err
	}
	if report.Collapsed {
		return exitError(exitCollapse, "%v", smc.ErrWeightCollapse)
	}
	return nil
}

// emitReport writes the report to --output or stdout.
func emitReport(cmd *cobra.Command, r *Report) error {
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath == "" {
		return writeReport(cmd.OutOrStdout(), r, format)
	}
	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 -- path from user CLI flag
	if err != nil {
		return exitError(exitRuntime, "writing output file: %v", err)
	}
	if err := writeReport(f, r, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return exitError(exitRuntime, "writing output file: %v", err)
	}
	return nil
}
