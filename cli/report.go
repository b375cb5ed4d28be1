package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/petal-labs/petalinfer/monitor"
	"github.com/petal-labs/petalinfer/smc"
)

// NodeSummary is the weighted posterior summary of one node.
type NodeSummary struct {
	Node   string    `json:"node"`
	Step   int       `json:"step"`
	Mean   []float64 `json:"mean"`
	SD     []float64 `json:"sd"`
	Q025   []float64 `json:"q025"`
	Median []float64 `json:"median"`
	Q975   []float64 `json:"q975"`
}

// StepReport describes one filter step.
type StepReport struct {
	Step       int     `json:"step"`
	Node       string  `json:"node"`
	Sampler    string  `json:"sampler"`
	ESS        float64 `json:"ess"`
	Resampled  bool    `json:"resampled"`
	Degenerate int     `json:"degenerate"`

	// LogIncrement is nil when the weights collapsed at this step.
	LogIncrement *float64 `json:"log_increment"`
}

// Report is the output of the run and smooth commands.
type Report struct {
	RunID     string `json:"run_id"`
	Model     string `json:"model"`
	Particles int    `json:"particles"`

	// LogEvidence is nil when the weights collapsed.
	LogEvidence *float64 `json:"log_evidence"`
	Collapsed   bool     `json:"collapsed"`

	Steps    []StepReport  `json:"steps,omitempty"`
	Filtered []NodeSummary `json:"filtered,omitempty"`
	Smoothed []NodeSummary `json:"smoothed,omitempty"`
}

func finite(x float64) *float64 {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return nil
	}
	return &x
}

func stepReport(res smc.StepResult, node, sampler string) StepReport {
	return StepReport{
		Step:         res.Step,
		Node:         node,
		Sampler:      sampler,
		ESS:          res.ESS,
		Resampled:    res.Resampled,
		Degenerate:   res.Degenerate,
		LogIncrement: finite(res.LogIncrement),
	}
}

// summarize runs fill with a fresh accumulator and reports its moments
// and quantiles.
func summarize(node string, step int, fill func(monitor.Accumulator) error) (NodeSummary, error) {
	acc := monitor.NewScalarAccumulator()
	if err := fill(acc); err != nil {
		return NodeSummary{}, err
	}
	sd := acc.Variance()
	for i, v := range sd {
		sd[i] = math.Sqrt(v)
	}
	return NodeSummary{
		Node:   node,
		Step:   step,
		Mean:   acc.Mean(),
		SD:     sd,
		Q025:   acc.Quantile(0.025),
		Median: acc.Quantile(0.5),
		Q975:   acc.Quantile(0.975),
	}, nil
}

func writeReport(w io.Writer, r *Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "", "text":
		writeReportText(w, r)
		return nil
	default:
		return exitError(exitUsage, "unknown format %q (use text or json)", format)
	}
}

func writeReportText(w io.Writer, r *Report) {
	fmt.Fprintf(w, "Run %s (model %s, %d particles)\n", r.RunID, r.Model, r.Particles)
	if r.LogEvidence != nil {
		fmt.Fprintf(w, "Log evidence: %.6g\n", *r.LogEvidence)
	} else {
		fmt.Fprintln(w, "Log evidence: -Inf (weights collapsed)")
	}

	if len(r.Steps) > 0 {
		fmt.Fprintln(w, "\n=== Steps ===")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP\tNODE\tSAMPLER\tESS\tRESAMPLED\tDEGENERATE")
		for _, s := range r.Steps {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%v\t%d\n", s.Step, s.Node, s.Sampler, s.ESS, s.Resampled, s.Degenerate)
		}
		_ = tw.Flush()
	}
	writeSummaries(w, "Filtered", r.Filtered)
	writeSummaries(w, "Smoothed", r.Smoothed)
}

func writeSummaries(w io.Writer, title string, sums []NodeSummary) {
	if len(sums) == 0 {
		return
	}
	fmt.Fprintf(w, "\n=== %s ===\n", title)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tSTEP\tMEAN\tSD\t2.5%\t50%\t97.5%")
	for _, s := range sums {
		for i := range s.Mean {
			name := s.Node
			if len(s.Mean) > 1 {
				name = fmt.Sprintf("%s[%d]", s.Node, i+1)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n", name, s.Step,
				num(s.Mean[i]), num(s.SD[i]), num(s.Q025[i]), num(s.Median[i]), num(s.Q975[i]))
		}
	}
	_ = tw.Flush()
}

func num(x float64) string {
	return strings.TrimSpace(fmt.Sprintf("%10.4g", x))
}
