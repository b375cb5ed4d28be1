package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model>",
		Short: "Validate a model file without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	out := cmd.OutOrStdout()
	if format != "text" && format != "json" {
		return exitError(exitUsage, "unknown format %q", format)
	}

	data, err := os.ReadFile(filePath) // #nosec G304 -- path from caller
	if errors.Is(err, os.ErrNotExist) {
		return exitError(exitFileNotFound, "file not found: %s", filePath)
	} else if err != nil {
		return fmt.Errorf("reading model: %w", err)
	}

	md, diags, err := loader.Diagnose(data, filePath)
	if err != nil {
		diags = []graph.Diagnostic{{
			Code:     "MD-000",
			Severity: graph.SeverityError,
			Message:  fmt.Sprintf("cannot parse model: %v", err),
		}}
	}

	// Shape and arity checks only run once the definition itself is clean.
	if md != nil && !graph.HasErrors(diags) {
		if _, err := graph.Build(md, distribution.Builtins(), function.Builtins()); err != nil {
			diags = append(diags, graph.Diagnostic{
				Code:     "MD-010",
				Severity: graph.SeverityError,
				Message:  fmt.Sprintf("cannot build graph: %v", err),
			})
		}
	}

	if diags == nil {
		diags = []graph.Diagnostic{}
	}
	res := validation{Diagnostics: diags}
	if md != nil {
		res.Model, res.Nodes = md.ID, len(md.Nodes)
	}
	res.Valid = !graph.HasErrors(diags) && !(strict && len(graph.Warnings(diags)) > 0)

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		writeDiagnostics(out, diags)
		fmt.Fprintln(out, res.summary())
	}

	if !res.Valid {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// validation is the result of the validate command.
type validation struct {
	Model       string             `json:"model,omitempty"`
	Nodes       int                `json:"nodes"`
	Valid       bool               `json:"valid"`
	Diagnostics []graph.Diagnostic `json:"diagnostics"`
}

func (v validation) summary() string {
	name := v.Model
	if name == "" {
		name = "model"
	}
	errs, warns := len(graph.Errors(v.Diagnostics)), len(graph.Warnings(v.Diagnostics))
	head := fmt.Sprintf("%s: %d %s", name, v.Nodes, pluralize("node", v.Nodes))
	switch {
	case errs > 0 || !v.Valid:
		return fmt.Sprintf("%s, %d %s, %d %s", head,
			errs, pluralize("error", errs), warns, pluralize("warning", warns))
	case warns > 0:
		return fmt.Sprintf("%s, valid with %d %s", head, warns, pluralize("warning", warns))
	default:
		return head + ", valid"
	}
}

// writeDiagnostics prints one aligned row per diagnostic:
// severity, code, location and message.
func writeDiagnostics(w io.Writer, diags []graph.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, d := range diags {
		at := d.Path
		if at == "" {
			at = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Severity, d.Code, at, d.Message)
	}
	_ = tw.Flush()
}

func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
