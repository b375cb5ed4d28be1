package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
	"github.com/petal-labs/petalinfer/resample"
	"github.com/petal-labs/petalinfer/sampler"
)

// CatalogEntry describes one built-in capability.
type CatalogEntry struct {
	Name    string `json:"name"`
	Params  int    `json:"params,omitempty"`
	Support string `json:"support,omitempty"`
}

// Catalog lists the built-in distributions, functions, samplers and
// resampling schemes.
type Catalog struct {
	Distributions []CatalogEntry `json:"distributions"`
	Functions     []CatalogEntry `json:"functions"`
	Samplers      []string       `json:"samplers"`
	Resamplers    []string       `json:"resamplers"`
}

// NewCatalogCmd creates the "catalog" subcommand.
func NewCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List built-in distributions, functions, samplers and resamplers",
		Args:  cobra.NoArgs,
		RunE:  runCatalog,
	}
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func buildCatalog() Catalog {
	var c Catalog
	for _, d := range distribution.Builtins().All() {
		c.Distributions = append(c.Distributions, CatalogEntry{Name: d.Name(), Params: d.NParams(), Support: d.Support().String()})
	}
	for _, f := range function.Builtins().All() {
		c.Functions = append(c.Functions, CatalogEntry{Name: f.Name(), Params: f.NParams()})
	}
	for _, f := range sampler.DefaultFactories(0) {
		c.Samplers = append(c.Samplers, f.Name())
	}
	c.Samplers = append(c.Samplers, "prior")
	c.Resamplers = resample.Names()
	return c
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	c := buildCatalog()
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	case "text":
	default:
		return exitError(exitUsage, "unknown format %q (use text or json)", format)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISTRIBUTION\tPARAMS\tSUPPORT")
	for _, d := range c.Distributions {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", d.Name, d.Params, d.Support)
	}
	fmt.Fprintln(tw, "\nFUNCTION\tPARAMS\t")
	for _, f := range c.Functions {
		params := fmt.Sprint(f.Params)
		if f.Params == function.Variadic {
			params = "variadic"
		}
		fmt.Fprintf(tw, "%s\t%s\t\n", f.Name, params)
	}
	_ = tw.Flush()

	fmt.Fprintf(out, "\nSamplers (priority order): %v\n", c.Samplers)
	fmt.Fprintf(out, "Resamplers: %v\n", c.Resamplers)
	return nil
}
