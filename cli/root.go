// Package cli implements the petalinfer command line: running the particle
// filter and smoother over a model file, validating models, and inspecting
// stored runs.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "petalinfer",
		Short: "Particle-based Bayesian inference over graphical models",
		Long:  "petalinfer runs Sequential Monte Carlo and backward smoothing over directed graphical models described in YAML or JSON.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-level", "warn", "Log level: debug | info | warn | error")
	root.PersistentFlags().String("log-format", "text", "Log format: text | json")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("petalinfer version %s\n", version))

	root.AddCommand(NewRunCmd())
	root.AddCommand(NewSmoothCmd())
	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewCatalogCmd())
	root.AddCommand(NewRunsCmd())
	return root
}
