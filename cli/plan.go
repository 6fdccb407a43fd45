package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opal-lang/datacube/core/plan"
)

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PLAN",
		Short: "Check a plan file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPlan(args[0])
			if err != nil {
				return err
			}
			for _, t := range p.Tasks {
				if !t.Kind.Known() {
					_, _ = fmt.Fprintf(a.stdout, "%s task %q has unknown operation %q and will be skipped\n",
						Colorize("warning:", ColorYellow, a.useColor()), t.Name, t.Kind)
				}
			}
			_, _ = fmt.Fprintf(a.stdout, "%s %s: %d tasks\n", Colorize("valid", ColorGreen, a.useColor()), args[0], len(p.Tasks))
			return nil
		},
	}
}

func (a *app) digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest PLAN",
		Short: "Print the content digest of a plan",
		Long: `Print the digest of the plan's canonical encoding. JSON and YAML files
describing the same plan have the same digest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}
			d, err := p.Digest()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.stdout, d)
			return nil
		},
	}
}
