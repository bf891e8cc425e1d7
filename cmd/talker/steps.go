package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ai-talker/internal/steps"
)

func newStepsCmd(g *globalOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List the step catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.load(cmd)
			if err != nil {
				return err
			}
			catalog := steps.Default()
			if cfg.Steps.File != "" {
				if catalog, err = steps.LoadFile(cfg.Steps.File); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, id := range catalog.IDs() {
				if !verbose {
					fmt.Fprintln(out, id)
					continue
				}
				step, err := catalog.Lookup(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n  %s\n", id, step.Template)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each step's prompt template")
	return cmd
}
