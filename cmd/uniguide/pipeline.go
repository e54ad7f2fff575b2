package main

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
	"github.com/spf13/cobra"
)

func newPipelineCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect the advisor pipeline",
	}
	cmd.AddCommand(newPipelineGraphCmd(flags))
	return cmd
}

func newPipelineGraphCmd(flags *globalFlags) *cobra.Command {
	var waves bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the stage dependency graph in DOT format",
		Long: `Print the stage dependency graph in DOT format.

Examples:
  uniguide pipeline graph | dot -Tpng > pipeline.png
  uniguide pipeline graph --waves`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDependencies(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer d.Close()

			// The graph only depends on templates, so no model is needed.
			p, err := d.buildPipeline(reasoning.NewScripted(nil), nil)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if waves {
				for i, wave := range p.Waves() {
					fmt.Fprintf(w, "wave %d: %s\n", i+1, strings.Join(wave, ", "))
				}
				return nil
			}
			return p.WriteDOT(w)
		},
	}
	cmd.Flags().BoolVar(&waves, "waves", false, "print execution waves instead of DOT")
	return cmd
}
