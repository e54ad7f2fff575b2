package main

import (
	"fmt"
	"io"

	"github.com/fyrsmithlabs/uniguide/internal/advisor"
	"github.com/fyrsmithlabs/uniguide/internal/pipeline"
	"github.com/spf13/cobra"
)

func newRecommendCmd(flags *globalFlags) *cobra.Command {
	var (
		asJSON bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Run the advisor pipeline over the saved profile",
		Long: `Run every stage of the advisor over the saved profile, print the final
recommendation and write the report files.

Stages that fail are listed as unavailable; the run still completes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := loadDependencies(ctx, flags)
			if err != nil {
				return err
			}
			defer d.Close()

			a, err := d.buildAdvisor(ctx)
			if err != nil {
				if isMissingCredential(err) {
					return fmt.Errorf("%w (set the variables in the environment or config file)", err)
				}
				return err
			}
			store, err := d.openStore(ctx, d.cfg.Profile.Path)
			if err != nil {
				return err
			}

			var opts []pipeline.RunOption
			if !quiet && !asJSON {
				opts = append(opts, pipeline.WithProgress(progressPrinter(cmd.ErrOrStderr())))
			}
			rec, err := a.Recommend(ctx, store, opts...)
			if rec == nil {
				return err
			}
			if asJSON {
				if jerr := writeJSON(cmd.OutOrStdout(), rec); jerr != nil {
					return jerr
				}
			} else {
				printRecommendation(cmd.OutOrStdout(), rec)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the recommendation as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print stage progress")
	return cmd
}

func progressPrinter(w io.Writer) pipeline.ProgressCallback {
	return func(p pipeline.Progress) {
		fmt.Fprintf(w, "[%3d%%] %-12s %s\n", p.Percentage, p.Stage, p.Status)
	}
}

func printRecommendation(w io.Writer, rec *advisor.Recommendation) {
	fmt.Fprintln(w, rec.Summary)
	fmt.Fprintln(w)
	if rec.CatalogError != "" {
		fmt.Fprintf(w, "Catalog matching unavailable: %s\n", rec.CatalogError)
	}
	if len(rec.Matches) > 0 {
		fmt.Fprintf(w, "Top catalog matches (%d):\n", len(rec.Matches))
		for i, m := range rec.Matches {
			fmt.Fprintf(w, "  %2d. %s - %s (%s)\n", i+1, m.University, m.Curriculum, m.Tuition)
		}
	}
	if rec.Reports.Table != "" {
		fmt.Fprintf(w, "Report: %s\n", rec.Reports.Table)
	}
	if rec.Reports.Recommendation != "" {
		fmt.Fprintf(w, "Recommendation: %s\n", rec.Reports.Recommendation)
	}
	if rec.ReportError != "" {
		fmt.Fprintf(w, "Report not written: %s\n", rec.ReportError)
	}
}
