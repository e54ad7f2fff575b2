package main

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCatalogCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the programme catalog index",
	}
	cmd.AddCommand(newCatalogRebuildCmd(flags), newCatalogQueryCmd(flags))
	return cmd
}

func newCatalogRebuildCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed the catalog file into a new index generation",
		Long: `Re-embed the catalog file into a new index generation. The previous
generation keeps serving queries until the new one is complete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := loadDependencies(ctx, flags)
			if err != nil {
				return err
			}
			defer d.Close()

			idx, err := d.openIndex(ctx)
			if err != nil {
				return err
			}
			if err := idx.Rebuild(ctx, d.catalogSource()); err != nil {
				return fmt.Errorf("rebuilding %s: %w", d.cfg.Catalog.Path, err)
			}
			n, err := idx.Count(ctx)
			if err != nil {
				return err
			}
			d.logger.Info(ctx, "catalog rebuilt",
				zap.String("collection", idx.Collection()),
				zap.Int("records", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d programmes into %s.\n", n, idx.Collection())
			return nil
		},
	}
}

func newCatalogQueryCmd(flags *globalFlags) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query text...",
		Short: "Find catalog programmes similar to the text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k < 1 {
				return fmt.Errorf("-k must be at least 1")
			}
			ctx := cmd.Context()
			d, err := loadDependencies(ctx, flags)
			if err != nil {
				return err
			}
			defer d.Close()

			idx, err := d.openIndex(ctx)
			if err != nil {
				return err
			}
			if err := idx.EnsureLoaded(ctx, d.catalogSource()); err != nil {
				return err
			}
			matches, err := idx.QueryText(ctx, strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(w, "No matches.")
				return nil
			}
			for i, m := range matches {
				p := catalog.ProgramFromMetadata(m.ID, m.Metadata)
				fmt.Fprintf(w, "%2d. [%.3f] %s - %s, %s (%s)\n", i+1, m.Distance, p.University, p.Name, p.Country, p.Tuition)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of results")
	return cmd
}
