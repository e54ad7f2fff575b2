// Uniguide recommends M.Tech programmes from a student profile.
//
// It runs a pipeline of reasoning workers over the profile, ranks catalog
// programmes by similarity and writes a tab separated table plus a markdown
// recommendation. The same operations are served over HTTP by "serve".
//
// Usage:
//
//	uniguide profile set name=Asha btech_cgpa=8.7 preferred_countries="USA, UK"
//	uniguide catalog rebuild
//	uniguide recommend
//	uniguide serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "uniguide",
		Short: "M.Tech programme advisor",
		Long: `uniguide builds a student profile, runs a team of reasoning workers over it
and recommends M.Tech programmes from a searchable catalog.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/uniguide/config.yaml)")

	root.AddCommand(
		newProfileCmd(flags),
		newRecommendCmd(flags),
		newCatalogCmd(flags),
		newPipelineCmd(flags),
		newServeCmd(flags),
	)
	return root
}
