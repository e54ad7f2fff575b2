package main

import (
	"context"

	"github.com/fyrsmithlabs/uniguide/internal/http"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the advisor over HTTP",
		Long: `Serve the advisor over HTTP until interrupted. Each X-Session-ID header
selects its own profile; requests without one share the default profile.`,
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
				return err
			}
			if err := d.index.EnsureLoaded(ctx, d.catalogSource()); err != nil {
				d.logger.Warn(ctx, "catalog not loaded at startup", zap.Error(err))
			}

			sessions := http.NewSessions(func(ctx context.Context, id string) (*profile.Store, error) {
				return d.openStore(ctx, d.sessionStorePath(id))
			})
			metrics := http.NewHTTPMetrics(d.telemetry.Meter("github.com/fyrsmithlabs/uniguide/internal/http"), d.logger)
			srv, err := http.NewServer(sessions, a, d.logger,
				&http.Config{Host: host, Port: d.cfg.Server.Port},
				http.WithCatalog(d.index, d.catalogSource()),
				http.WithMetrics(metrics),
			)
			if err != nil {
				return err
			}

			d.logger.Info(ctx, "starting uniguide",
				zap.String("version", version),
				zap.Int("port", d.cfg.Server.Port),
				zap.String("reasoning", d.cfg.Reasoning.Provider),
				zap.String("index", d.cfg.Index.Backend))

			err = srv.Start(ctx, d.cfg.Server.ShutdownTimeout.Duration())
			d.logger.Info(context.WithoutCancel(ctx), "server shutdown complete")
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "address to listen on")
	return cmd
}
