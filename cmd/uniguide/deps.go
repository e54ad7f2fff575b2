package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fyrsmithlabs/uniguide/internal/advisor"
	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/fyrsmithlabs/uniguide/internal/embeddings"
	"github.com/fyrsmithlabs/uniguide/internal/fetch"
	"github.com/fyrsmithlabs/uniguide/internal/index"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/pipeline"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
	"github.com/fyrsmithlabs/uniguide/internal/report"
	"github.com/fyrsmithlabs/uniguide/internal/telemetry"
	"github.com/fyrsmithlabs/uniguide/internal/tools"
	"go.uber.org/zap"
)

// dependencies holds the components a command needs. Expensive ones are
// built on first use so that commands such as "profile show" never load an
// embedding model.
type dependencies struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	embedder *embeddings.Service
	index    *index.Index
	fetcher  fetch.PageFetcher
	closers  []func() error
}

// loadDependencies reads configuration and sets up logging and telemetry.
func loadDependencies(ctx context.Context, flags *globalFlags) (*dependencies, error) {
	cfg, err := config.LoadWithFile(flags.configPath)
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if degraded, cause := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(cause))
	}

	d := &dependencies{cfg: cfg, logger: logger, telemetry: tel}
	d.closers = append(d.closers, func() error {
		return tel.Shutdown(context.WithoutCancel(ctx))
	})
	return d, nil
}

// Close releases everything in reverse order of creation.
func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
	_ = d.logger.Sync()
}

// catalogSource reads the configured catalog file.
func (d *dependencies) catalogSource() index.Source {
	return catalog.FileSource{Path: d.cfg.Catalog.Path}
}

// openIndex creates the embedder and the similarity index.
func (d *dependencies) openIndex(ctx context.Context) (*index.Index, error) {
	if d.index != nil {
		return d.index, nil
	}
	emb, err := embeddings.New(ctx, d.cfg.Embeddings, d.cfg.Reasoning.GeminiAPIKey,
		embeddings.WithLogger(d.logger),
		embeddings.WithTelemetry(d.telemetry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
	}
	d.embedder = emb
	d.closers = append(d.closers, emb.Close)

	idx, err := index.Open(ctx, d.cfg.Index, emb, index.WithLogger(d.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	d.index = idx
	d.closers = append(d.closers, idx.Close)

	d.logger.Info(ctx, "index opened",
		zap.String("backend", d.cfg.Index.Backend),
		zap.String("collection", d.cfg.Index.Collection),
		zap.String("embedder", emb.Model()))
	return idx, nil
}

// openStore opens the profile store at path.
func (d *dependencies) openStore(ctx context.Context, path string) (*profile.Store, error) {
	opts := []profile.Option{profile.WithLogger(d.logger)}
	if path != "" {
		opts = append(opts, profile.WithPersister(profile.NewFilePersister(path)))
	}
	return profile.Open(ctx, opts...)
}

// sessionStorePath keeps the default session at the configured profile path
// and other sessions next to it.
func (d *dependencies) sessionStorePath(id string) string {
	if d.cfg.Profile.Path == "" {
		return ""
	}
	if id == "" || id == "default" {
		return d.cfg.Profile.Path
	}
	return filepath.Join(filepath.Dir(d.cfg.Profile.Path), "profiles", id+".json")
}

// pageFetcher creates the configured fetcher once.
func (d *dependencies) pageFetcher() (fetch.PageFetcher, error) {
	if d.fetcher != nil {
		return d.fetcher, nil
	}
	f, err := fetch.New(d.cfg.Fetch, d.logger)
	if err != nil {
		return nil, err
	}
	if c, ok := f.(interface{ Close() error }); ok {
		d.closers = append(d.closers, c.Close)
	}
	d.fetcher = f
	return f, nil
}

// toolset builds the tools workers may call. idx may be nil, in which case
// catalog_search is left out.
func (d *dependencies) toolset(idx *index.Index) (map[string]reasoning.Tool, error) {
	set := map[string]reasoning.Tool{
		advisor.ToolReadFile:      tools.NewReadFile(d.cfg.Documents.Dir, d.cfg.Documents.MaxFileBytes),
		advisor.ToolReadDirectory: tools.NewReadDirectory(d.cfg.Documents.Dir, d.cfg.Documents.MaxFiles, d.cfg.Documents.MaxFileBytes),
	}
	if d.cfg.Search.Enabled {
		set[advisor.ToolWebSearch] = tools.WebSearchFromConfig(d.cfg.Search, d.logger)
	}
	if idx != nil {
		set[advisor.ToolCatalogSearch] = tools.NewCatalogSearch(idx, 5)
	}
	f, err := d.pageFetcher()
	if err != nil {
		return nil, err
	}
	set[advisor.ToolFetchPage] = tools.NewFetchPage(f, d.cfg.Fetch.Timeout.Duration(), d.cfg.Fetch.ChunkSize)
	return set, nil
}

// buildPipeline wires the crew with capability and tools.
func (d *dependencies) buildPipeline(capability reasoning.Capability, toolset map[string]reasoning.Tool) (*pipeline.Pipeline, error) {
	crew, err := advisor.LoadCrew(d.cfg.Pipeline.CrewFile)
	if err != nil {
		return nil, err
	}
	return crew.Build(capability, toolset,
		pipeline.WithParallelism(d.cfg.Pipeline.Parallelism),
		pipeline.WithStageTimeout(d.cfg.Pipeline.StageTimeout.Duration()),
		pipeline.WithLogger(d.logger),
		pipeline.WithTelemetry(d.telemetry),
	)
}

// buildAdvisor validates credentials and wires the full recommendation
// service.
func (d *dependencies) buildAdvisor(ctx context.Context) (*advisor.Advisor, error) {
	if err := d.cfg.ValidateCredentials(); err != nil {
		return nil, err
	}

	capability, err := reasoning.New(ctx, d.cfg.Reasoning, d.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reasoning: %w", err)
	}

	idx, err := d.openIndex(ctx)
	if err != nil {
		return nil, err
	}
	toolset, err := d.toolset(idx)
	if err != nil {
		return nil, err
	}
	p, err := d.buildPipeline(capability, toolset)
	if err != nil {
		return nil, err
	}

	return advisor.New(p,
		advisor.WithIndex(idx, d.catalogSource()),
		advisor.WithReportWriter(report.NewWriter(d.cfg.Report.Dir, d.logger)),
		advisor.WithMatches(d.cfg.Report.MatchesPerRun, d.cfg.Report.Limit),
		advisor.WithLogger(d.logger),
	)
}

// isMissingCredential reports whether err should be shown as a setup error.
func isMissingCredential(err error) bool {
	return errors.Is(err, config.ErrMissingCredential)
}
