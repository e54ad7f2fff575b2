// Package http provides the JSON HTTP API for uniguide.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/uniguide/internal/advisor"
	"github.com/fyrsmithlabs/uniguide/internal/catalog"
	"github.com/fyrsmithlabs/uniguide/internal/index"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/pipeline"
	"github.com/fyrsmithlabs/uniguide/internal/profile"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HeaderSessionID selects the profile a request works on.
const HeaderSessionID = "X-Session-ID"

const maxSearchResults = 50

// Client supplied request ids are only attached to logs when well formed.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Recommender runs the recommendation pipeline.
type Recommender interface {
	Recommend(ctx context.Context, store advisor.Store, opts ...pipeline.RunOption) (*advisor.Recommendation, error)
}

// CatalogIndex is the index access the API needs.
type CatalogIndex interface {
	QueryText(ctx context.Context, text string, k int) ([]index.Match, error)
	Rebuild(ctx context.Context, src index.Source) error
	Generation() int
	Collection() string
	Count(ctx context.Context) (int, error)
}

// Server serves the uniguide API.
type Server struct {
	echo        *echo.Echo
	sessions    *Sessions
	recommender Recommender
	index       CatalogIndex
	source      index.Source
	logger      *logging.Logger
	config      *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog enables the catalog endpoints. src is used by rebuild.
func WithCatalog(idx CatalogIndex, src index.Source) Option {
	return func(s *Server) {
		s.index = idx
		s.source = src
	}
}

// WithMetrics records request metrics through m.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.echo.Use(m.MetricsMiddleware())
		}
	}
}

// NewServer creates a new HTTP server.
func NewServer(sessions *Sessions, recommender Recommender, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("sessions cannot be nil")
	}
	if recommender == nil {
		return nil, fmt.Errorf("recommender cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := c.Request().Context()
			if requestIDPattern.MatchString(reqID) {
				ctx = logging.WithRequestID(ctx, reqID)
				c.SetRequest(c.Request().WithContext(ctx))
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:        e,
		sessions:    sessions,
		recommender: recommender,
		logger:      logger,
		config:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/profile", s.handleGetProfile)
	v1.PUT("/profile", s.handleMergeProfile)
	v1.POST("/recommendations", s.handleRecommend)
	v1.GET("/catalog/search", s.handleCatalogSearch)
	v1.POST("/catalog/rebuild", s.handleCatalogRebuild)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.index != nil {
		resp.Catalog = catalogStatus(c.Request().Context(), s.index)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) session(c echo.Context) (*profile.Store, error) {
	id := c.Request().Header.Get(HeaderSessionID)
	if id == "" {
		id = DefaultSession
	}
	store, err := s.sessions.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error(c.Request().Context(), "opening session failed", zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "session unavailable")
	}
	c.SetRequest(c.Request().WithContext(logging.WithSessionID(c.Request().Context(), id)))
	return store, nil
}

func (s *Server) handleGetProfile(c echo.Context) error {
	store, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ProfileResponse{Profile: store.Snapshot()})
}

func (s *Server) handleMergeProfile(c echo.Context) error {
	store, err := s.session(c)
	if err != nil {
		return err
	}
	var partial map[string]any
	if err := c.Bind(&partial); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(partial) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no profile fields given")
	}

	if err := store.Merge(c.Request().Context(), partial); err != nil {
		var ve *profile.ValidationError
		if errors.As(err, &ve) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Field: ve.Field,
			})
		}
		return err
	}

	resp := ProfileResponse{Profile: store.Snapshot()}
	if perr := store.PersistErr(); perr != nil {
		resp.Warning = perr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecommend(c echo.Context) error {
	store, err := s.session(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := s.recommender.Recommend(ctx, store)
	if err != nil {
		if rec != nil && errors.Is(err, context.Canceled) {
			s.logger.Warn(ctx, "recommendation cancelled by client", zap.String("run_id", rec.RunID))
			return c.JSON(http.StatusAccepted, rec)
		}
		s.logger.Error(ctx, "recommendation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "recommendation failed")
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCatalogSearch(c echo.Context) error {
	if s.index == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "catalog index not configured")
	}
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	k := 10
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchResults {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("k must be an integer between 1 and %d", maxSearchResults))
		}
		k = n
	}

	matches, err := s.index.QueryText(c.Request().Context(), q, k)
	if err != nil {
		if errors.Is(err, index.ErrIndexNotBuilt) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		s.logger.Error(c.Request().Context(), "catalog search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "catalog search failed")
	}

	resp := SearchResponse{Query: q, Results: make([]SearchResult, len(matches))}
	for i, m := range matches {
		resp.Results[i] = SearchResult{
			ID:       m.ID,
			Program:  catalog.ProgramFromMetadata(m.ID, m.Metadata),
			Distance: m.Distance,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCatalogRebuild(c echo.Context) error {
	if s.index == nil || s.source == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "catalog index not configured")
	}
	ctx := c.Request().Context()
	if err := s.index.Rebuild(ctx, s.source); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrMalformedSource) || errors.Is(err, catalog.ErrSourceNotFound) || errors.Is(err, index.ErrCorrupt) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Warn(ctx, "catalog rebuild failed", zap.Error(err))
		return c.JSON(status, ErrorResponse{Error: err.Error(), Catalog: catalogStatus(ctx, s.index)})
	}
	return c.JSON(http.StatusOK, catalogStatus(ctx, s.index))
}

// Start serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(ctx, "starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
