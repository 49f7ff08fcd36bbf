// Package http exposes the index over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/commands"
	"github.com/fyrsmithlabs/semindex/internal/indexer"
	"github.com/fyrsmithlabs/semindex/internal/logging"
	"github.com/fyrsmithlabs/semindex/internal/search"
	"github.com/fyrsmithlabs/semindex/internal/vectorstore"
)

// Index is the index surface served over HTTP.
type Index interface {
	UpsertItems(ctx context.Context, items []indexer.Item) (*indexer.Report, error)
	DeleteItems(ctx context.Context, collection, tenantID string, ids []string) error
	DeleteByTenant(ctx context.Context, tenantID string) error
	DeleteByFilter(ctx context.Context, collection, tenantID string, filter vectorstore.Filter) error
	Search(ctx context.Context, text, tenantID string, topK int) ([]search.Result, error)
	SearchCollection(ctx context.Context, text, tenantID, collection string, topK int) ([]search.Result, error)
}

// Enqueuer queues index commands for asynchronous processing.
type Enqueuer interface {
	Publish(ctx context.Context, cmd commands.Command) (string, error)
}

// Server provides HTTP endpoints for semindex.
type Server struct {
	echo     *echo.Echo
	index    Index
	enqueuer Enqueuer
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithEnqueuer enables POST /v1/commands.
func WithEnqueuer(e Enqueuer) Option {
	return func(s *Server) { s.enqueuer = e }
}

// NewServer creates a new HTTP server.
func NewServer(index Index, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:   e,
		index:  index,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/items", s.handleUpsert)
	v1.POST("/collections/:collection/delete", s.handleDelete)
	v1.DELETE("/tenants/:tenant", s.handleDeleteTenant)
	v1.POST("/search", s.handleSearch)
	if s.enqueuer != nil {
		v1.POST("/commands", s.handleEnqueue)
	}
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleUpsert(c echo.Context) error {
	var req UpsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Items) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "items field is required")
	}

	report, err := s.index.UpsertItems(c.Request().Context(), req.Items)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, UpsertResponse{
		Total:   report.Total,
		Indexed: report.Indexed,
		Failed:  report.Failed,
	})
}

func (s *Server) handleDelete(c echo.Context) error {
	collection := c.Param("collection")
	var req DeleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	switch {
	case len(req.IDs) > 0 && len(req.Filter) > 0:
		return echo.NewHTTPError(http.StatusBadRequest, "ids and filter are mutually exclusive")
	case len(req.IDs) == 0 && len(req.Filter) == 0:
		return echo.NewHTTPError(http.StatusBadRequest, "ids or filter is required")
	case req.TenantID == "":
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	ctx := logging.WithTenant(c.Request().Context(), req.TenantID)
	var err error
	if len(req.IDs) > 0 {
		err = s.index.DeleteItems(ctx, collection, req.TenantID, req.IDs)
	} else {
		err = s.index.DeleteByFilter(ctx, collection, req.TenantID, toFilter(req.Filter))
	}
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteTenant(c echo.Context) error {
	tenant := c.Param("tenant")
	ctx := logging.WithTenant(c.Request().Context(), tenant)
	if err := s.index.DeleteByTenant(ctx, tenant); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	ctx := logging.WithTenant(c.Request().Context(), req.TenantID)
	var (
		results []search.Result
		err     error
	)
	if req.Collection != "" {
		results, err = s.index.SearchCollection(ctx, req.Query, req.TenantID, req.Collection, req.TopK)
	} else {
		results, err = s.index.Search(ctx, req.Query, req.TenantID, req.TopK)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

func (s *Server) handleEnqueue(c echo.Context) error {
	var cmd commands.Command
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := s.enqueuer.Publish(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, EnqueueResponse{ID: id})
}

// toFilter converts JSON-decoded values to filter values. Whole numbers
// decode as float64 and become int64.
func toFilter(raw map[string]any) vectorstore.Filter {
	filter := make(vectorstore.Filter, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			filter[k] = int64(f)
			continue
		}
		filter[k] = v
	}
	return filter
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
