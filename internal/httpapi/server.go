// Package httpapi provides the HTTP API for corpusd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/document"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/query"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr string

	// IdentityHeader carries the caller's owner id. Requests without it
	// are rejected; corpusd sits behind a gateway that authenticates and
	// sets it.
	IdentityHeader string

	// MaxUploadBytes caps the multipart body size accepted by the
	// upload endpoint.
	MaxUploadBytes int64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:8080"
	}
	if c.IdentityHeader == "" {
		c.IdentityHeader = "X-Owner-ID"
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 11 * 1024 * 1024
	}
}

// Server provides HTTP endpoints for corpusd.
type Server struct {
	echo     *echo.Echo
	ingestor ingest.Service
	querier  query.Service
	logger   *zap.Logger
	config   Config
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, ingestor ingest.Service, querier query.Service, logger *zap.Logger) (*Server, error) {
	if ingestor == nil || querier == nil {
		return nil, fmt.Errorf("ingest and query services are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%d", cfg.MaxUploadBytes)))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		ingestor: ingestor,
		querier:  querier,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1", s.requireOwner)
	v1.POST("/documents", s.handleUpload)
	v1.GET("/documents", s.handleList)
	v1.GET("/documents/:id", s.handleGet)
	v1.DELETE("/documents/:id", s.handleDelete)
	v1.POST("/ask", s.handleAsk)
	v1.GET("/stats", s.handleStats)
}

const ownerKey = "owner_id"

// requireOwner rejects requests without the identity header and threads
// the owner and request ids through the request context for log
// correlation.
func (s *Server) requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := c.Request().Header.Get(s.config.IdentityHeader)
		if owner == "" {
			return echo.NewHTTPError(http.StatusUnauthorized,
				fmt.Sprintf("%s header is required", s.config.IdentityHeader))
		}
		c.Set(ownerKey, owner)

		ctx := logging.WithOwnerID(c.Request().Context(), owner)
		if reqID := c.Response().Header().Get(echo.HeaderXRequestID); reqID != "" {
			ctx = logging.WithRequestID(ctx, reqID)
		}
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func owner(c echo.Context) string {
	v, _ := c.Get(ownerKey).(string)
	return v
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// AskRequest is the request body for POST /api/v1/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// DocumentListResponse is the response body for GET /api/v1/documents.
type DocumentListResponse struct {
	Documents []*document.Document `json:"documents"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Documents      int            `json:"documents"`
	ByStatus       map[string]int `json:"by_status"`
	Chunks         int            `json:"chunks"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleUpload accepts a multipart file and enqueues it for processing.
func (s *Server) handleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer f.Close()

	doc, err := s.ingestor.Upload(c.Request().Context(), ingest.UploadInput{
		OwnerID:   owner(c),
		Filename:  fileHeader.Filename,
		SizeBytes: fileHeader.Size,
		Content:   f,
	})
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusAccepted, doc)
}

func (s *Server) handleList(c echo.Context) error {
	docs, err := s.ingestor.List(c.Request().Context(), owner(c))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, DocumentListResponse{Documents: docs})
}

func (s *Server) handleGet(c echo.Context) error {
	doc, err := s.ingestor.Get(c.Request().Context(), owner(c), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDelete(c echo.Context) error {
	if err := s.ingestor.Delete(c.Request().Context(), owner(c), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleAsk answers a question against the owner's indexed documents.
func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := s.querier.Ask(c.Request().Context(), owner(c), req.Question)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.ingestor.Stats(c.Request().Context(), owner(c))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, StatsResponse{
		Documents:      stats.Documents,
		ByStatus:       stats.ByStatus,
		Chunks:         stats.Chunks,
		TotalSizeBytes: stats.TotalSizeBytes,
	})
}

// mapError translates service errors into HTTP errors without leaking
// internal detail for unexpected failures.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, document.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, document.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	case errors.Is(err, document.ErrVersionMismatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
