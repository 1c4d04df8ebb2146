// Package admin serves the bridge's health, metrics and inspection endpoints.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgard/ircbridge/internal/bridge"
	"github.com/edgard/ircbridge/internal/database"
	"github.com/edgard/ircbridge/internal/logger"
)

// Store is the part of the journal the admin endpoints read.
type Store interface {
	Ping(ctx context.Context) error
	RecentSpawns(ctx context.Context, limit int) ([]database.SpawnEvent, error)
}

// FleetReporter reports the state of the running fleet.
type FleetReporter interface {
	Status() bridge.Status
}

// Deps contains the admin server's collaborators.
type Deps struct {
	Logger *slog.Logger
	Addr   string
	Store  Store
	Fleet  FleetReporter
}

// Server is the admin HTTP server.
type Server struct {
	echo      *echo.Echo
	addr      string
	logger    *slog.Logger
	store     Store
	fleet     FleetReporter
	startTime time.Time
}

// New creates the admin server and registers its routes.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "admin")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(logger.Middleware(log))

	s := &Server{
		echo:      e,
		addr:      deps.Addr,
		logger:    log,
		store:     deps.Store,
		fleet:     deps.Fleet,
		startTime: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/api/bots", s.handleBots)
	s.echo.GET("/api/spawns", s.handleSpawns)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting admin server", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping admin server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":       "unhealthy",
				"failed_check": "database",
				"error":        err.Error(),
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleBots(c echo.Context) error {
	if s.fleet == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no fleet running"})
	}
	return c.JSON(http.StatusOK, s.fleet.Status())
}

func (s *Server) handleSpawns(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no journal configured"})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		}
		limit = n
	}

	events, err := s.store.RecentSpawns(c.Request().Context(), limit)
	if err != nil {
		s.logger.ErrorContext(c.Request().Context(), "Failed to list spawn events", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list spawn events")
	}
	if events == nil {
		events = []database.SpawnEvent{}
	}
	return c.JSON(http.StatusOK, events)
}
