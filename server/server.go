// Package server exposes the routing engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/webential/deskrouter/engine"
	"github.com/webential/deskrouter/engine/embedding"
	"github.com/webential/deskrouter/engine/session"
	"github.com/webential/deskrouter/internal/profile"
)

// EmbeddingCache reports embedding cache effectiveness for the stats
// endpoint.
type EmbeddingCache interface {
	Stats() embedding.CacheStats
}

// Server wraps echo and the routing engine.
type Server struct {
	e         *echo.Echo
	engine    *engine.Engine
	profile   *profile.Profile
	cache     EmbeddingCache
	startedAt time.Time
}

// NewServer builds the HTTP server and registers all routes. cache may be
// nil when no caching provider is in play.
func NewServer(p *profile.Profile, eng *engine.Engine, cache EmbeddingCache) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds())
			return nil
		},
	}))

	s := &Server{e: e, engine: eng, profile: p, cache: cache, startedAt: time.Now()}

	api := e.Group("/api")
	api.POST("/chat", s.handleChat)
	api.POST("/reset", s.handleReset)
	api.GET("/departments", s.handleDepartments)
	api.GET("/history", s.handleHistory)
	api.GET("/stats", s.handleStats)
	api.GET("/health", s.handleHealth)

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(eng.Metrics().Handler()))

	return s
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	result, err := s.engine.HandleTurn(c.Request().Context(), req.SessionID, req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "turn handling failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, result)
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleReset(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	if err := s.engine.Reset(c.Request().Context(), req.SessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "reset failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

// departmentView hides routing emails from the public listing.
type departmentView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Slots       []string `json:"slots,omitempty"`
}

func (s *Server) handleDepartments(c echo.Context) error {
	snap := s.engine.Corpus().Snapshot()
	views := make([]departmentView, 0, snap.Len())
	for _, p := range snap.Profiles() {
		views = append(views, departmentView{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Slots:       p.SlotKeys(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"corpus_version": snap.Version(),
		"departments":    views,
	})
}

func (s *Server) handleHistory(c echo.Context) error {
	id := c.QueryParam("session_id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	sess, err := s.engine.Session(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"state":      sess.State,
		"transcript": sess.Transcript,
		"decisions":  sess.Decisions,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	snap := s.engine.Corpus().Snapshot()
	stats := map[string]any{
		"version":         s.profile.Version,
		"mode":            s.profile.Mode,
		"uptime_seconds":  int(time.Since(s.startedAt).Seconds()),
		"active_sessions": s.engine.ActiveSessions(),
		"corpus_version":  snap.Version(),
		"departments":     snap.Len(),
	}
	if s.cache != nil {
		stats["embedding_cache"] = s.cache.Stats()
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start begins serving. It blocks until the listener closes.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("http server starting", "addr", addr)
	return s.e.Start(addr)
}

// Shutdown drains in-flight requests, then stops the engine.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.e.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}
	if err := s.engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine shutdown", "error", err)
	}
	slog.Info("server stopped")
}
