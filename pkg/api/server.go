// Package api is the orchestrator's HTTP surface: query execution, session
// history, the in-memory conversation summary and the WebSocket trace
// stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/polyphonic-ai/maestro/pkg/notify"
	"github.com/polyphonic-ai/maestro/pkg/orchestrator"
	"github.com/polyphonic-ai/maestro/pkg/store"
)

// Server serves the orchestrator API. The store and notifier are optional;
// without a store, history lives in process memory only.
type Server struct {
	echo       *echo.Echo
	svc        *orchestrator.Service
	store      *store.Store
	notifier   *notify.Service
	memory     *memoryLog
	httpServer *http.Server
	logger     *slog.Logger
}

// ErrorResponse is the JSON body for every error status.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func NewServer(svc *orchestrator.Service, st *store.Store, notifier *notify.Service) *Server {
	e := echo.New()
	s := &Server{
		echo:     e,
		svc:      svc,
		store:    st,
		notifier: notifier,
		memory:   newMemoryLog(),
		logger:   slog.Default().With("component", "api"),
	}

	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/queries", s.queryHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.GET("/sessions/:id/messages", s.sessionMessagesHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)
	v1.GET("/memory", s.memoryHandler)
	v1.DELETE("/memory", s.clearMemoryHandler)

	return s
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			return next(c)
		}
	}
}
