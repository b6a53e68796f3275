package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/polyphonic-ai/maestro/pkg/config"
)

// Server is the gateway's HTTP surface.
type Server struct {
	echo       *echo.Echo
	gateway    *Gateway
	httpServer *http.Server
}

// ErrorResponse is the JSON body for every error status.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func NewServer(gateway *Gateway) *Server {
	e := echo.New()
	s := &Server{echo: e, gateway: gateway}

	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/servers", s.serversHandler)
	e.GET("/tools", s.toolsHandler)
	e.POST("/execute", s.executeHandler)
	e.POST("/batch", s.batchHandler)
	e.GET("/metrics", s.metricsHandler)
	e.POST("/servers/register", s.registerHandler)
	e.DELETE("/servers/:name", s.unregisterHandler)
	e.POST("/servers/:name/health", s.checkHealthHandler)
	e.POST("/cache/clear", s.cacheClearHandler)

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

// writeError maps gateway error kinds to the wire statuses: 404 unknown
// server/tool, 503 circuit open, 504 timeout, 502 upstream, 500 internal.
func writeError(c *echo.Context, err error) error {
	var circuitErr *CircuitOpenError
	var timeoutErr *TimeoutError
	var upstreamErr *UpstreamError

	switch {
	case errors.Is(err, ErrBackendNotFound), errors.Is(err, ErrToolNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Detail: err.Error()})
	case errors.As(err, &circuitErr):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Detail: err.Error()})
	case errors.As(err, &timeoutErr):
		return c.JSON(http.StatusGatewayTimeout, ErrorResponse{Detail: err.Error()})
	case errors.As(err, &upstreamErr):
		return c.JSON(http.StatusBadGateway, ErrorResponse{Detail: err.Error()})
	default:
		slog.Error("Gateway internal error", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "internal gateway error"})
	}
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.gateway.Health())
}

func (s *Server) serversHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"servers": s.gateway.Servers(),
	})
}

func (s *Server) toolsHandler(c *echo.Context) error {
	byBackend := s.gateway.ListTools()

	type toolEntry struct {
		Server      string               `json:"server"`
		Name        string               `json:"name"`
		Description string               `json:"description"`
		Parameters  map[string]ToolParam `json:"parameters"`
	}
	tools := make([]toolEntry, 0)
	byServer := make(map[string]int, len(byBackend))
	for server, descriptors := range byBackend {
		byServer[server] = len(descriptors)
		for _, d := range descriptors {
			tools = append(tools, toolEntry{
				Server:      server,
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total_tools": len(tools),
		"tools":       tools,
		"by_server":   byServer,
	})
}

type executeRequest struct {
	Server   string         `json:"server"`
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params"`
	UseCache *bool          `json:"use_cache,omitempty"`
}

func (s *Server) executeHandler(c *echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
	}
	if req.Server == "" || req.Tool == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "server and tool are required"})
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	result, err := s.gateway.Execute(c.Request().Context(), req.Server, req.Tool, req.Params, useCache)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

type batchRequestBody struct {
	Requests []BatchRequest `json:"requests"`
	Parallel bool           `json:"parallel"`
}

func (s *Server) batchHandler(c *echo.Context) error {
	var req batchRequestBody
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
	}
	if len(req.Requests) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "requests must be non-empty"})
	}

	results := s.gateway.ExecuteBatch(c.Request().Context(), req.Requests, req.Parallel)
	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":      len(results),
		"successful": successful,
		"failed":     len(results) - successful,
		"results":    results,
	})
}

func (s *Server) metricsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.gateway.Metrics())
}

func (s *Server) registerHandler(c *echo.Context) error {
	var req struct {
		Name         string   `json:"name"`
		URL          string   `json:"url"`
		Enabled      *bool    `json:"enabled,omitempty"`
		Capabilities []string `json:"capabilities"`
		TimeoutSecs  float64  `json:"timeout,omitempty"`
		Priority     int      `json:"priority,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
	}
	if req.Name == "" || req.URL == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "name and url are required"})
	}

	cfg := config.BackendConfig{
		Name:         req.Name,
		URL:          req.URL,
		Enabled:      true,
		Capabilities: req.Capabilities,
		Timeout:      time.Duration(req.TimeoutSecs * float64(time.Second)),
		Priority:     req.Priority,
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	if err := s.gateway.RegisterBackend(c.Request().Context(), cfg); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "registered " + req.Name,
	})
}

func (s *Server) unregisterHandler(c *echo.Context) error {
	name := c.Param("name")
	if err := s.gateway.UnregisterBackend(name); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "unregistered " + name,
	})
}

func (s *Server) checkHealthHandler(c *echo.Context) error {
	name := c.Param("name")
	err := s.gateway.CheckBackend(c.Request().Context(), name)
	if errors.Is(err, ErrBackendNotFound) {
		return writeError(c, err)
	}

	b, _ := s.gateway.backend(name)
	healthy, tools := b.snapshot()
	resp := map[string]any{
		"server":  name,
		"healthy": healthy,
		"tools":   len(tools),
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) cacheClearHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"cleared": s.gateway.ClearCache(),
	})
}
