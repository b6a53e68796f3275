package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/polyphonic-ai/maestro/pkg/notify"
	"github.com/polyphonic-ai/maestro/pkg/orchestrator"
	"github.com/polyphonic-ai/maestro/pkg/plan"
	"github.com/polyphonic-ai/maestro/pkg/store"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"

	// historyFetchLimit bounds how many persisted messages seed a
	// follow-up query. The planner and agents trim further.
	historyFetchLimit = 20

	defaultSessionsLimit = 50
)

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type queryResponse struct {
	orchestrator.RunResult
	DurationMS int64 `json:"duration_ms"`
}

func (s *Server) queryHandler(c *echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "query is required"})
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	history := s.sessionHistory(c.Request().Context(), sessionID)

	result, err := s.svc.Run(c.Request().Context(), req.Query, sessionID, history)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Detail: "request cancelled"})
		}
		s.logger.Error("Query failed", "session_id", sessionID, "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "query execution failed"})
	}

	s.recordExchange(req.Query, result)

	if s.notifier != nil {
		go s.notifier.NotifyRunCompleted(context.Background(), notify.RunCompletedInput{
			SessionID:   result.SessionID,
			Query:       req.Query,
			FinalOutput: result.FinalOutput,
			AgentCount:  result.AgentCount,
			LayerCount:  result.LayerCount,
			TotalTokens: result.TokenUsage.Total.Total,
			Elapsed:     result.Elapsed,
		})
	}

	return c.JSON(http.StatusOK, queryResponse{
		RunResult:  *result,
		DurationMS: result.Elapsed.Milliseconds(),
	})
}

// sessionHistory seeds a query from the store when configured, falling back
// to the in-process log.
func (s *Server) sessionHistory(ctx context.Context, sessionID string) []plan.HistoryEntry {
	if s.store == nil {
		return s.memory.history(sessionID)
	}
	messages, err := s.store.Messages(ctx, sessionID, historyFetchLimit)
	if err != nil {
		s.logger.Warn("Failed to load session history", "session_id", sessionID, "error", err)
		return s.memory.history(sessionID)
	}
	history := make([]plan.HistoryEntry, 0, len(messages))
	for _, m := range messages {
		history = append(history, plan.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return history
}

// recordExchange appends the exchange to the in-process log and, when
// configured, persists it. Persistence failures are logged only.
func (s *Server) recordExchange(query string, result *orchestrator.RunResult) {
	s.memory.append(result.SessionID,
		plan.HistoryEntry{Role: "user", Content: query},
		plan.HistoryEntry{Role: "assistant", Content: result.FinalOutput},
	)
	if s.store == nil {
		return
	}

	executionData, err := json.Marshal(map[string]any{
		"plan":            result.Plan,
		"execution_trace": result.ExecutionTrace,
		"token_usage":     result.TokenUsage,
		"agent_count":     result.AgentCount,
		"layer_count":     result.LayerCount,
	})
	if err != nil {
		s.logger.Warn("Failed to encode execution data", "session_id", result.SessionID, "error", err)
		executionData = nil
	}
	if err := s.store.SaveExchange(context.Background(), result.SessionID, query, result.FinalOutput, executionData); err != nil {
		s.logger.Error("Failed to persist exchange", "session_id", result.SessionID, "error", err)
	}
}

func (s *Server) healthHandler(c *echo.Context) error {
	status := healthStatusHealthy
	database := "not_configured"
	if s.store != nil {
		database = "connected"
		if err := s.store.Ping(c.Request().Context()); err != nil {
			status = healthStatusDegraded
			database = "error: " + err.Error()
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":         status,
		"database":       database,
		"ws_subscribers": s.svc.Broker().SubscriberCount(),
	})
}

// requireStore rejects session endpoints when persistence is disabled.
func (s *Server) requireStore(c *echo.Context) bool {
	if s.store != nil {
		return true
	}
	_ = c.JSON(http.StatusServiceUnavailable, ErrorResponse{Detail: "database not configured"})
	return false
}

func (s *Server) listSessionsHandler(c *echo.Context) error {
	if !s.requireStore(c) {
		return nil
	}
	limit := defaultSessionsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "invalid limit"})
		}
		limit = n
	}

	sessions, err := s.store.ListSessions(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list sessions", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "failed to list sessions"})
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSessionHandler(c *echo.Context) error {
	if !s.requireStore(c) {
		return nil
	}
	sess, err := s.store.GetSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Detail: "session not found"})
	}
	if err != nil {
		s.logger.Error("Failed to get session", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "failed to get session"})
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) sessionMessagesHandler(c *echo.Context) error {
	if !s.requireStore(c) {
		return nil
	}
	sessionID := c.Param("id")
	if _, err := s.store.GetSession(c.Request().Context(), sessionID); errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Detail: "session not found"})
	}

	messages, err := s.store.Messages(c.Request().Context(), sessionID, historyFetchLimit)
	if err != nil {
		s.logger.Error("Failed to get messages", "session_id", sessionID, "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "failed to get messages"})
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (s *Server) deleteSessionHandler(c *echo.Context) error {
	if !s.requireStore(c) {
		return nil
	}
	err := s.store.DeleteSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Detail: "session not found"})
	}
	if err != nil {
		s.logger.Error("Failed to delete session", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "failed to delete session"})
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) memoryHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.memory.summary())
}

func (s *Server) clearMemoryHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"cleared": s.memory.clear(),
	})
}
