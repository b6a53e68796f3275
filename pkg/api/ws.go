package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsWriteTimeout bounds each event write so one stuck client cannot pin the
// pump goroutine.
const wsWriteTimeout = 5 * time.Second

// wsHandler upgrades to WebSocket and streams trace events until the client
// disconnects.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	id, events := s.svc.Broker().Subscribe()
	defer s.svc.Broker().Unsubscribe(id)
	s.logger.Info("WebSocket subscriber connected", "subscriber", id)

	// Read loop detects client disconnects; inbound payloads are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("Failed to encode trace event", "error", err)
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				s.logger.Info("WebSocket subscriber disconnected", "subscriber", id)
				return nil
			}
		}
	}
}
