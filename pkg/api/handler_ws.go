package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/stream"
)

// streamHandler handles WS /v1/stream?token=. The upgrade happens
// before authentication so close codes can reach the client: an
// invalid token closes with 4001, a full per-key slot with 4002.
func (s *Server) streamHandler(c *echo.Context) error {
	if s.streams == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming not available")
	}

	ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	key, err := s.auth.Authenticate(c.Request().Context(), c.QueryParam("token"))
	if err != nil {
		_ = ws.Close(websocket.StatusCode(stream.CloseInvalidToken), "invalid token")
		return nil
	}

	conn, err := s.streams.Register(key.TenantID, key.ID)
	if errors.Is(err, stream.ErrTooManyConnections) {
		_ = ws.Close(websocket.StatusCode(stream.CloseTooManyConnections), "too many connections")
		return nil
	}
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "registration failed")
		return nil
	}

	// Blocks until the WebSocket closes.
	s.serveStream(c.Request().Context(), ws, conn)
	return nil
}

// serveStream pumps frames both ways: client frames feed the protocol
// handler, manager broadcasts drain from the connection's queue.
func (s *Server) serveStream(ctx context.Context, ws *websocket.Conn, conn *stream.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.streams.Unregister(conn)

	go func() {
		defer cancel()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			reply, err := conn.HandleClientMessage(data)
			if err != nil {
				_ = writeStream(ctx, ws, stream.Message{Type: "error", Data: map[string]any{"message": err.Error()}})
				continue
			}
			// A pong acknowledgement produces no reply.
			if reply.Type != "" {
				_ = writeStream(ctx, ws, reply)
			}
		}
	}()

	for {
		select {
		case msg := <-conn.Out():
			if err := writeStream(ctx, ws, msg); err != nil {
				return
			}
		case <-conn.Done():
			code, reason := conn.CloseStatus()
			if code == 0 {
				code = int(websocket.StatusNormalClosure)
			}
			_ = ws.Close(websocket.StatusCode(code), reason)
			return
		case <-ctx.Done():
			_ = ws.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func writeStream(ctx context.Context, ws *websocket.Conn, msg stream.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
