package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/stream"
)

func wsURL(env *testEnv, token string) string {
	return strings.Replace(env.server.URL, "http", "ws", 1) + "/v1/stream?token=" + token
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) stream.Message {
	t.Helper()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var msg stream.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestStreamSubscribeAndFanOut(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(env, env.liveKey), nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	sub := stream.ClientMessage{Action: "subscribe", Channels: []string{"events"}}
	data, err := json.Marshal(sub)
	require.NoError(t, err)
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))

	reply := readFrame(t, ctx, ws)
	require.Equal(t, "subscribed", reply.Type)
	assert.Equal(t, []string{"events"}, reply.Channels)

	resp, _ := env.request(t, http.MethodPost, "/v1/ingest", env.liveKey, IngestRequest{
		Envelope: model.Envelope{AgentID: "a1"},
		Events: []model.IncomingEvent{
			{EventID: "ws-e1", Timestamp: time.Now().UTC().Format(time.RFC3339), EventType: "task_started", TaskID: "t1"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg := readFrame(t, ctx, ws)
	require.Equal(t, "event.new", msg.Type)
	event, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	assert.Contains(t, string(event), "ws-e1")
}

func TestStreamPingPong(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(env, env.liveKey), nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))
	reply := readFrame(t, ctx, ws)
	assert.Equal(t, "pong", reply.Type)
	assert.NotEmpty(t, reply.ServerTime)
}

func TestStreamInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(env, "hb_live_00000000000000000000000000000000"), nil)
	require.NoError(t, err)

	_, _, err = ws.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(stream.CloseInvalidToken), websocket.CloseStatus(err))
}

func TestStreamConnectionCap(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 0, stream.MaxConnsPerKey)
	for i := 0; i < stream.MaxConnsPerKey; i++ {
		ws, _, err := websocket.Dial(ctx, wsURL(env, env.liveKey), nil)
		require.NoError(t, err)
		conns = append(conns, ws)

		// A ping round trip guarantees the server registered the
		// connection before the next dial counts against the cap.
		require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))
		readFrame(t, ctx, ws)
	}
	defer func() {
		for _, ws := range conns {
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}
	}()

	extra, _, err := websocket.Dial(ctx, wsURL(env, env.liveKey), nil)
	require.NoError(t, err)
	_, _, err = extra.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(stream.CloseTooManyConnections), websocket.CloseStatus(err))
}
