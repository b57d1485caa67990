package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-storage/internal/domain"
)

func newTestServer(t *testing.T) (*Hub, *gorillaws.Conn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readMessage(t *testing.T, conn *gorillaws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_SubscribeAndBroadcast(t *testing.T) {
	hub, conn := newTestServer(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Period: domain.PeriodDaily}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribe, ack.Type)
	assert.Equal(t, domain.PeriodDaily, ack.Period)

	require.Eventually(t, func() bool { return hub.SubscriberCount(domain.PeriodDaily) == 1 },
		time.Second, 10*time.Millisecond)

	// other periods are not delivered
	hub.BroadcastBestScore(domain.PeriodWeekly, "u2", 5)
	hub.BroadcastBestScore(domain.PeriodDaily, "u1", 42)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeBestScore, msg.Type)
	assert.Equal(t, domain.PeriodDaily, msg.Period)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, float64(42), data["score"])
}

func TestHub_PingPong(t *testing.T) {
	_, conn := newTestServer(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestHub_SubscribeRequiresPeriod(t *testing.T) {
	_, conn := newTestServer(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, conn := newTestServer(t)

	require.Eventually(t, func() bool { return hub.TotalConnections() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.TotalConnections() == 0 },
		2*time.Second, 10*time.Millisecond)
}
