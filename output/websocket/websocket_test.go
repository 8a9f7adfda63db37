package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/thermstream/message"
	"github.com/c360/thermstream/metric"
	tu "github.com/c360/thermstream/testutil"
)

func startHub(t *testing.T, snapshot SnapshotFunc, registry *metric.MetricsRegistry) (*Hub, string) {
	t.Helper()
	hub, err := NewHub(DefaultConfig(), snapshot, registry, nil)
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Stop(time.Second)
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_SnapshotOnConnect(t *testing.T) {
	_, url := startHub(t, func() []string { return []string{"s1", "s2"} }, nil)
	conn := dial(t, url)

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeSnapshot, env.Type)

	var payload map[string][]string
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, []string{"s1", "s2"}, payload["active_alerts"])
}

func TestHub_BroadcastAlert(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	hub, url := startHub(t, nil, registry)

	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	rec := message.NewAlertRecord(tu.Reading("s1", 90), true, "high temperature")
	hub.BroadcastAlert(rec)

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeAlert, env.Type)
		assert.NotEmpty(t, env.ID)

		var got message.AlertRecord
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, rec.ID(), got.RecordID)
		assert.Equal(t, "high temperature", got.AlertReason)
	}

	assert.Equal(t, int64(2), hub.Sent())
	assert.Equal(t, 2.0, testutil.ToFloat64(hub.metrics.messagesSent))
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, url := startHub(t, nil, nil)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)

	// Broadcasting with nobody listening is a no-op.
	hub.BroadcastAlert(message.NewAlertRecord(tu.Reading("s1", 25), false, ""))
	assert.Zero(t, hub.Sent())
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, err := NewHub(DefaultConfig(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, hub.Start(context.Background()))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Stop(time.Second))
	assert.Zero(t, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestHub_DuplicateMetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	_, err := NewHub(DefaultConfig(), nil, registry, nil)
	require.NoError(t, err)
	_, err = NewHub(DefaultConfig(), nil, registry, nil)
	assert.Error(t, err)
}
