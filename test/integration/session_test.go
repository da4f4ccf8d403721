// Package integration runs a full session against an in-process console
// backend and reads it back through the bridge, the way a dashboard would.
package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/opsync"
	"github.com/agentstation/opsync/internal/bridge"
	"github.com/agentstation/opsync/pkg/telemetry"
)

var routes = map[string]string{
	"/api/alerts":          `{"alerts":[{"id":"a1","status":"firing"}],"total":1}`,
	"/api/incidents":       `{"incidents":[],"total":0}`,
	"/api/runbooks":        `{"runbooks":[],"total":0}`,
	"/api/skills":          `{"skills":[]}`,
	"/api/dashboard/stats": `{"alerts":{"total":1}}`,
	"/api/metrics/cpu":     `{"current":40}`,
	"/api/metrics/memory":  `{"current":50}`,
	"/api/metrics/alerts":  `{"last_7_days":[1]}`,
}

// newConsole serves REST from routes and forwards every frame sent on push
// to the push channel.
func newConsole(t *testing.T, push <-chan string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/metrics" {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				select {
				case frame := <-push:
					if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
						return
					}
				case <-stop:
					return
				}
			}
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(stop) })
	return srv
}

type message struct {
	Type  string          `json:"type"`
	Class string          `json:"class"`
	Via   string          `json:"via"`
	Data  json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(message) bool) message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg message
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func TestSessionThroughBridge(t *testing.T) {
	push := make(chan string, 1)
	console := newConsole(t, push)
	logger := zerolog.Nop()

	client, err := opsync.New(
		opsync.WithBaseURL(console.URL),
		opsync.WithDefaultPollInterval(time.Hour),
		opsync.WithBackoff(10*time.Millisecond, 50*time.Millisecond, 0),
		opsync.WithLogger(&logger),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	srv := bridge.New(client, &logger)
	for _, class := range telemetry.AllClasses() {
		_, err := client.Subscribe(class, srv.Publish)
		require.NoError(t, err)
	}
	client.OnConnectivityChanged(srv.PublishState)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, client.Start(ctx))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	// every class arrives by polling
	require.Eventually(t, func() bool {
		return len(client.All()) == len(telemetry.AllClasses())
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return client.Connectivity() == telemetry.Live
	}, 5*time.Second, 10*time.Millisecond)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	first := readUntil(t, conn, func(message) bool { return true })
	assert.Equal(t, bridge.TypeConnectivity, first.Type)
	readUntil(t, conn, func(m message) bool { return m.Type == bridge.TypeSnapshot && m.Class == "alerts" })

	// a newer push replaces the polled alerts and reaches the dashboard
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
	push <- `{"type":"alerts_update","data":{"alerts":[],"total":0},"timestamp":"` + future + `"}`

	pushed := readUntil(t, conn, func(m message) bool {
		return m.Type == bridge.TypeSnapshot && m.Class == "alerts" && m.Via == "push"
	})
	assert.Contains(t, string(pushed.Data), `"total":0`)

	snap, ok := client.Get(telemetry.Alerts)
	require.True(t, ok)
	assert.Equal(t, telemetry.Push, snap.ReceivedVia)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}
