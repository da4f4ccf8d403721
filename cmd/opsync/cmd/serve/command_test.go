package serve

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/opsync/cmd/opsync/cmd/cmdtest"
	"github.com/agentstation/opsync/internal/output"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServeExposesPolledSnapshots(t *testing.T) {
	backend := cmdtest.NewBackend(t, map[string]string{
		"/api/alerts": `{"alerts":[{"id":"a1"}],"total":1}`,
	})
	app := cmdtest.NewApp(t, backend, output.FormatJSON)
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	cmd := NewCommand(app)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--addr", addr})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var body struct {
		Data struct {
			Class string          `json:"class"`
			Data  json.RawMessage `json:"data"`
		} `json:"data"`
	}
	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/snapshots/alerts")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, "alerts", body.Data.Class)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
