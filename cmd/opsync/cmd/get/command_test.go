package get

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/opsync/cmd/opsync/cmd/cmdtest"
	"github.com/agentstation/opsync/internal/output"
	"github.com/agentstation/opsync/pkg/errors"
)

func TestGetPrintsPolledSnapshot(t *testing.T) {
	backend := cmdtest.NewBackend(t, map[string]string{
		"/api/alerts": `{"alerts":[{"id":"a1","name":"HighCPU","severity":"P1","status":"firing"}],"total":1}`,
	})
	app := cmdtest.NewApp(t, backend, output.FormatJSON)

	out, err := cmdtest.Run(t.Context(), NewCommand(app), "alerts")
	require.NoError(t, err)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "alerts", view["class"])
	assert.Equal(t, "poll", view["received_via"])
	assert.Contains(t, out, "HighCPU")
}

func TestGetTable(t *testing.T) {
	backend := cmdtest.NewBackend(t, map[string]string{
		"/api/runbooks": `{"runbooks":[{"id":"rb1","name":"Restart pod","execution_count":4,"success_rate":0.75}],"total":1}`,
	})
	app := cmdtest.NewApp(t, backend, output.FormatTable)

	out, err := cmdtest.Run(t.Context(), NewCommand(app), "runbooks")
	require.NoError(t, err)
	assert.Contains(t, out, "Runbooks")
	assert.Contains(t, out, "Restart pod")
	assert.Contains(t, out, "0.75")
}

func TestGetUnknownClass(t *testing.T) {
	backend := cmdtest.NewBackend(t, nil)
	app := cmdtest.NewApp(t, backend, output.FormatJSON)

	_, err := cmdtest.Run(t.Context(), NewCommand(app), "pods")
	assert.True(t, errors.IsValidationError(err))
	assert.Empty(t, backend.Requests())
}

func TestGetBackendFailure(t *testing.T) {
	backend := cmdtest.NewBackend(t, nil)
	backend.Fail("/api/incidents", http.StatusServiceUnavailable)
	app := cmdtest.NewApp(t, backend, output.FormatJSON)

	_, err := cmdtest.Run(t.Context(), NewCommand(app), "incidents")
	require.Error(t, err)
	assert.True(t, errors.IsUnavailable(err))
}

func TestGetRequiresOneClass(t *testing.T) {
	backend := cmdtest.NewBackend(t, nil)
	app := cmdtest.NewApp(t, backend, output.FormatJSON)

	_, err := cmdtest.Run(t.Context(), NewCommand(app))
	assert.Error(t, err)
}
