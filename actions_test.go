package opsync

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/logging"
	"github.com/agentstation/opsync/pkg/telemetry"
)

func TestAcknowledgeAlertRefreshesAlerts(t *testing.T) {
	f := newFakeConsole(t)
	f.set("POST /api/alerts/a1/acknowledge", `{"success":true,"message":"acknowledged"}`)
	c := newTestClient(t, f, WithPushDisabled(true))

	require.NoError(t, c.Refresh(t.Context(), telemetry.Alerts))
	f.set("/api/alerts", `{"alerts":[{"id":"a1","status":"acknowledged"}],"total":1}`)

	result, err := c.AcknowledgeAlert(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "acknowledged", result.Message)

	// the re-poll has been reconciled by the time the action returns
	snap, ok := c.Get(telemetry.Alerts)
	require.True(t, ok)
	var alerts telemetry.AlertList
	require.NoError(t, snap.Decode(&alerts))
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, "acknowledged", alerts.Alerts[0].Status)
	assert.Equal(t, 2, f.getCount("/api/alerts"))
}

func TestExecuteRunbookRefreshesRunbooksAndIncidents(t *testing.T) {
	f := newFakeConsole(t)
	f.set("POST /api/runbooks/rb1/execute", `{"success":true,"execution_id":"exec-1"}`)
	c := newTestClient(t, f, WithPushDisabled(true))

	result, err := c.ExecuteRunbook(t.Context(), "rb1", map[string]any{"dry_run": true})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", result.ExecutionID)

	req, ok := f.lastRequest(http.MethodPost, "/api/runbooks/rb1/execute")
	require.True(t, ok)
	assert.JSONEq(t, `{"dry_run":true}`, req.Body)

	assert.Equal(t, 1, f.getCount("/api/runbooks"))
	assert.Equal(t, 1, f.getCount("/api/incidents"))
	assert.Equal(t, 0, f.getCount("/api/alerts"))

	_, ok = c.Get(telemetry.Runbooks)
	assert.True(t, ok)
	_, ok = c.Get(telemetry.Incidents)
	assert.True(t, ok)
}

func TestExecuteRunbookWithoutParamsSendsNoBody(t *testing.T) {
	f := newFakeConsole(t)
	f.set("POST /api/runbooks/rb1/execute", `{"success":true}`)
	c := newTestClient(t, f, WithPushDisabled(true))

	_, err := c.ExecuteRunbook(t.Context(), "rb1", nil)
	require.NoError(t, err)

	req, ok := f.lastRequest(http.MethodPost, "/api/runbooks/rb1/execute")
	require.True(t, ok)
	assert.Empty(t, req.Body)
}

func TestSkillActions(t *testing.T) {
	f := newFakeConsole(t)
	f.set("POST /api/skills/sre_alert_handler/execute", `{"success":true,"message":"done"}`)
	f.set("POST /api/skills/sre_alert_handler/reload", `{"success":true}`)
	f.set("PUT /api/skills/sre_alert_handler/config", `{"success":true}`)
	c := newTestClient(t, f, WithPushDisabled(true))

	_, err := c.ExecuteSkill(t.Context(), "sre_alert_handler", map[string]any{"alert_id": "a1"})
	require.NoError(t, err)
	req, ok := f.lastRequest(http.MethodPost, "/api/skills/sre_alert_handler/execute")
	require.True(t, ok)
	assert.JSONEq(t, `{"params":{"alert_id":"a1"}}`, req.Body)

	_, err = c.ExecuteSkill(t.Context(), "sre_alert_handler", nil)
	require.NoError(t, err)
	req, _ = f.lastRequest(http.MethodPost, "/api/skills/sre_alert_handler/execute")
	assert.JSONEq(t, `{"params":{}}`, req.Body)

	_, err = c.ReloadSkill(t.Context(), "sre_alert_handler")
	require.NoError(t, err)

	_, err = c.UpdateSkillConfig(t.Context(), "sre_alert_handler", map[string]any{"threshold": 90})
	require.NoError(t, err)
	req, ok = f.lastRequest(http.MethodPut, "/api/skills/sre_alert_handler/config")
	require.True(t, ok)
	assert.JSONEq(t, `{"config":{"threshold":90}}`, req.Body)

	assert.Equal(t, 4, f.getCount("/api/skills"))

	_, err = c.UpdateSkillConfig(t.Context(), "sre_alert_handler", nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestRejectedActionIsAnActionError(t *testing.T) {
	f := newFakeConsole(t)
	f.set("POST /api/alerts/a1/acknowledge", `{"success":false,"error":"alert already resolved"}`)
	c := newTestClient(t, f, WithPushDisabled(true))

	result, err := c.AcknowledgeAlert(t.Context(), "a1")
	require.Error(t, err)
	assert.True(t, errors.IsActionFailed(err))
	assert.True(t, result.Failed())

	var actionErr *errors.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, ActionAcknowledgeAlert, actionErr.Action)
	assert.Equal(t, "a1", actionErr.Target)
	assert.Equal(t, "alert already resolved", actionErr.Message)

	// failures do not refresh
	assert.Equal(t, 0, f.getCount("/api/alerts"))
}

func TestActionLogsCarryActionAndTarget(t *testing.T) {
	f := newFakeConsole(t)
	f.set("POST /api/alerts/a9/acknowledge", `{"success":false,"error":"unknown alert"}`)
	logs := logging.NewTestLogger(t)
	c := newTestClient(t, f, WithPushDisabled(true), WithLogger(logs.Logger))

	_, err := c.AcknowledgeAlert(t.Context(), "a9")
	require.Error(t, err)

	logs.AssertContains(t, "Action rejected")
	logs.AssertContains(t, `"action":"acknowledge-alert"`)
	logs.AssertContains(t, `"target":"a9"`)
	logs.AssertContains(t, `"reason":"unknown alert"`)
}

func TestActionHTTPFailure(t *testing.T) {
	f := newFakeConsole(t)
	f.fail("/api/skills/broken/reload", http.StatusInternalServerError)
	c := newTestClient(t, f, WithPushDisabled(true))

	_, err := c.ReloadSkill(t.Context(), "broken")
	require.Error(t, err)
	assert.True(t, errors.IsActionFailed(err))
	assert.True(t, errors.IsUnavailable(err))
	assert.Equal(t, 0, f.getCount("/api/skills"))
}

func TestActionValidationAndClosed(t *testing.T) {
	f := newFakeConsole(t)
	c := newTestClient(t, f, WithPushDisabled(true))

	_, err := c.AcknowledgeAlert(t.Context(), "")
	assert.True(t, errors.IsValidationError(err))

	require.NoError(t, c.Close())
	_, err = c.ReloadSkill(t.Context(), "sre_alert_handler")
	assert.True(t, errors.IsActionFailed(err))
	assert.ErrorIs(t, err, errors.ErrClosed)
}
