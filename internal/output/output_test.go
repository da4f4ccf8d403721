package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/telemetry"
)

func alertsSnapshot() telemetry.Snapshot {
	return telemetry.Snapshot{
		Class:           telemetry.Alerts,
		Payload:         json.RawMessage(`{"alerts":[{"id":"a1","name":"HighCPU","severity":"P1","status":"firing"}],"total":1}`),
		SourceTimestamp: utc.New(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)),
		ReceivedVia:     telemetry.Poll,
		ReceivedAt:      utc.New(time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC)),
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"table", "JSON", "yaml", ""} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseFormat("xml")
	assert.True(t, errors.IsValidationError(err))

	assert.Equal(t, FormatYAML, DetectFormat("YAML"))
}

func TestSnapshotViewJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatJSON).Format(&buf, NewSnapshotView(alertsSnapshot())))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "alerts", got["class"])
	assert.Equal(t, "poll", got["received_via"])
	assert.Equal(t, "2025-01-02T03:04:05Z", got["source_timestamp"])
	assert.Equal(t, float64(1), got["data"].(map[string]any)["total"])
}

func TestSnapshotViewYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatYAML).Format(&buf, NewSnapshotView(alertsSnapshot())))

	out := buf.String()
	assert.Contains(t, out, "class: alerts")
	assert.Contains(t, out, "HighCPU")
	assert.Contains(t, out, "received_via: poll")
}

func TestSnapshotViewTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, NewSnapshotView(alertsSnapshot())))

	out := buf.String()
	assert.Contains(t, out, "Alerts (via poll")
	assert.Contains(t, out, "a1")
	assert.Contains(t, out, "HighCPU")
	assert.Contains(t, out, "firing")
}

func TestStatsFallsBackToFlatTable(t *testing.T) {
	snap := telemetry.Snapshot{
		Class:   telemetry.Stats,
		Payload: json.RawMessage(`{"alerts":{"total":3,"firing":1},"availability":{"api":99.9}}`),
	}
	d := NewSnapshotView(snap).TableData()
	assert.Equal(t, []string{"Key", "Value"}, d.Headers)
	assert.Equal(t, [][]string{
		{"alerts.firing", "1"},
		{"alerts.total", "3"},
		{"availability.api", "99.9"},
	}, d.Rows)
}

func TestMetricsTable(t *testing.T) {
	snap := telemetry.Snapshot{
		Class:   telemetry.Metrics,
		Payload: json.RawMessage(`{"cpu":{"current":45.2,"unit":"%"},"memory":{"current":62.8,"unit":"%"},"alerts":{"last_7_days":[5,8]}}`),
	}
	d := NewSnapshotView(snap).TableData()
	assert.Equal(t, [][]string{
		{"cpu", "45.2", "%"},
		{"memory", "62.8", "%"},
		{"alerts today", "8", ""},
	}, d.Rows)
}

func TestConnectivityView(t *testing.T) {
	color.NoColor = true

	state := telemetry.ConnectionState{
		Phase:       telemetry.Reconnecting,
		Attempt:     3,
		NextRetryAt: utc.New(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)),
		LastError:   "connection refused",
	}
	v := NewConnectivityView(state)
	assert.Equal(t, "degraded", v.Connectivity)
	assert.Equal(t, "2025-01-02T03:04:05Z", v.NextRetryAt)

	d := v.TableData()
	require.Len(t, d.Rows, 1)
	assert.Equal(t, "degraded", d.Rows[0][0])
	assert.Equal(t, "3", d.Rows[0][2])

	assert.Equal(t, "live", Connectivity(telemetry.Live))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Runbooks", Title(telemetry.Runbooks))
}

func TestTableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, buf.String())
}
