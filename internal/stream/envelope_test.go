package stream

import (
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/opsync/internal/utils/ptr"
	"github.com/agentstation/opsync/pkg/telemetry"
)

func TestParseFrame(t *testing.T) {
	received := utc.New(time.Unix(5000, 0))

	tests := []struct {
		name      string
		frame     string
		wantOK    bool
		wantErr   bool
		class     telemetry.EntityClass
		init      bool
		timestamp time.Time
		seq       *uint64
	}{
		{
			name:      "init defaults to metrics",
			frame:     `{"type":"init","data":{"cpu":{"current":1}}}`,
			wantOK:    true,
			class:     telemetry.Metrics,
			init:      true,
			timestamp: received.Time,
		},
		{
			name:      "metrics_update with rfc3339",
			frame:     `{"type":"metrics_update","data":{"cpu":42},"timestamp":"2025-01-02T03:04:05Z"}`,
			wantOK:    true,
			class:     telemetry.Metrics,
			timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			name:      "alerts_update with unix seconds",
			frame:     `{"type":"alerts_update","data":{"alerts":[]},"timestamp":100}`,
			wantOK:    true,
			class:     telemetry.Alerts,
			timestamp: time.Unix(100, 0),
		},
		{
			name:      "generic update with millis and seq",
			frame:     `{"type":"update","entity":"incidents","data":{"incidents":[]},"timestamp":1700000000123,"seq":9}`,
			wantOK:    true,
			class:     telemetry.Incidents,
			timestamp: time.UnixMilli(1700000000123),
			seq:       ptr.To[uint64](9),
		},
		{
			name:    "update without entity",
			frame:   `{"type":"update","data":{}}`,
			wantErr: true,
		},
		{
			name:    "update with unknown entity",
			frame:   `{"type":"update","entity":"pods","data":{}}`,
			wantErr: true,
		},
		{
			name:    "missing data",
			frame:   `{"type":"metrics_update"}`,
			wantErr: true,
		},
		{
			name:    "null data",
			frame:   `{"type":"metrics_update","data":null}`,
			wantErr: true,
		},
		{
			name:    "bad timestamp",
			frame:   `{"type":"metrics_update","data":{},"timestamp":"yesterday"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			frame:   `hello`,
			wantErr: true,
		},
		{name: "ping ignored", frame: `{"type":"ping"}`},
		{name: "pong ignored", frame: `{"type":"pong"}`},
		{name: "unknown type ignored", frame: `{"type":"welcome","data":{}}`},
		{name: "unknown class update ignored", frame: `{"type":"pods_update","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok, err := ParseFrame([]byte(tt.frame), received)
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.class, u.Class)
			assert.Equal(t, telemetry.Push, u.Source)
			assert.Equal(t, tt.init, u.Init)
			assert.True(t, u.SourceTimestamp.Time.Equal(tt.timestamp), "got %s", u.SourceTimestamp.Time)
			assert.Equal(t, tt.seq, u.Sequence)
		})
	}
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second, 0.2)

	assert.Equal(t, time.Second, b.Base(1))
	assert.Equal(t, 2*time.Second, b.Base(2))
	assert.Equal(t, 16*time.Second, b.Base(5))
	assert.Equal(t, 30*time.Second, b.Base(6))
	assert.Equal(t, 30*time.Second, b.Base(1000))

	for range 200 {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)

		assert.LessOrEqual(t, b.Delay(50), 30*time.Second)
		assert.GreaterOrEqual(t, b.Delay(50), 24*time.Second)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0, 5)
	assert.Equal(t, time.Second, b.Initial)
	assert.Equal(t, 30*time.Second, b.Max)
	assert.Equal(t, 1.0, b.Jitter)

	noJitter := NewBackoff(10*time.Millisecond, 5*time.Millisecond, 0)
	assert.Equal(t, 10*time.Millisecond, noJitter.Max)
	assert.Equal(t, 10*time.Millisecond, noJitter.Delay(3))
}

func TestURLFromBase(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8000":        "ws://localhost:8000/ws/metrics",
		"https://console.example.com/": "wss://console.example.com/ws/metrics",
		"http://gw.local/sre?x=1":      "ws://gw.local/sre/ws/metrics",
	}
	for base, want := range tests {
		got, err := URLFromBase(base)
		require.NoError(t, err, base)
		assert.Equal(t, want, got)
	}

	_, err := URLFromBase("ftp://host")
	assert.Error(t, err)
	_, err = URLFromBase("/relative")
	assert.Error(t, err)
}
