package reconciler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/opsync/internal/utils/ptr"
	"github.com/agentstation/opsync/pkg/reconciler"
	"github.com/agentstation/opsync/pkg/store"
	"github.com/agentstation/opsync/pkg/telemetry"
)

func setup(t *testing.T) (*store.Store, reconciler.Reconciler) {
	t.Helper()
	logger := zerolog.Nop()
	st := store.New(&logger)
	r, err := reconciler.New(st, reconciler.WithLogger(&logger))
	require.NoError(t, err)
	return st, r
}

func update(class telemetry.EntityClass, src telemetry.Source, ts int64, payload string) telemetry.Update {
	return telemetry.Update{
		Class:           class,
		Payload:         json.RawMessage(payload),
		Source:          src,
		SourceTimestamp: utc.New(time.Unix(ts, 0)),
	}
}

func TestNewValidation(t *testing.T) {
	_, err := reconciler.New(nil)
	assert.Error(t, err)

	logger := zerolog.Nop()
	_, err = reconciler.New(store.New(&logger), reconciler.WithPolicy(nil))
	assert.Error(t, err)

	_, err = reconciler.New(store.New(&logger), reconciler.WithClock(nil))
	assert.Error(t, err)
}

func TestAcceptRules(t *testing.T) {
	tests := []struct {
		name   string
		stored *telemetry.Update
		in     telemetry.Update
		want   reconciler.Outcome
	}{
		{
			name: "first snapshot",
			in:   update(telemetry.Alerts, telemetry.Poll, 10, `{"a":1}`),
			want: reconciler.Accepted,
		},
		{
			name:   "newer replaces",
			stored: ptr.To(update(telemetry.Alerts, telemetry.Poll, 10, `{"a":1}`)),
			in:     update(telemetry.Alerts, telemetry.Poll, 20, `{"a":2}`),
			want:   reconciler.Accepted,
		},
		{
			name:   "older is stale",
			stored: ptr.To(update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":42}`)),
			in:     update(telemetry.Metrics, telemetry.Poll, 90, `{"cpu":40}`),
			want:   reconciler.Stale,
		},
		{
			name:   "push beats poll on tie",
			stored: ptr.To(update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":42}`)),
			in:     update(telemetry.Metrics, telemetry.Poll, 100, `{"cpu":41}`),
			want:   reconciler.Stale,
		},
		{
			name:   "push replaces poll on tie",
			stored: ptr.To(update(telemetry.Metrics, telemetry.Poll, 100, `{"cpu":41}`)),
			in:     update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":42}`),
			want:   reconciler.Accepted,
		},
		{
			name: "lower sequence loses tie",
			stored: func() *telemetry.Update {
				u := update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":42}`)
				u.Sequence = ptr.To[uint64](5)
				return &u
			}(),
			in: func() telemetry.Update {
				u := update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":41}`)
				u.Sequence = ptr.To[uint64](4)
				return u
			}(),
			want: reconciler.Stale,
		},
		{
			name: "higher sequence wins tie",
			stored: func() *telemetry.Update {
				u := update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":42}`)
				u.Sequence = ptr.To[uint64](5)
				return &u
			}(),
			in: func() telemetry.Update {
				u := update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":43}`)
				u.Sequence = ptr.To[uint64](6)
				return u
			}(),
			want: reconciler.Accepted,
		},
		{
			name:   "init overrides newer poll",
			stored: ptr.To(update(telemetry.Metrics, telemetry.Poll, 500, `{"cpu":1}`)),
			in: func() telemetry.Update {
				u := update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":2}`)
				u.Init = true
				return u
			}(),
			want: reconciler.Accepted,
		},
		{
			name:   "identical payload is unchanged",
			stored: ptr.To(update(telemetry.Alerts, telemetry.Poll, 10, `{"a":1}`)),
			in:     update(telemetry.Alerts, telemetry.Push, 20, `{ "a": 1 }`),
			want:   reconciler.Unchanged,
		},
		{
			name: "unknown class",
			in:   update("pods", telemetry.Poll, 10, `{}`),
			want: reconciler.Invalid,
		},
		{
			name: "empty payload",
			in:   update(telemetry.Alerts, telemetry.Poll, 10, ``),
			want: reconciler.Invalid,
		},
		{
			name: "non JSON payload",
			in:   update(telemetry.Alerts, telemetry.Push, 10, `{"a":`),
			want: reconciler.Invalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, r := setup(t)
			if tt.stored != nil {
				require.Equal(t, reconciler.Accepted, r.Accept(*tt.stored))
			}
			assert.Equal(t, tt.want, r.Accept(tt.in))
		})
	}
}

// A poll issued at 90 that arrives after a push stamped 100 must not win.
func TestPushThenSlowPoll(t *testing.T) {
	st, r := setup(t)
	var notified []string
	st.Subscribe(telemetry.Metrics, func(s telemetry.Snapshot) { notified = append(notified, string(s.Payload)) })

	r.Accept(update(telemetry.Metrics, telemetry.Push, 100, `{"cpu":42}`))
	r.Accept(update(telemetry.Metrics, telemetry.Poll, 90, `{"cpu":40}`))

	got, ok := st.Get(telemetry.Metrics)
	require.True(t, ok)
	assert.JSONEq(t, `{"cpu":42}`, string(got.Payload))
	assert.Equal(t, telemetry.Push, got.ReceivedVia)
	assert.Equal(t, []string{`{"cpu":42}`}, notified)
}

// With the backend clock 30s ahead, a push sent at local 100 is stamped 130.
// Polls issued before 130 lose to it and the first one after it wins.
func TestBackendClockAheadOfPolls(t *testing.T) {
	_, r := setup(t)

	assert.Equal(t, reconciler.Accepted, r.Accept(update(telemetry.Alerts, telemetry.Push, 130, `{"alerts":[]}`)))
	assert.Equal(t, reconciler.Stale, r.Accept(update(telemetry.Alerts, telemetry.Poll, 110, `{"alerts":[{"id":"a1"}]}`)))
	assert.Equal(t, reconciler.Accepted, r.Accept(update(telemetry.Alerts, telemetry.Poll, 131, `{"alerts":[{"id":"a1"}]}`)))
}

// Subscribers may offer updates from their callbacks. Same-class updates are
// delivered after the callback returns.
func TestAcceptFromCallback(t *testing.T) {
	st, r := setup(t)
	var seen []string
	st.Subscribe(telemetry.Alerts, func(s telemetry.Snapshot) {
		seen = append(seen, string(s.Payload))
		if len(seen) == 1 {
			assert.Equal(t, reconciler.Accepted, r.Accept(update(telemetry.Alerts, telemetry.Poll, 20, `{"n":2}`)))
			assert.Equal(t, reconciler.Accepted, r.Accept(update(telemetry.Incidents, telemetry.Poll, 20, `{"incidents":[]}`)))
			assert.Len(t, seen, 1)
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Accept(update(telemetry.Alerts, telemetry.Poll, 10, `{"n":1}`))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Accept from a callback did not return")
	}

	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, seen)
	_, ok := st.Get(telemetry.Incidents)
	assert.True(t, ok)
}

func TestIdempotence(t *testing.T) {
	st, r := setup(t)
	calls := 0
	st.Subscribe(telemetry.Alerts, func(telemetry.Snapshot) { calls++ })

	u := update(telemetry.Alerts, telemetry.Poll, 10, `{"alerts":[{"id":"a1"}]}`)
	assert.Equal(t, reconciler.Accepted, r.Accept(u))
	assert.Equal(t, reconciler.Unchanged, r.Accept(u))
	assert.Equal(t, reconciler.Unchanged, r.Accept(u))

	assert.Equal(t, 1, calls)
	stats := r.Stats()[telemetry.Alerts]
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Unchanged)
}

func TestInitBeatsPriorPoll(t *testing.T) {
	st, r := setup(t)
	r.Accept(update(telemetry.Metrics, telemetry.Poll, 200, `{"cpu":10}`))

	initFrame := update(telemetry.Metrics, telemetry.Push, 150, `{"cpu":20}`)
	initFrame.Init = true
	assert.Equal(t, reconciler.Accepted, r.Accept(initFrame))

	got, _ := st.Get(telemetry.Metrics)
	assert.JSONEq(t, `{"cpu":20}`, string(got.Payload))
	assert.True(t, got.Init)
}

// Whatever the arrival order, the update with the greatest timestamp ends up stored.
func TestOrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := range 50 {
		t.Run(fmt.Sprintf("round-%d", round), func(t *testing.T) {
			st, r := setup(t)

			updates := make([]telemetry.Update, 0, 8)
			for i := range 8 {
				src := telemetry.Poll
				if rng.Intn(2) == 0 {
					src = telemetry.Push
				}
				updates = append(updates, update(telemetry.Incidents, src, int64(i+1)*10, fmt.Sprintf(`{"v":%d}`, i)))
			}
			rng.Shuffle(len(updates), func(i, j int) { updates[i], updates[j] = updates[j], updates[i] })

			for _, u := range updates {
				r.Accept(u)
			}

			got, ok := st.Get(telemetry.Incidents)
			require.True(t, ok)
			assert.JSONEq(t, `{"v":7}`, string(got.Payload))
			assert.Equal(t, int64(80), got.SourceTimestamp.Unix())
		})
	}
}

func TestRunAppliesInArrivalOrder(t *testing.T) {
	st, r := setup(t)
	ch := make(chan telemetry.Update, 4)
	ch <- update(telemetry.Alerts, telemetry.Poll, 1, `{"v":1}`)
	ch <- update(telemetry.Alerts, telemetry.Poll, 3, `{"v":3}`)
	ch <- update(telemetry.Alerts, telemetry.Push, 2, `{"v":2}`)
	close(ch)

	require.NoError(t, r.Run(context.Background(), ch))

	got, _ := st.Get(telemetry.Alerts)
	assert.JSONEq(t, `{"v":3}`, string(got.Payload))
	stats := r.Stats()[telemetry.Alerts]
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(1), stats.Stale)
}

func TestRunStopsOnContext(t *testing.T) {
	_, r := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, make(chan telemetry.Update)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWithClockStampsReceipt(t *testing.T) {
	logger := zerolog.Nop()
	st := store.New(&logger)
	fixed := utc.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	r, err := reconciler.New(st, reconciler.WithClock(func() utc.Time { return fixed }))
	require.NoError(t, err)

	r.Accept(update(telemetry.Stats, telemetry.Poll, 1, `{}`))
	got, _ := st.Get(telemetry.Stats)
	assert.True(t, got.ReceivedAt.Time.Equal(fixed.Time))
}
