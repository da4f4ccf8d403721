// Package reconciler decides whether candidate updates from the push channel
// and the poller replace the stored snapshot of their class. It is the only
// writer to the store.
package reconciler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/agentstation/utc"
	"github.com/rs/zerolog"

	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Store is the snapshot storage the reconciler writes to.
type Store interface {
	Get(class telemetry.EntityClass) (telemetry.Snapshot, bool)
	// Put writes snap and queues its notification.
	Put(snap telemetry.Snapshot)
	// Flush notifies subscribers of queued writes for class.
	Flush(class telemetry.EntityClass)
	Advance(snap telemetry.Snapshot)
}

// Reconciler applies updates to a store.
type Reconciler interface {
	// Accept offers one update and reports what happened to it.
	Accept(update telemetry.Update) Outcome

	// Run applies updates from ch in arrival order until ctx ends or ch is closed.
	Run(ctx context.Context, ch <-chan telemetry.Update) error

	// Stats returns outcome counters per class.
	Stats() map[telemetry.EntityClass]ClassStats
}

// ClassStats counts outcomes for one class.
type ClassStats struct {
	Accepted  uint64 `json:"accepted" yaml:"accepted"`
	Unchanged uint64 `json:"unchanged" yaml:"unchanged"`
	Stale     uint64 `json:"stale" yaml:"stale"`
	Invalid   uint64 `json:"invalid" yaml:"invalid"`
}

func (s *ClassStats) count(o Outcome) {
	switch o {
	case Accepted:
		s.Accepted++
	case Unchanged:
		s.Unchanged++
	case Stale:
		s.Stale++
	case Invalid:
		s.Invalid++
	}
}

type reconciler struct {
	// mu serializes decide-then-write so Accept is safe outside Run.
	// Subscribers are notified after it is released.
	mu     sync.Mutex
	store  Store
	policy Policy
	logger *zerolog.Logger
	now    func() utc.Time

	statsMu sync.Mutex
	stats   map[telemetry.EntityClass]*ClassStats
}

// New creates a reconciler that writes to store.
func New(store Store, opts ...Option) (Reconciler, error) {
	if store == nil {
		return nil, &errors.ValidationError{Field: "store", Message: "cannot be nil"}
	}
	options, err := defaultOptions().apply(opts...)
	if err != nil {
		return nil, err
	}
	return &reconciler{
		store:  store,
		policy: options.policy,
		logger: options.logger,
		now:    options.now,
		stats:  make(map[telemetry.EntityClass]*ClassStats),
	}, nil
}

// Accept implements Reconciler.
func (r *reconciler) Accept(u telemetry.Update) Outcome {
	outcome, reason := r.apply(u)

	event := r.logger.Debug()
	if outcome == Invalid {
		event = r.logger.Warn()
	}
	event.
		Str("class", u.Class.String()).
		Str("source", u.Source.String()).
		Time("source_timestamp", u.SourceTimestamp.Time).
		Bool("init", u.Init).
		Str("outcome", outcome.String()).
		Str("reason", reason).
		Msg("Update reconciled")

	if outcome == Accepted {
		// callbacks may call back into Accept
		r.store.Flush(u.Class)
	}
	return outcome
}

func (r *reconciler) apply(u telemetry.Update) (Outcome, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome, reason := r.decide(u)
	r.record(u.Class, outcome)

	switch outcome {
	case Accepted:
		r.store.Put(telemetry.NewSnapshot(u, r.now()))
	case Unchanged:
		r.store.Advance(telemetry.NewSnapshot(u, r.now()))
	}
	return outcome, reason
}

func (r *reconciler) decide(u telemetry.Update) (Outcome, string) {
	if !u.Class.IsValid() {
		return Invalid, "unknown class"
	}
	if len(u.Payload) == 0 || !json.Valid(u.Payload) {
		return Invalid, "payload is not JSON"
	}

	current, ok := r.store.Get(u.Class)
	if !ok {
		return r.policy.Decide(nil, u)
	}
	return r.policy.Decide(&current, u)
}

func (r *reconciler) record(class telemetry.EntityClass, o Outcome) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	s, ok := r.stats[class]
	if !ok {
		s = &ClassStats{}
		r.stats[class] = s
	}
	s.count(o)
}

// Run implements Reconciler.
func (r *reconciler) Run(ctx context.Context, ch <-chan telemetry.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-ch:
			if !ok {
				return nil
			}
			r.Accept(u)
		}
	}
}

// Stats implements Reconciler.
func (r *reconciler) Stats() map[telemetry.EntityClass]ClassStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	out := make(map[telemetry.EntityClass]ClassStats, len(r.stats))
	for class, s := range r.stats {
		out[class] = *s
	}
	return out
}
