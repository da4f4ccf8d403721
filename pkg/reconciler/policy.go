package reconciler

import (
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Outcome is the result of offering an update to the reconciler.
type Outcome string

// String returns the string representation of an outcome.
func (o Outcome) String() string {
	return string(o)
}

const (
	// Accepted updates replaced the snapshot and were dispatched.
	Accepted Outcome = "accepted"
	// Unchanged updates carried the stored content. Metadata advanced without dispatch.
	Unchanged Outcome = "unchanged"
	// Stale updates lost to the stored snapshot and were dropped.
	Stale Outcome = "stale"
	// Invalid updates named an unknown class or carried no usable payload.
	Invalid Outcome = "invalid"
)

// Policy decides whether an update supersedes the current snapshot.
type Policy interface {
	// Decide returns the outcome and a short reason for logs. current is nil
	// when the class has no snapshot yet.
	Decide(current *telemetry.Snapshot, update telemetry.Update) (Outcome, string)
}

// OrderingPolicy orders updates by source timestamp. Ties go to the push
// channel over polling, then to the higher sequence hint.
type OrderingPolicy struct{}

// NewOrderingPolicy returns the default ordering policy.
func NewOrderingPolicy() *OrderingPolicy {
	return &OrderingPolicy{}
}

// Decide implements Policy.
func (p *OrderingPolicy) Decide(current *telemetry.Snapshot, u telemetry.Update) (Outcome, string) {
	if current == nil {
		return Accepted, "first snapshot"
	}

	same := telemetry.SamePayload(current.Payload, u.Payload)

	if u.Init {
		if same {
			return Unchanged, "init matches stored content"
		}
		return Accepted, "init frame"
	}

	incoming := u.SourceTimestamp.Time
	stored := current.SourceTimestamp.Time

	if incoming.Before(stored) {
		return Stale, "older than stored snapshot"
	}

	if incoming.Equal(stored) && current.ReceivedVia == telemetry.Push {
		if u.Source == telemetry.Poll {
			return Stale, "push wins timestamp tie"
		}
		if current.Sequence != nil && u.Sequence != nil && *u.Sequence < *current.Sequence {
			return Stale, "lower sequence on timestamp tie"
		}
	}

	if same {
		return Unchanged, "content matches stored snapshot"
	}
	return Accepted, "newer snapshot"
}
