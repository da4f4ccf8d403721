// Package telemetry defines the entity classes, snapshots and updates that flow
// through an opsync session.
package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/agentstation/utc"

	"github.com/agentstation/opsync/internal/utils/ptr"
	"github.com/agentstation/opsync/pkg/errors"
)

// EntityClass is a category of telemetry kept as one snapshot.
type EntityClass string

// Entity classes.
const (
	Metrics   EntityClass = "metrics"
	Alerts    EntityClass = "alerts"
	Incidents EntityClass = "incidents"
	Runbooks  EntityClass = "runbooks"
	Skills    EntityClass = "skills"
	Stats     EntityClass = "stats"
)

// String returns the string representation of an entity class.
func (c EntityClass) String() string {
	return string(c)
}

// IsValid reports whether the class is known.
func (c EntityClass) IsValid() bool {
	for _, known := range AllClasses() {
		if c == known {
			return true
		}
	}
	return false
}

// CoreClasses returns the classes every session synchronizes.
func CoreClasses() []EntityClass {
	return []EntityClass{Metrics, Alerts, Incidents}
}

// AllClasses returns every known class.
func AllClasses() []EntityClass {
	return []EntityClass{Metrics, Alerts, Incidents, Runbooks, Skills, Stats}
}

// ParseEntityClass validates a class name.
func ParseEntityClass(s string) (EntityClass, error) {
	c := EntityClass(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", errors.NewValidationError("class", s, "unknown entity class")
	}
	return c, nil
}

// Source identifies the transport that delivered an update.
type Source string

// Sources.
const (
	Push Source = "push"
	Poll Source = "poll"
)

// String returns the string representation of a source.
func (s Source) String() string {
	return string(s)
}

// Update is a candidate state for one class, produced by the poller or the
// push channel and handed to the reconciler.
type Update struct {
	Class           EntityClass
	Payload         json.RawMessage
	Source          Source
	SourceTimestamp utc.Time
	Init            bool
	Sequence        *uint64
}

// Snapshot is the accepted state of one class.
type Snapshot struct {
	Class           EntityClass     `json:"class" yaml:"class"`
	Payload         json.RawMessage `json:"data" yaml:"data"`
	SourceTimestamp utc.Time        `json:"source_timestamp" yaml:"source_timestamp"`
	ReceivedVia     Source          `json:"received_via" yaml:"received_via"`
	Init            bool            `json:"init,omitempty" yaml:"init,omitempty"`
	Sequence        *uint64         `json:"seq,omitempty" yaml:"seq,omitempty"`
	ReceivedAt      utc.Time        `json:"received_at" yaml:"received_at"`
}

// NewSnapshot builds a snapshot from an accepted update.
func NewSnapshot(u Update, receivedAt utc.Time) Snapshot {
	return Snapshot{
		Class:           u.Class,
		Payload:         clonePayload(u.Payload),
		SourceTimestamp: u.SourceTimestamp,
		ReceivedVia:     u.Source,
		Init:            u.Init,
		Sequence:        cloneSeq(u.Sequence),
		ReceivedAt:      receivedAt,
	}
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (s Snapshot) Clone() Snapshot {
	s.Payload = clonePayload(s.Payload)
	s.Sequence = cloneSeq(s.Sequence)
	return s
}

// Decode unmarshals the payload into v.
func (s Snapshot) Decode(v any) error {
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return errors.WrapParse("json", s.Class.String(), err)
	}
	return nil
}

// SamePayload reports whether two payloads carry the same JSON content,
// ignoring insignificant whitespace.
func SamePayload(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func clonePayload(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	out := make(json.RawMessage, len(p))
	copy(out, p)
	return out
}

func cloneSeq(seq *uint64) *uint64 {
	if seq == nil {
		return nil
	}
	return ptr.To(*seq)
}
