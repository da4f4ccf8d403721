package telemetry

import "github.com/agentstation/utc"

// Phase is the lifecycle phase of the push channel.
type Phase string

// Push channel phases.
const (
	Connecting   Phase = "connecting"
	Open         Phase = "open"
	Closed       Phase = "closed"
	Reconnecting Phase = "reconnecting"
)

// ConnectionState describes the push channel. Only the push channel manager writes it.
type ConnectionState struct {
	Phase       Phase    `json:"phase" yaml:"phase"`
	Attempt     int      `json:"attempt" yaml:"attempt"`
	NextRetryAt utc.Time `json:"next_retry_at,omitzero" yaml:"next_retry_at,omitempty"`
	LastError   string   `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Connectivity is the consumer-facing freshness indicator.
type Connectivity string

// Connectivity values.
const (
	Live     Connectivity = "live"
	Degraded Connectivity = "degraded"
)

// Connectivity derives the consumer indicator from the phase.
func (s ConnectionState) Connectivity() Connectivity {
	if s.Phase == Open {
		return Live
	}
	return Degraded
}
