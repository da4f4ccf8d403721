// Package constants provides shared constants used throughout the opsync codebase.
// This includes poll intervals, timeouts, backoff limits, and buffer sizes
// that should be consistent across the library, the bridge and the CLI.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the transport-level timeout for backend REST calls
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultPollTimeout bounds a single poll request so a hung endpoint cannot stall its loop
	DefaultPollTimeout = 10 * time.Second

	// DefaultActionTimeout bounds a single mutating action request
	DefaultActionTimeout = 30 * time.Second

	// DefaultShutdownTimeout is how long the CLI waits for a session to tear down
	DefaultShutdownTimeout = 5 * time.Second
)

// Polling constants
const (
	// DefaultPollInterval is the refresh interval observed for alerts, incidents and dashboard stats
	DefaultPollInterval = 30 * time.Second

	// MinPollInterval guards against configurations that would hammer the backend
	MinPollInterval = 1 * time.Second
)

// Push channel constants
const (
	// DefaultStreamPath is the push endpoint exposed by the console backend
	DefaultStreamPath = "/ws/metrics"

	// DefaultInitialBackoff is the first reconnect delay after a channel drop
	DefaultInitialBackoff = 1 * time.Second

	// DefaultMaxBackoff caps the exponential reconnect delay
	DefaultMaxBackoff = 30 * time.Second

	// DefaultBackoffJitter is the fraction of each delay that is randomized
	DefaultBackoffJitter = 0.2

	// DialTimeout is the timeout for the websocket opening handshake
	DialTimeout = 10 * time.Second

	// PongWait is how long a silent connection is tolerated before it is considered dead
	PongWait = 60 * time.Second

	// PingPeriod is how often pings are sent. Must be less than PongWait.
	PingPeriod = (PongWait * 9) / 10

	// WriteWait is the time allowed to write a control frame to the peer
	WriteWait = 10 * time.Second

	// MaxFrameSize is the maximum size of a push frame in bytes (10 MB)
	MaxFrameSize = 10 << 20
)

// Limit constants define various limits and capacities
const (
	// UpdateBufferSize is the capacity of the reconciler input channel
	UpdateBufferSize = 256

	// BridgeClientBufferSize is the per-client send buffer of the bridge hub
	BridgeClientBufferSize = 256

	// MaxResponseSize caps how much of a REST response body is read (10 MB)
	MaxResponseSize = 10 << 20
)

// File permission constants define standard Unix file permissions
const (
	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)
