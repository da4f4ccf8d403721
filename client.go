// Package opsync keeps a local, continuously updated copy of an operations
// console backend's state: metrics, alerts, incidents, runbooks, skills and
// dashboard stats.
//
// A session combines two transports. A push channel (WebSocket) delivers
// updates as they happen, and a polling fetcher re-reads every class over
// REST on a timer, so the copy converges even while the push channel is
// down. A reconciler decides which candidate wins, the store keeps one
// snapshot per class, and subscribers are notified of every accepted
// snapshot.
//
// Example usage:
//
//	client, err := opsync.New(
//	    opsync.WithBaseURL("http://localhost:8000"),
//	    opsync.WithPollInterval(telemetry.Alerts, 15*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Subscribe(telemetry.Alerts, func(s telemetry.Snapshot) {
//	    var alerts telemetry.AlertList
//	    _ = s.Decode(&alerts)
//	    fmt.Println(len(alerts.Alerts), "alerts")
//	})
//
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package opsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/opsync/internal/poller"
	"github.com/agentstation/opsync/internal/stream"
	"github.com/agentstation/opsync/internal/transport"
	"github.com/agentstation/opsync/pkg/errors"
	"github.com/agentstation/opsync/pkg/reconciler"
	"github.com/agentstation/opsync/pkg/store"
	"github.com/agentstation/opsync/pkg/telemetry"
)

// Compile-time interface check to ensure proper implementation.
var _ Client = (*client)(nil)

// Snapshots provides read access to the latest accepted snapshots.
type Snapshots interface {
	// Get returns the snapshot of class, if one has been accepted.
	Get(class telemetry.EntityClass) (telemetry.Snapshot, bool)

	// All returns every stored snapshot in class order.
	All() []telemetry.Snapshot

	// Stats returns reconciliation outcome counters per class.
	Stats() map[telemetry.EntityClass]reconciler.ClassStats
}

// Subscriber manages snapshot subscriptions.
type Subscriber interface {
	// Subscribe registers callback for every accepted snapshot of class.
	// Callbacks run on the reconciling goroutine and must not block.
	Subscribe(class telemetry.EntityClass, callback store.Callback) (store.Handle, error)

	// Unsubscribe detaches a subscription. Unknown handles are a no-op.
	Unsubscribe(h store.Handle) bool
}

// Connectivity reports push channel health.
type Connectivity interface {
	// Connectivity is live only while the push channel is open.
	Connectivity() telemetry.Connectivity

	// ConnectionState returns the detailed push channel state.
	ConnectionState() telemetry.ConnectionState

	// OnConnectivityChanged registers a callback for state transitions.
	OnConnectivityChanged(fn ConnectivityHook)
}

// Lifecycle controls the session.
type Lifecycle interface {
	// Start launches the reconciler, the poll loops and the push channel.
	// The session stops when ctx ends or Close is called.
	Start(ctx context.Context) error

	// Refresh polls class once and reconciles the result before returning.
	Refresh(ctx context.Context, class telemetry.EntityClass) error

	// Close stops polling, closes the push channel without reconnecting and
	// drops every subscription.
	Close() error
}

// Client is a live session against a console backend.
type Client interface {
	Snapshots
	Subscriber
	Connectivity
	Actions
	Lifecycle
}

// client is the internal implementation of the Client interface.
type client struct {
	options *options
	logger  *zerolog.Logger

	store      *store.Store
	reconciler reconciler.Reconciler
	transport  *transport.Client
	poller     *poller.Poller
	stream     *stream.Manager // nil when push is disabled

	// updates carries candidates from both transports to the reconciler
	updates chan telemetry.Update
	hooks   *hooks

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// New creates a Client. Nothing connects until Start.
func New(opts ...Option) (Client, error) {
	options, err := defaults().apply(opts...)
	if err != nil {
		return nil, err
	}

	c := &client{
		options: options,
		logger:  options.logger,
		store:   store.New(options.logger),
		updates: make(chan telemetry.Update, options.updateBuffer),
		hooks:   newHooks(),
		done:    make(chan struct{}),
	}

	if c.reconciler, err = reconciler.New(c.store, reconciler.WithLogger(options.logger)); err != nil {
		return nil, errors.WrapResource("create", "reconciler", "", err)
	}

	if c.transport, err = transport.New(options.baseURL, options.httpClient); err != nil {
		return nil, err
	}

	c.poller = poller.New(c.transport, c.updates, poller.Config{
		Intervals:       options.pollIntervals,
		Classes:         options.classes,
		DefaultInterval: options.pollInterval,
		Timeout:         options.pollTimeout,
	}, options.logger)

	if !options.pushDisabled {
		streamURL := options.streamURL
		if streamURL == "" {
			if streamURL, err = stream.URLFromBase(options.baseURL); err != nil {
				return nil, err
			}
		}
		c.stream, err = stream.New(stream.Config{
			URL:            streamURL,
			InitialBackoff: options.initialBackoff,
			MaxBackoff:     options.maxBackoff,
			Jitter:         options.jitter,
		}, c.updates, options.logger)
		if err != nil {
			return nil, err
		}
		c.stream.OnStateChange(c.hooks.triggerConnectivity)
	}

	c.logger.Debug().
		Str("base_url", options.baseURL).
		Bool("push", c.stream != nil).
		Int("classes", len(options.classes)).
		Msg("Session created")

	return c, nil
}

// Get implements Snapshots.
func (c *client) Get(class telemetry.EntityClass) (telemetry.Snapshot, bool) {
	return c.store.Get(class)
}

// All implements Snapshots.
func (c *client) All() []telemetry.Snapshot {
	return c.store.All()
}

// Stats implements Snapshots.
func (c *client) Stats() map[telemetry.EntityClass]reconciler.ClassStats {
	return c.reconciler.Stats()
}

// Subscribe implements Subscriber.
func (c *client) Subscribe(class telemetry.EntityClass, callback store.Callback) (store.Handle, error) {
	if !class.IsValid() {
		return store.Handle{}, errors.NewValidationError("class", class, "unknown entity class")
	}
	if callback == nil {
		return store.Handle{}, errors.NewValidationError("callback", nil, "cannot be nil")
	}
	if c.isClosed() {
		return store.Handle{}, errors.ErrClosed
	}
	return c.store.Subscribe(class, callback), nil
}

// Unsubscribe implements Subscriber.
func (c *client) Unsubscribe(h store.Handle) bool {
	return c.store.Unsubscribe(h)
}

// Connectivity implements Connectivity.
func (c *client) Connectivity() telemetry.Connectivity {
	return c.ConnectionState().Connectivity()
}

// ConnectionState implements Connectivity. Without a push channel the
// state is permanently closed.
func (c *client) ConnectionState() telemetry.ConnectionState {
	if c.stream == nil {
		return telemetry.ConnectionState{Phase: telemetry.Closed}
	}
	return c.stream.State()
}

// OnConnectivityChanged implements Connectivity.
func (c *client) OnConnectivityChanged(fn ConnectivityHook) {
	c.hooks.OnConnectivityChanged(fn)
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
