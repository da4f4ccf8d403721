package store

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/agentstation/opsync/pkg/telemetry"
)

// Callback receives a copy of a newly accepted snapshot.
type Callback func(telemetry.Snapshot)

// Handle identifies a subscription. The zero Handle is valid and does nothing
// when unsubscribed.
type Handle struct {
	sub *subscription
}

// Class returns the class the handle is subscribed to.
func (h Handle) Class() telemetry.EntityClass {
	if h.sub == nil {
		return ""
	}
	return h.sub.class
}

// Active reports whether the subscription still receives updates.
func (h Handle) Active() bool {
	return h.sub != nil && !h.sub.detached.Load()
}

type subscription struct {
	id       uint64
	class    telemetry.EntityClass
	callback Callback
	detached atomic.Bool
}

// queue holds snapshots of one class waiting for delivery.
type queue struct {
	pending  []telemetry.Snapshot
	draining bool
}

// Dispatcher fans accepted snapshots out to the subscribers of their class.
// Snapshots of one class are delivered by one goroutine at a time in the
// order they were enqueued.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[telemetry.EntityClass][]*subscription
	logger *zerolog.Logger

	qmu    sync.Mutex
	queues map[telemetry.EntityClass]*queue
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{
		subs:   make(map[telemetry.EntityClass][]*subscription),
		logger: logger,
		queues: make(map[telemetry.EntityClass]*queue),
	}
}

// Subscribe registers callback for class. Callbacks of one class are invoked
// in registration order.
func (d *Dispatcher) Subscribe(class telemetry.EntityClass, callback Callback) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	sub := &subscription{id: d.nextID, class: class, callback: callback}
	d.subs[class] = append(d.subs[class], sub)
	return Handle{sub: sub}
}

// Unsubscribe detaches a subscription. It is safe to call from inside a
// callback, including during a dispatch of the same class. It reports
// whether the handle was active.
func (d *Dispatcher) Unsubscribe(h Handle) bool {
	if h.sub == nil || h.sub.detached.Swap(true) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.subs[h.sub.class]
	for i, sub := range list {
		if sub.id == h.sub.id {
			// copy-on-write so in-flight dispatches keep their own slice
			next := make([]*subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			d.subs[h.sub.class] = next
			break
		}
	}
	return true
}

// Dispatch enqueues snap and flushes its class.
func (d *Dispatcher) Dispatch(snap telemetry.Snapshot) {
	d.Enqueue(snap)
	d.Flush(snap.Class)
}

// Enqueue appends snap to the pending deliveries of its class without
// running any callback.
func (d *Dispatcher) Enqueue(snap telemetry.Snapshot) {
	d.qmu.Lock()
	defer d.qmu.Unlock()

	q, ok := d.queues[snap.Class]
	if !ok {
		q = &queue{}
		d.queues[snap.Class] = q
	}
	q.pending = append(q.pending, snap.Clone())
}

// Flush delivers the pending snapshots of class. If another call is already
// delivering that class, including a caller further up the same stack, Flush
// returns at once and that call delivers the rest. Each snapshot reaches the
// subscriber set captured when its delivery starts. Subscribers detached
// mid-dispatch are skipped.
func (d *Dispatcher) Flush(class telemetry.EntityClass) {
	d.qmu.Lock()
	q, ok := d.queues[class]
	if !ok || q.draining {
		d.qmu.Unlock()
		return
	}
	q.draining = true

	for len(q.pending) > 0 {
		snap := q.pending[0]
		q.pending[0] = telemetry.Snapshot{}
		q.pending = q.pending[1:]
		d.qmu.Unlock()

		d.deliver(snap)

		d.qmu.Lock()
	}
	q.draining = false
	d.qmu.Unlock()
}

func (d *Dispatcher) deliver(snap telemetry.Snapshot) {
	d.mu.RLock()
	subs := d.subs[snap.Class]
	d.mu.RUnlock()

	for _, sub := range subs {
		if sub.detached.Load() {
			continue
		}
		d.invoke(sub, snap.Clone())
	}
}

// invoke runs one callback, recovering panics so the remaining subscribers
// still receive the update.
func (d *Dispatcher) invoke(sub *subscription, snap telemetry.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("class", sub.class.String()).
				Uint64("subscription", sub.id).
				Interface("panic", r).
				Msg("Subscriber callback panicked")
		}
	}()
	sub.callback(snap)
}

// Count returns the number of active subscribers for class.
func (d *Dispatcher) Count(class telemetry.EntityClass) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[class])
}

// Clear detaches every subscription.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for class, list := range d.subs {
		for _, sub := range list {
			sub.detached.Store(true)
		}
		delete(d.subs, class)
	}
}
