// Package store holds the latest accepted snapshot per entity class and
// notifies subscribers when it changes.
package store

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/opsync/pkg/telemetry"
)

// Reader is the read side of the store.
type Reader interface {
	Get(class telemetry.EntityClass) (telemetry.Snapshot, bool)
	All() []telemetry.Snapshot
}

// Store keeps at most one snapshot per class. Reads never block on the
// network. Writes come from a single reconciler.
type Store struct {
	mu        sync.RWMutex
	snapshots map[telemetry.EntityClass]telemetry.Snapshot

	// writeMu orders a write with its enqueue so subscribers of a class
	// observe snapshots in write order.
	writeMu    sync.Mutex
	dispatcher *Dispatcher
	logger     *zerolog.Logger
}

// New creates an empty store.
func New(logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		snapshots:  make(map[telemetry.EntityClass]telemetry.Snapshot),
		dispatcher: NewDispatcher(logger),
		logger:     logger,
	}
}

// Get returns a copy of the current snapshot for class.
func (s *Store) Get(class telemetry.EntityClass) (telemetry.Snapshot, bool) {
	s.mu.RLock()
	snap, ok := s.snapshots[class]
	s.mu.RUnlock()

	if !ok {
		return telemetry.Snapshot{}, false
	}
	return snap.Clone(), true
}

// All returns copies of every stored snapshot ordered by class.
func (s *Store) All() []telemetry.Snapshot {
	s.mu.RLock()
	out := make([]telemetry.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}

// Classes returns the classes that currently hold a snapshot.
func (s *Store) Classes() []telemetry.EntityClass {
	s.mu.RLock()
	defer s.mu.RUnlock()

	classes := make([]telemetry.EntityClass, 0, len(s.snapshots))
	for c := range s.snapshots {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// Set replaces the snapshot of its class and notifies subscribers.
// Callbacks run after every lock is released, so they may call Get or
// write to the store again.
func (s *Store) Set(snap telemetry.Snapshot) {
	s.Put(snap)
	s.Flush(snap.Class)
}

// Put replaces the snapshot of its class and queues the notification without
// running callbacks. Flush delivers it.
func (s *Store) Put(snap telemetry.Snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.put(snap)
	s.dispatcher.Enqueue(snap)
	s.logger.Debug().
		Str("class", snap.Class.String()).
		Str("source", snap.ReceivedVia.String()).
		Int("subscribers", s.dispatcher.Count(snap.Class)).
		Msg("Snapshot replaced")
}

// Flush delivers queued notifications of class in write order.
func (s *Store) Flush(class telemetry.EntityClass) {
	s.dispatcher.Flush(class)
}

// Advance records a snapshot whose content equals the stored one. Metadata
// moves forward but subscribers are not notified.
func (s *Store) Advance(snap telemetry.Snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.put(snap)
}

func (s *Store) put(snap telemetry.Snapshot) {
	stored := snap.Clone()
	s.mu.Lock()
	s.snapshots[snap.Class] = stored
	s.mu.Unlock()
}

// Subscribe registers a callback for accepted snapshots of class.
func (s *Store) Subscribe(class telemetry.EntityClass, callback Callback) Handle {
	return s.dispatcher.Subscribe(class, callback)
}

// Unsubscribe detaches a subscription.
func (s *Store) Unsubscribe(h Handle) bool {
	return s.dispatcher.Unsubscribe(h)
}

// Clear drops every subscription. Stored snapshots are kept.
func (s *Store) Clear() {
	s.dispatcher.Clear()
}
