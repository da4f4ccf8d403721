package opsync

import (
	"sync"

	"github.com/agentstation/opsync/pkg/telemetry"
)

// ConnectivityHook is called after every push channel state transition.
type ConnectivityHook func(state telemetry.ConnectionState)

// hooks manages connectivity callbacks.
type hooks struct {
	mu             sync.RWMutex
	onConnectivity []ConnectivityHook
}

func newHooks() *hooks {
	return &hooks{}
}

// OnConnectivityChanged registers a callback for connection state changes.
func (h *hooks) OnConnectivityChanged(fn ConnectivityHook) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnectivity = append(h.onConnectivity, fn)
}

// triggerConnectivity runs every registered hook outside the lock.
func (h *hooks) triggerConnectivity(state telemetry.ConnectionState) {
	h.mu.RLock()
	fns := make([]ConnectivityHook, len(h.onConnectivity))
	copy(fns, h.onConnectivity)
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (h *hooks) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnectivity = nil
}
