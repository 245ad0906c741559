// Package diag fans device status lines out to observers (logger,
// UI terminal, tests). Lines the reliability layer does not consume
// itself (anything that is not a NACK or PONG) land here.
package diag

import (
	"sync"

	"github.com/mirrorlab/mirrorlink/internal/logging"
	"github.com/mirrorlab/mirrorlink/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Observer receives broadcast lines on Out until Closed is signalled.
type Observer struct {
	Out       chan string
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the observer is closed (idempotent).
func (o *Observer) Close() {
	o.closeOnce.Do(func() {
		close(o.Closed)
	})
}

type Hub struct {
	mu        sync.RWMutex
	observers map[*Observer]struct{}
	BufSize   int
	Policy    BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{observers: make(map[*Observer]struct{})} }

// Subscribe creates, registers and returns a new observer. The caller
// must Remove it when done.
func (h *Hub) Subscribe() *Observer {
	buf := h.BufSize
	if buf <= 0 {
		buf = 64
	}
	o := &Observer{Out: make(chan string, buf), Closed: make(chan struct{})}
	h.mu.Lock()
	h.observers[o] = struct{}{}
	n := len(h.observers)
	h.mu.Unlock()
	metrics.SetDiagObservers(n)
	return o
}

// Remove unregisters an observer; safe to call multiple times.
func (h *Hub) Remove(o *Observer) {
	h.mu.Lock()
	_, existed := h.observers[o]
	if existed {
		delete(h.observers, o)
	}
	n := len(h.observers)
	h.mu.Unlock()
	select {
	case <-o.Closed:
	default:
		o.Close()
	}
	metrics.SetDiagObservers(n)
	if existed && n == 0 {
		logging.L().Debug("diag_last_observer_gone")
	}
}

// Broadcast sends a line to all observers honoring the backpressure policy.
func (h *Hub) Broadcast(line string) {
	for _, o := range h.Snapshot() {
		select {
		case o.Out <- line:
		default:
			if h.Policy == PolicyKick {
				metrics.IncDiagKick()
				o.Close() // observer drains and removes itself
			} else {
				metrics.IncDiagDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current observers (read-only use).
func (h *Hub) Snapshot() []*Observer {
	h.mu.RLock()
	observers := make([]*Observer, 0, len(h.observers))
	for o := range h.observers {
		observers = append(observers, o)
	}
	h.mu.RUnlock()
	return observers
}

// Count returns the number of active observers.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.observers); h.mu.RUnlock(); return n }
