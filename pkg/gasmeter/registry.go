package gasmeter

import (
	"slices"
	"sync"
)

// Registry is the producer-side collection of meter senders. The component
// that runs metered operations owns one and calls Report with the gas each
// operation consumed; every meter started against the registry sees it.
type Registry struct {
	mu     sync.Mutex
	sinks  []*Sender
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a sender. Registering with a closed registry closes the
// sender immediately, so the meter sees a disconnected channel.
func (r *Registry) Register(s *Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		s.Close()
		return
	}
	r.sinks = append(r.sinks, s)
}

// Report sends gas to every registered meter. Senders whose meter has been
// closed are dropped. Reports from one goroutine arrive in order.
// The registry lock guards only the sink list, never a Send.
func (r *Registry) Report(gas Gas) {
	ReportsTotal.Inc()

	r.mu.Lock()
	sinks := slices.Clone(r.sinks)
	r.mu.Unlock()

	var dead []*Sender
	for _, s := range sinks {
		if !s.Connected() {
			dead = append(dead, s)
			continue
		}
		s.Send(gas)
	}

	if len(dead) > 0 {
		r.prune(dead)
	}
}

// prune drops dead senders that are still registered.
func (r *Registry) prune(dead []*Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.sinks[:0]
	for _, s := range r.sinks {
		if slices.Contains(dead, s) {
			s.Close()
			SinksPrunedTotal.Inc()
			continue
		}
		live = append(live, s)
	}
	clear(r.sinks[len(live):])
	r.sinks = live
}

// Len returns the number of registered senders, including ones whose meter
// closed since the last Report.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// Close drops every sender. Meters started against this registry drain what
// is already queued and then stop on their own.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sinks {
		s.Close()
	}
	r.sinks = nil
	r.closed = true
}
