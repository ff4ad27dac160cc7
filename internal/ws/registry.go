package ws

import (
	"encoding/json"
	"sync"

	"github.com/fleetsense/telemetry/internal/metrics"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// Registry tracks the connected observers of one broadcast stream. Adds and
// removals hold the lock for the minimal region; broadcasts iterate a
// snapshot so a removal during fan-out is safe.
type Registry struct {
	stream string
	log    *logger.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewRegistry creates a registry for the named stream
func NewRegistry(stream string, log *logger.Logger) *Registry {
	return &Registry{
		stream:  stream,
		log:     log,
		clients: make(map[*Client]struct{}),
	}
}

// Register adds a client to the set
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	total := len(r.clients)
	r.mu.Unlock()

	metrics.ObserversConnected.WithLabelValues(r.stream).Set(float64(total))
	r.log.Infow("Observer registered", "stream", r.stream, "total", total)
}

// Unregister removes a client. Safe to call multiple times for the same
// client.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	_, present := r.clients[c]
	if present {
		delete(r.clients, c)
	}
	total := len(r.clients)
	r.mu.Unlock()

	c.close()

	if present {
		metrics.ObserversConnected.WithLabelValues(r.stream).Set(float64(total))
		r.log.Infow("Observer unregistered", "stream", r.stream, "total", total)
	}
}

// HasClients reports whether at least one observer is connected
func (r *Registry) HasClients() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients) > 0
}

// Broadcast sends a JSON payload to every connected observer. Clients whose
// queue is full are unregistered; the rest are unaffected.
func (r *Registry) Broadcast(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Errorw("Failed to marshal broadcast payload", "stream", r.stream, "error", err)
		return
	}

	r.mu.Lock()
	snapshot := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	for _, c := range snapshot {
		if !c.trySend(data) {
			r.log.Warnw("Observer send queue full, dropping client", "stream", r.stream)
			r.Unregister(c)
		}
	}
}
