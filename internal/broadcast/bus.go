package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/fleetsense/telemetry/internal/metrics"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// Payload is a JSON-serializable message handed from ingestion workers to
// the WebSocket observers.
type Payload map[string]interface{}

// Observers is the dispatcher-side view of a WebSocket registry.
type Observers interface {
	HasClients() bool
	Broadcast(payload interface{})
}

// DefaultGpsBufferSize bounds the GPS bus; on overflow the oldest pending
// payload is evicted.
const DefaultGpsBufferSize = 50

// retryInterval paces redelivery attempts for buses that retain payloads
// while no observer is connected.
const retryInterval = 500 * time.Millisecond

// GpsBus is a bounded FIFO of live GPS payloads. Producers never block:
// on overflow the oldest payload is dropped (and the eviction logged), and
// payloads that arrive while no observer is connected are discarded by the
// dispatcher, not retained.
type GpsBus struct {
	maxSize   int
	observers Observers
	log       *logger.Logger

	mu      sync.Mutex
	pending []Payload
	signal  chan struct{}
}

// NewGpsBus creates a GPS bus with the given capacity (0 means default)
func NewGpsBus(maxSize int, observers Observers, log *logger.Logger) *GpsBus {
	if maxSize <= 0 {
		maxSize = DefaultGpsBufferSize
	}
	return &GpsBus{
		maxSize:   maxSize,
		observers: observers,
		log:       log,
		signal:    make(chan struct{}, 1),
	}
}

// Add enqueues a GPS payload and wakes the dispatcher
func (b *GpsBus) Add(payload Payload) {
	if payload == nil {
		return
	}

	b.mu.Lock()
	if len(b.pending) >= b.maxSize {
		evicted := b.pending[0]
		b.pending = b.pending[1:]
		metrics.BroadcastEvictions.Inc()
		b.log.Warnw("GPS broadcast buffer full, evicting oldest payload",
			"capacity", b.maxSize,
			"device_id", evicted["DeviceID"],
		)
	}
	b.pending = append(b.pending, payload)
	b.mu.Unlock()

	b.wake()
}

// Pending returns the number of buffered payloads
func (b *GpsBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run drains the buffer each time a producer signals, broadcasting each
// payload to the connected observers. It returns when ctx is cancelled.
func (b *GpsBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.signal:
		}

		for _, payload := range b.drain() {
			if b.observers.HasClients() {
				b.observers.Broadcast(payload)
			}
			// No observers: the payload is gone. Live positions are
			// only meaningful now; stale ones are worse than none.
		}
	}
}

// Dispatch performs one drain-and-broadcast pass synchronously
func (b *GpsBus) Dispatch() {
	for _, payload := range b.drain() {
		if b.observers.HasClients() {
			b.observers.Broadcast(payload)
		}
	}
}

func (b *GpsBus) drain() []Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *GpsBus) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// ResponseBus buffers request/response payloads keyed by request_id. A newer
// response overwrites an older unsent one for the same key, and unsent
// responses are kept for retry while no observer is connected. This is the
// declared policy for emissions racing a disconnect: the response survives
// in the buffer until it is delivered or coalesced away.
type ResponseBus struct {
	observers Observers
	log       *logger.Logger

	mu      sync.Mutex
	pending map[string]Payload
	order   []string
	signal  chan struct{}
}

// NewResponseBus creates a response bus
func NewResponseBus(observers Observers, log *logger.Logger) *ResponseBus {
	return &ResponseBus{
		observers: observers,
		log:       log,
		pending:   make(map[string]Payload),
		signal:    make(chan struct{}, 1),
	}
}

// Add enqueues a response payload; it must carry a request_id
func (b *ResponseBus) Add(payload Payload) {
	requestID, _ := payload["request_id"].(string)
	if requestID == "" {
		b.log.Warnw("Ignored response without request_id")
		return
	}

	b.mu.Lock()
	if _, exists := b.pending[requestID]; !exists {
		b.order = append(b.order, requestID)
	}
	b.pending[requestID] = payload
	b.mu.Unlock()

	b.wake()
}

// Pending returns the number of buffered responses
func (b *ResponseBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run delivers pending responses whenever signalled, holding them for retry
// while no observer is connected. It returns when ctx is cancelled.
func (b *ResponseBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.signal:
		case <-time.After(retryInterval):
			if b.Pending() == 0 {
				continue
			}
		}
		b.Dispatch()
	}
}

// Dispatch performs one delivery pass; undelivered responses stay buffered
func (b *ResponseBus) Dispatch() {
	if !b.observers.HasClients() {
		return
	}

	b.mu.Lock()
	batch := make([]Payload, 0, len(b.order))
	for _, id := range b.order {
		if p, ok := b.pending[id]; ok {
			batch = append(batch, p)
		}
	}
	b.pending = make(map[string]Payload)
	b.order = nil
	b.mu.Unlock()

	for _, payload := range batch {
		if b.observers.HasClients() {
			b.observers.Broadcast(payload)
		} else {
			// Observer vanished mid-pass: put the remainder back
			b.Add(payload)
		}
	}
}

func (b *ResponseBus) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// LogBus is the fire-and-forget channel for observer-facing log lines.
// Payloads are dropped silently when no log observer is connected.
type LogBus struct {
	observers Observers

	mu      sync.Mutex
	pending []Payload
	signal  chan struct{}
}

// NewLogBus creates a log bus
func NewLogBus(observers Observers) *LogBus {
	return &LogBus{
		observers: observers,
		signal:    make(chan struct{}, 1),
	}
}

// Log formats and enqueues a log line for the observers
func (b *LogBus) Log(message, msgType string) {
	b.Add(Payload{"msg_type": msgType, "message": message})
}

// Add enqueues a raw log payload
func (b *LogBus) Add(payload Payload) {
	if payload == nil {
		return
	}

	b.mu.Lock()
	b.pending = append(b.pending, payload)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Run drains the buffer whenever signalled. It returns when ctx is cancelled.
func (b *LogBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.signal:
		}
		b.Dispatch()
	}
}

// Dispatch performs one drain pass, dropping payloads without observers
func (b *LogBus) Dispatch() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if !b.observers.HasClients() {
		return
	}
	for _, payload := range batch {
		b.observers.Broadcast(payload)
	}
}
