package ws

import (
	"encoding/json"
	"testing"

	"github.com/fleetsense/telemetry/pkg/logger"
)

func newTestClient(r *Registry) *Client {
	// No underlying connection: these tests only exercise the registry
	// side (set membership and queueing), never the pumps
	return NewClient(r, nil, nil)
}

func TestRegistryRegisterAndHasClients(t *testing.T) {
	r := NewRegistry("gps", logger.Nop())

	if r.HasClients() {
		t.Error("fresh registry should have no clients")
	}

	c := newTestClient(r)
	r.Register(c)
	if !r.HasClients() {
		t.Error("registry should report the registered client")
	}

	r.Unregister(c)
	if r.HasClients() {
		t.Error("registry should be empty after unregister")
	}
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry("gps", logger.Nop())
	c := newTestClient(r)
	r.Register(c)

	r.Unregister(c)
	r.Unregister(c)
	r.Unregister(newTestClient(r))

	if r.HasClients() {
		t.Error("registry should stay empty")
	}
}

func TestRegistryBroadcastReachesEveryClient(t *testing.T) {
	r := NewRegistry("gps", logger.Nop())
	c1 := newTestClient(r)
	c2 := newTestClient(r)
	r.Register(c1)
	r.Register(c2)

	r.Broadcast(map[string]interface{}{"DeviceID": "D1"})

	for i, c := range []*Client{c1, c2} {
		select {
		case frame := <-c.send:
			var decoded map[string]interface{}
			if err := json.Unmarshal(frame, &decoded); err != nil {
				t.Fatalf("client %d frame not JSON: %v", i, err)
			}
			if decoded["DeviceID"] != "D1" {
				t.Errorf("client %d frame = %v", i, decoded)
			}
		default:
			t.Errorf("client %d received nothing", i)
		}
	}
}

func TestRegistryDropsClientWithFullQueue(t *testing.T) {
	r := NewRegistry("gps", logger.Nop())
	slow := newTestClient(r)
	healthy := newTestClient(r)
	r.Register(slow)
	r.Register(healthy)

	// Fill the slow client's queue so the next broadcast cannot enqueue
	for i := 0; i < sendBufferSize; i++ {
		slow.send <- []byte("{}")
	}

	r.Broadcast(map[string]interface{}{"DeviceID": "D1"})

	r.mu.Lock()
	_, slowStillThere := r.clients[slow]
	_, healthyStillThere := r.clients[healthy]
	r.mu.Unlock()

	if slowStillThere {
		t.Error("client with a full queue must be unregistered")
	}
	if !healthyStillThere {
		t.Error("other clients must be unaffected")
	}
}

func TestRegistryBroadcastSkipsUnmarshalablePayload(t *testing.T) {
	r := NewRegistry("gps", logger.Nop())
	c := newTestClient(r)
	r.Register(c)

	r.Broadcast(map[string]interface{}{"bad": func() {}})

	select {
	case frame := <-c.send:
		t.Errorf("unexpected frame %s", frame)
	default:
	}
}
