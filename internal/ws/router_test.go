package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetsense/telemetry/internal/broadcast"
	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/internal/service"
	"github.com/fleetsense/telemetry/pkg/logger"
)

type fakeFixQueries struct {
	mu     sync.Mutex
	oldest *domain.GpsFix
	newest *domain.GpsFix
	all    []domain.GpsFix
	err    error
}

func (f *fakeFixQueries) Oldest(_ context.Context) (*domain.GpsFix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.oldest, f.err
}

func (f *fakeFixQueries) Newest(_ context.Context) (*domain.GpsFix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newest, f.err
}

func (f *fakeFixQueries) InRange(_ context.Context, start, end time.Time) ([]domain.GpsFix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.GpsFix
	for _, fix := range f.all {
		if !fix.Timestamp.Before(start) && !fix.Timestamp.After(end) {
			out = append(out, fix)
		}
	}
	return out, nil
}

func (f *fakeFixQueries) setOldest(fix *domain.GpsFix) {
	f.mu.Lock()
	f.oldest = fix
	f.mu.Unlock()
}

type fakeSink struct {
	mu       sync.Mutex
	payloads []broadcast.Payload
}

func (f *fakeSink) Add(payload broadcast.Payload) {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSink) last() broadcast.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

func newTestRouter(fixes *fakeFixQueries) (*Router, *fakeSink, *fakeSink, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	responses := &fakeSink{}
	gps := &fakeSink{}
	rt := NewRouter(ctx, fixes, responses, gps, service.PublicGpsRecord, logger.Nop())
	return rt, responses, gps, cancel
}

func TestRouterPing(t *testing.T) {
	rt, responses, _, cancel := newTestRouter(&fakeFixQueries{})
	defer cancel()

	rt.HandleMessage([]byte(`{"action": "ping", "request_id": "r1"}`))

	if responses.count() != 1 {
		t.Fatalf("responses = %d, want 1", responses.count())
	}
	got := responses.last()
	if got["action"] != "ping" || got["request_id"] != "r1" || got["status"] != "success" || got["data"] != "pong" {
		t.Errorf("payload = %v", got)
	}
}

func TestRouterUnknownAction(t *testing.T) {
	rt, responses, _, cancel := newTestRouter(&fakeFixQueries{})
	defer cancel()

	rt.HandleMessage([]byte(`{"action": "fly_to_moon", "request_id": "r9"}`))

	got := responses.last()
	if got == nil {
		t.Fatal("expected an error payload")
	}
	if got["status"] != "error" || got["request_id"] != "r9" {
		t.Errorf("payload = %v", got)
	}
	data := got["data"].(map[string]interface{})
	if msg, _ := data["error"].(string); msg != "Unknown action 'fly_to_moon'" {
		t.Errorf("error = %q", msg)
	}
}

func TestRouterInvalidJSONIsIgnored(t *testing.T) {
	rt, responses, _, cancel := newTestRouter(&fakeFixQueries{})
	defer cancel()

	rt.HandleMessage([]byte(`{{{`))
	rt.HandleMessage([]byte(`{"request_id": "r1"}`))

	if responses.count() != 0 {
		t.Errorf("malformed frames must not produce payloads, got %d", responses.count())
	}
}

func TestRouterLowerBoundSubscription(t *testing.T) {
	fixes := &fakeFixQueries{oldest: &domain.GpsFix{ID: 1, DeviceID: "D1", Timestamp: time.Unix(100, 0).UTC()}}
	rt, responses, _, cancel := newTestRouter(fixes)
	defer cancel()

	rt.HandleMessage([]byte(`{"action": "get_lower_bound", "request_id": "r1", "params": {"subscribe": true}}`))

	// Immediate emission of the current value
	if responses.count() != 1 {
		t.Fatalf("responses = %d, want immediate emission", responses.count())
	}
	rt.mu.Lock()
	running := rt.lowerCancel != nil
	rt.mu.Unlock()
	if !running {
		t.Fatal("monitor task should be running")
	}

	// Re-subscription is idempotent and just updates the request id
	rt.HandleMessage([]byte(`{"action": "get_lower_bound", "request_id": "r2", "params": {"subscribe": true}}`))
	rt.mu.Lock()
	requestID := rt.lowerRequestID
	rt.mu.Unlock()
	if requestID != "r2" {
		t.Errorf("request id = %q, want r2", requestID)
	}

	// A change in the oldest row reaches the response bus within a tick
	fixes.setOldest(&domain.GpsFix{ID: 7, DeviceID: "D0", Timestamp: time.Unix(50, 0).UTC()})
	deadline := time.Now().Add(2 * time.Second)
	for responses.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	got := responses.last()
	if got["request_id"] != "r2" {
		t.Errorf("monitor emission = %v", got)
	}

	// Unsubscribe cancels; a second unsubscribe is a no-op
	rt.HandleMessage([]byte(`{"action": "get_lower_bound", "request_id": "r2", "params": {"subscribe": false}}`))
	rt.mu.Lock()
	stopped := rt.lowerCancel == nil
	rt.mu.Unlock()
	if !stopped {
		t.Error("unsubscribe must cancel the monitor")
	}
	rt.HandleMessage([]byte(`{"action": "get_lower_bound", "request_id": "r2", "params": {"subscribe": false}}`))
}

func TestRouterUpperBoundEmitsToGpsBus(t *testing.T) {
	fixes := &fakeFixQueries{newest: &domain.GpsFix{ID: 9, DeviceID: "D1", Timestamp: time.Unix(900, 0).UTC()}}
	rt, responses, gps, cancel := newTestRouter(fixes)
	defer cancel()

	rt.HandleMessage([]byte(`{"action": "get_upper_bound", "request_id": "r1", "params": {"subscribe": true}}`))

	if gps.count() != 1 {
		t.Fatalf("gps emissions = %d, want 1", gps.count())
	}
	if responses.count() != 0 {
		t.Errorf("upper bound emits on the gps bus, not the response bus")
	}
	if got := gps.last(); got["DeviceID"] != "D1" {
		t.Errorf("payload = %v", got)
	}

	rt.HandleMessage([]byte(`{"action": "get_upper_bound", "request_id": "r1", "params": {"subscribe": false}}`))
	rt.mu.Lock()
	stopped := rt.upperCancel == nil
	rt.mu.Unlock()
	if !stopped {
		t.Error("unsubscribe must cancel the monitor")
	}
}

func TestRouterHistory(t *testing.T) {
	fixes := &fakeFixQueries{all: []domain.GpsFix{
		{ID: 1, DeviceID: "D1", Timestamp: time.Date(2025, 10, 22, 9, 0, 0, 0, time.UTC)},
		{ID: 2, DeviceID: "D1", Timestamp: time.Date(2025, 10, 22, 10, 0, 0, 0, time.UTC)},
		{ID: 3, DeviceID: "D1", Timestamp: time.Date(2025, 10, 23, 9, 0, 0, 0, time.UTC)},
	}}
	rt, responses, _, cancel := newTestRouter(fixes)
	defer cancel()

	rt.HandleMessage([]byte(`{"action": "get_history", "request_id": "r1", "params": {"start": "2025-10-22T00:00:00Z", "end": "2025-10-22T23:59:59Z"}}`))

	got := responses.last()
	if got == nil || got["status"] != "success" {
		t.Fatalf("payload = %v", got)
	}
	records := got["data"].([]broadcast.Payload)
	if len(records) != 2 {
		t.Errorf("history records = %d, want 2", len(records))
	}
}

func TestRouterHistoryMissingParams(t *testing.T) {
	rt, responses, _, cancel := newTestRouter(&fakeFixQueries{})
	defer cancel()

	rt.HandleMessage([]byte(`{"action": "get_history", "request_id": "r1", "params": {"start": "2025-10-22T00:00:00Z"}}`))

	got := responses.last()
	if got == nil || got["status"] != "error" || got["request_id"] != "r1" {
		t.Errorf("payload = %v", got)
	}
}

func TestParseISOTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2025-10-22T09:34:28Z", time.Date(2025, 10, 22, 9, 34, 28, 0, time.UTC), false},
		{"2025-10-22T11:34:28+02:00", time.Date(2025, 10, 22, 9, 34, 28, 0, time.UTC), false},
		{"2025-10-22T09:34:28", time.Date(2025, 10, 22, 9, 34, 28, 0, time.UTC), false},
		{"next tuesday", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := parseISOTimestamp(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseISOTimestamp(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseISOTimestamp(%q) error: %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseISOTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
