package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fleetsense/telemetry/internal/broadcast"
	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// monitorInterval is the polling cadence of the bound monitor tasks
const monitorInterval = 250 * time.Millisecond

// FixQueries is the read-side store access the router needs
type FixQueries interface {
	Oldest(ctx context.Context) (*domain.GpsFix, error)
	Newest(ctx context.Context) (*domain.GpsFix, error)
	InRange(ctx context.Context, start, end time.Time) ([]domain.GpsFix, error)
}

// PayloadSink accepts payloads for a broadcast bus
type PayloadSink interface {
	Add(payload broadcast.Payload)
}

// Serializer converts a fix into its public wire record
type Serializer func(fix *domain.GpsFix, includeID bool) broadcast.Payload

// Request is the inbound message grammar of the request stream
type Request struct {
	Action    string                 `json:"action"`
	RequestID string                 `json:"request_id"`
	Params    map[string]interface{} `json:"params"`
}

// Router translates observer subscription messages into monitor loops
// against the store. Monitor tasks are single-flight per bound; emissions
// for the lower bound go to the response bus, the upper bound is broadcast
// as a live GPS event.
type Router struct {
	ctx       context.Context
	log       *logger.Logger
	fixes     FixQueries
	responses PayloadSink
	gps       PayloadSink
	serialize Serializer

	mu             sync.Mutex
	lowerCancel    context.CancelFunc
	upperCancel    context.CancelFunc
	lowerRequestID string
	lastOldestID   int64
	lastNewestID   int64
}

// NewRouter creates a request router. ctx bounds the lifetime of every
// monitor task it spawns.
func NewRouter(ctx context.Context, fixes FixQueries, responses, gps PayloadSink, serialize Serializer, log *logger.Logger) *Router {
	return &Router{
		ctx:       ctx,
		log:       log,
		fixes:     fixes,
		responses: responses,
		gps:       gps,
		serialize: serialize,
	}
}

// buildResponse assembles a response-stream frame
func buildResponse(action, requestID string, data interface{}, status string) broadcast.Payload {
	return broadcast.Payload{
		"action":     action,
		"request_id": requestID,
		"status":     status,
		"data":       data,
	}
}

// HandleMessage processes one inbound frame from the request stream
func (rt *Router) HandleMessage(raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		rt.log.Warnw("Invalid request message", "error", err)
		return
	}
	if req.Action == "" {
		rt.log.Warnw("Request message missing action")
		return
	}

	switch req.Action {
	case "ping":
		rt.responses.Add(buildResponse(req.Action, req.RequestID, "pong", "success"))

	case "get_lower_bound":
		rt.handleLowerBound(req)

	case "get_upper_bound":
		rt.handleUpperBound(req)

	case "get_history":
		rt.handleHistory(req)

	default:
		rt.responses.Add(buildResponse(req.Action, req.RequestID, map[string]interface{}{
			"error":  fmt.Sprintf("Unknown action '%s'", req.Action),
			"params": req.Params,
		}, "error"))
	}
}

func subscribeParam(params map[string]interface{}) bool {
	v, _ := params["subscribe"].(bool)
	return v
}

func (rt *Router) handleLowerBound(req Request) {
	if !subscribeParam(req.Params) {
		rt.mu.Lock()
		if rt.lowerCancel != nil {
			rt.lowerCancel()
			rt.lowerCancel = nil
		}
		rt.lowerRequestID = ""
		rt.mu.Unlock()
		rt.log.Infow("Lower bound subscription cancelled")
		return
	}

	rt.mu.Lock()
	rt.lowerRequestID = req.RequestID
	running := rt.lowerCancel != nil
	var ctx context.Context
	if !running {
		ctx, rt.lowerCancel = context.WithCancel(rt.ctx)
	}
	rt.mu.Unlock()

	// Emit the current value immediately on subscribe
	if oldest, err := rt.fixes.Oldest(rt.ctx); err == nil && oldest != nil {
		rt.mu.Lock()
		rt.lastOldestID = oldest.ID
		rt.mu.Unlock()
		rt.responses.Add(buildResponse("get_lower_bound", req.RequestID, rt.serialize(oldest, true), "success"))
	}

	if !running {
		go rt.monitorLowerBound(ctx)
	}
	rt.log.Infow("Lower bound subscription activated", "request_id", req.RequestID)
}

func (rt *Router) handleUpperBound(req Request) {
	if !subscribeParam(req.Params) {
		rt.mu.Lock()
		if rt.upperCancel != nil {
			rt.upperCancel()
			rt.upperCancel = nil
		}
		rt.mu.Unlock()
		rt.log.Infow("Upper bound subscription cancelled")
		return
	}

	rt.mu.Lock()
	running := rt.upperCancel != nil
	var ctx context.Context
	if !running {
		ctx, rt.upperCancel = context.WithCancel(rt.ctx)
	}
	rt.mu.Unlock()

	if newest, err := rt.fixes.Newest(rt.ctx); err == nil && newest != nil {
		rt.mu.Lock()
		rt.lastNewestID = newest.ID
		rt.mu.Unlock()
		rt.gps.Add(rt.serialize(newest, false))
	}

	if !running {
		go rt.monitorUpperBound(ctx)
	}
	rt.log.Infow("Upper bound subscription activated", "request_id", req.RequestID)
}

func (rt *Router) handleHistory(req Request) {
	start, okStart := req.Params["start"].(string)
	end, okEnd := req.Params["end"].(string)
	if !okStart || !okEnd || start == "" || end == "" {
		rt.responses.Add(buildResponse(req.Action, req.RequestID, map[string]interface{}{
			"error": "Missing 'start' or 'end' parameters",
		}, "error"))
		return
	}

	startTime, err := parseISOTimestamp(start)
	if err == nil {
		var endTime time.Time
		endTime, err = parseISOTimestamp(end)
		if err == nil {
			var fixes []domain.GpsFix
			fixes, err = rt.fixes.InRange(rt.ctx, startTime, endTime)
			if err == nil {
				records := make([]broadcast.Payload, 0, len(fixes))
				for i := range fixes {
					records = append(records, rt.serialize(&fixes[i], true))
				}
				rt.responses.Add(buildResponse(req.Action, req.RequestID, records, "success"))
				return
			}
		}
	}

	rt.log.Warnw("get_history failed", "request_id", req.RequestID, "error", err)
	rt.responses.Add(buildResponse(req.Action, req.RequestID, map[string]interface{}{
		"error": err.Error(),
	}, "error"))
}

// monitorLowerBound polls the oldest fix and emits on change
func (rt *Router) monitorLowerBound(ctx context.Context) {
	rt.log.Infow("Lower bound monitor started")
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rt.log.Infow("Lower bound monitor stopped")
			return
		case <-ticker.C:
		}

		oldest, err := rt.fixes.Oldest(ctx)
		if err != nil || oldest == nil {
			continue
		}

		rt.mu.Lock()
		changed := oldest.ID != rt.lastOldestID
		requestID := rt.lowerRequestID
		if changed {
			rt.lastOldestID = oldest.ID
		}
		rt.mu.Unlock()

		if changed && requestID != "" {
			rt.responses.Add(buildResponse("get_lower_bound", requestID, rt.serialize(oldest, true), "success"))
		}
	}
}

// monitorUpperBound polls the newest fix and broadcasts it as a live GPS
// event on change
func (rt *Router) monitorUpperBound(ctx context.Context) {
	rt.log.Infow("Upper bound monitor started")
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rt.log.Infow("Upper bound monitor stopped")
			return
		case <-ticker.C:
		}

		newest, err := rt.fixes.Newest(ctx)
		if err != nil || newest == nil {
			continue
		}

		rt.mu.Lock()
		changed := newest.ID != rt.lastNewestID
		if changed {
			rt.lastNewestID = newest.ID
		}
		rt.mu.Unlock()

		if changed {
			rt.gps.Add(rt.serialize(newest, false))
		}
	}
}

// parseISOTimestamp accepts RFC 3339 timestamps, treating a trailing Z and
// naive timestamps as UTC
func parseISOTimestamp(s string) (time.Time, error) {
	s = strings.Replace(s, "Z", "+00:00", 1)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", s)
	}
	return t.UTC(), nil
}
