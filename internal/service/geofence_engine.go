package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/internal/metrics"
	"github.com/fleetsense/telemetry/internal/repository"
	"github.com/fleetsense/telemetry/pkg/kafka"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// LogSink receives observer-facing log lines
type LogSink interface {
	Log(message, msgType string)
}

// GeofenceResult carries the geofence fields for a candidate fix, plus the
// exit fix to persist first when the device hands off between zones.
type GeofenceResult struct {
	GeofenceID   *string
	GeofenceName *string
	EventType    *domain.GeofenceEventType
	ExitFix      *domain.GpsFix
}

// GeofenceEngine classifies each fix against the active geofence zones and
// detects entry/exit transitions. Any failure inside the engine degrades to
// a fix with null geofence fields; ingestion never stops here.
type GeofenceEngine struct {
	geofences repository.GeofenceRepository
	log       *logger.Logger
	logBus    LogSink
	producer  *kafka.Producer
}

// NewGeofenceEngine creates a geofence engine
func NewGeofenceEngine(geofences repository.GeofenceRepository, logBus LogSink, producer *kafka.Producer, log *logger.Logger) *GeofenceEngine {
	return &GeofenceEngine{
		geofences: geofences,
		log:       log,
		logBus:    logBus,
		producer:  producer,
	}
}

// Evaluate determines the geofence state of the candidate fix given the
// device's previous fix. When the result is an entry and the previous fix
// was inside a different zone, an exit fix is synthesized one microsecond
// earlier so entry/exit events always pair up.
func (e *GeofenceEngine) Evaluate(ctx context.Context, candidate, prev *domain.GpsFix) GeofenceResult {
	var result GeofenceResult

	current, err := e.geofences.FindSmallestContaining(ctx, candidate.Latitude, candidate.Longitude)
	if err != nil {
		e.log.Warnw("Geofence detection failed, recording fix without geofence fields",
			"device_id", candidate.DeviceID,
			"error", err,
		)
		return result
	}

	var prevID, prevName string
	if prev != nil && prev.CurrentGeofenceID != nil {
		prevID = *prev.CurrentGeofenceID
		if prev.CurrentGeofenceName != nil {
			prevName = *prev.CurrentGeofenceName
		}
	}

	switch {
	case current != nil && current.ID != prevID:
		// Entry, possibly a direct hand-off from another zone
		if prevID != "" {
			result.ExitFix = e.buildExitFix(candidate, prevID, prevName)
			e.emitEvent(ctx, candidate, domain.GeofenceExit, prevID, prevName)
		}

		entry := domain.GeofenceEntry
		result.GeofenceID = &current.ID
		result.GeofenceName = &current.Name
		result.EventType = &entry
		e.emitEvent(ctx, candidate, domain.GeofenceEntry, current.ID, current.Name)

	case current != nil:
		// Still inside the same zone; recorded on the fix, never logged
		inside := domain.GeofenceInside
		result.GeofenceID = &current.ID
		result.GeofenceName = &current.Name
		result.EventType = &inside

	case prevID != "":
		// Left the previous zone into open space
		exit := domain.GeofenceExit
		result.EventType = &exit
		e.emitEvent(ctx, candidate, domain.GeofenceExit, prevID, prevName)
	}

	return result
}

// buildExitFix synthesizes the exit record for a zone hand-off: same
// coordinates, timestamp one microsecond before the entry so it sorts
// strictly first.
func (e *GeofenceEngine) buildExitFix(candidate *domain.GpsFix, prevID, prevName string) *domain.GpsFix {
	exit := domain.GeofenceExit
	id := prevID
	name := prevName
	return &domain.GpsFix{
		DeviceID:            candidate.DeviceID,
		Latitude:            candidate.Latitude,
		Longitude:           candidate.Longitude,
		Altitude:            candidate.Altitude,
		Accuracy:            candidate.Accuracy,
		Timestamp:           candidate.Timestamp.Add(-time.Microsecond),
		CurrentGeofenceID:   &id,
		CurrentGeofenceName: &name,
		GeofenceEventType:   &exit,
	}
}

func (e *GeofenceEngine) emitEvent(ctx context.Context, fix *domain.GpsFix, event domain.GeofenceEventType, zoneID, zoneName string) {
	metrics.GeofenceEvents.WithLabelValues(string(event)).Inc()

	action := "ENTERED"
	topic := kafka.Topics.GeofenceEntered
	if event == domain.GeofenceExit {
		action = "EXITED"
		topic = kafka.Topics.GeofenceExited
	}
	if zoneName == "" {
		zoneName = "Unknown Zone"
	}

	e.logBus.Log(fmt.Sprintf("[GEOFENCE] %s %s %s", fix.DeviceID, action, zoneName), "log")
	e.log.Infow("Geofence event",
		"device_id", fix.DeviceID,
		"event", string(event),
		"geofence", zoneName,
	)

	_ = e.producer.Publish(ctx, topic, kafka.NewEvent(topic, "telemetry-service", map[string]interface{}{
		"device_id":     fix.DeviceID,
		"geofence_id":   zoneID,
		"geofence_name": zoneName,
		"event_type":    string(event),
		"latitude":      fix.Latitude,
		"longitude":     fix.Longitude,
		"timestamp":     fix.Timestamp.UTC(),
	}))
}
