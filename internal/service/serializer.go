package service

import (
	"time"

	"github.com/fleetsense/telemetry/internal/broadcast"
	"github.com/fleetsense/telemetry/internal/domain"
)

// wireTimestampLayout is the timestamp format of the public GPS record
const wireTimestampLayout = "2006-01-02T15:04:05Z"

// PublicGpsRecord converts a fix into the wire record sent to observers.
// Field names follow the established device/frontend contract. The geofence
// fields collapse into a nested object; exit events always get the object,
// even an exit into open space whose id and name are null, so the frontend
// can close the pairing.
func PublicGpsRecord(fix *domain.GpsFix, includeID bool) broadcast.Payload {
	if fix == nil {
		return nil
	}

	record := broadcast.Payload{
		"DeviceID":  fix.DeviceID,
		"Latitude":  fix.Latitude,
		"Longitude": fix.Longitude,
		"Altitude":  fix.Altitude,
		"Accuracy":  fix.Accuracy,
		"Timestamp": fix.Timestamp.UTC().Format(wireTimestampLayout),
		"geofence":  geofenceObject(fix),
	}
	if includeID {
		record["id"] = fix.ID
	}
	return record
}

// PublicGpsRecords converts a batch of fixes, preserving order
func PublicGpsRecords(fixes []domain.GpsFix, includeID bool) []broadcast.Payload {
	records := make([]broadcast.Payload, 0, len(fixes))
	for i := range fixes {
		if r := PublicGpsRecord(&fixes[i], includeID); r != nil {
			records = append(records, r)
		}
	}
	return records
}

func geofenceObject(fix *domain.GpsFix) interface{} {
	isExit := fix.GeofenceEventType != nil && *fix.GeofenceEventType == domain.GeofenceExit
	if fix.CurrentGeofenceID == nil && !isExit {
		return nil
	}

	obj := map[string]interface{}{
		"id":    nil,
		"name":  nil,
		"event": nil,
	}
	if fix.CurrentGeofenceID != nil {
		obj["id"] = *fix.CurrentGeofenceID
	}
	if fix.CurrentGeofenceName != nil {
		obj["name"] = *fix.CurrentGeofenceName
	}
	if fix.GeofenceEventType != nil {
		obj["event"] = string(*fix.GeofenceEventType)
	}
	return obj
}

// ParseWireTimestamp parses a public-record timestamp back into a UTC
// instant
func ParseWireTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(wireTimestampLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
