package udp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GpsRecord is the canonical GPS payload every source normalizes into
type GpsRecord struct {
	DeviceID  string
	Latitude  float64
	Longitude float64
	Altitude  float64
	Accuracy  float64
	Timestamp time.Time
}

// millisecondThreshold splits UNIX timestamps: values below it are seconds,
// values at or above it are milliseconds
const millisecondThreshold = 1e12

// keyAliases maps lowercased, underscore-stripped field names to canonical
// keys; trackers in the field disagree on spelling
var keyAliases = map[string]string{
	"deviceid":  "DeviceID",
	"device":    "DeviceID",
	"imei":      "DeviceID",
	"latitude":  "Latitude",
	"lat":       "Latitude",
	"longitude": "Longitude",
	"lon":       "Longitude",
	"lng":       "Longitude",
	"long":      "Longitude",
	"altitude":  "Altitude",
	"alt":       "Altitude",
	"accuracy":  "Accuracy",
	"acc":       "Accuracy",
	"hdop":      "Accuracy",
	"timestamp": "Timestamp",
	"ts":        "Timestamp",
	"time":      "Timestamp",
	"datetime":  "Timestamp",
}

func canonicalKey(key string) (string, bool) {
	folded := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "")
	canonical, ok := keyAliases[folded]
	return canonical, ok
}

// CoerceNumber converts a JSON value to float64, accepting numbers and
// their string form
func CoerceNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// NormalizeTimestamp converts a raw timestamp value to a UTC instant.
// Numbers and numeric strings are UNIX epochs, read as seconds below 10^12
// and milliseconds at or above; ISO-8601 strings are accepted, with naive
// timestamps treated as UTC.
func NormalizeTimestamp(v interface{}) (time.Time, error) {
	switch ts := v.(type) {
	case float64:
		return epochToTime(ts), nil
	case int:
		return epochToTime(float64(ts)), nil
	case int64:
		return epochToTime(float64(ts)), nil
	case string:
		s := strings.TrimSpace(ts)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(f), nil
		}
		return parseISO(s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type: %T", v)
	}
}

func epochToTime(epoch float64) time.Time {
	if epoch >= millisecondThreshold {
		return time.UnixMilli(int64(epoch)).UTC()
	}
	secs := int64(epoch)
	nsecs := int64((epoch - float64(secs)) * float64(time.Second))
	return time.Unix(secs, nsecs).UTC()
}

func parseISO(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	// Naive timestamp: no offset means UTC
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", s)
}

// NormalizeGpsPayload maps a parsed datagram onto the canonical GPS record.
// Unknown keys are dropped; a missing or non-coercible required field
// rejects the record.
func NormalizeGpsPayload(raw map[string]interface{}) (*GpsRecord, error) {
	fields := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		if canonical, ok := canonicalKey(key); ok {
			if _, taken := fields[canonical]; !taken {
				fields[canonical] = value
			}
		}
	}

	deviceID, err := coerceDeviceID(fields["DeviceID"])
	if err != nil {
		return nil, err
	}

	record := &GpsRecord{DeviceID: deviceID}

	if record.Latitude, err = requiredNumber(fields, "Latitude"); err != nil {
		return nil, err
	}
	if record.Longitude, err = requiredNumber(fields, "Longitude"); err != nil {
		return nil, err
	}
	if record.Altitude, err = optionalNumber(fields, "Altitude"); err != nil {
		return nil, err
	}
	if record.Accuracy, err = optionalNumber(fields, "Accuracy"); err != nil {
		return nil, err
	}

	rawTS, ok := fields["Timestamp"]
	if !ok {
		return nil, fmt.Errorf("missing Timestamp")
	}
	if record.Timestamp, err = NormalizeTimestamp(rawTS); err != nil {
		return nil, err
	}

	return record, nil
}

func coerceDeviceID(v interface{}) (string, error) {
	switch id := v.(type) {
	case string:
		if s := strings.TrimSpace(id); s != "" {
			return s, nil
		}
		return "", fmt.Errorf("empty DeviceID")
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case nil:
		return "", fmt.Errorf("missing DeviceID")
	default:
		return "", fmt.Errorf("invalid DeviceID type: %T", v)
	}
}

func requiredNumber(fields map[string]interface{}, key string) (float64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	f, err := CoerceNumber(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func optionalNumber(fields map[string]interface{}, key string) (float64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, nil
	}
	f, err := CoerceNumber(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
