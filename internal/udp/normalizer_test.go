package udp

import (
	"testing"
	"time"
)

func TestNormalizeGpsPayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]interface{}
		want    GpsRecord
		wantErr bool
	}{
		{
			name: "canonical keys",
			raw: map[string]interface{}{
				"DeviceID":  "ESP32_001",
				"Latitude":  10.5,
				"Longitude": -74.8,
				"Altitude":  120.0,
				"Accuracy":  5.0,
				"Timestamp": 1730000000.0,
			},
			want: GpsRecord{
				DeviceID:  "ESP32_001",
				Latitude:  10.5,
				Longitude: -74.8,
				Altitude:  120.0,
				Accuracy:  5.0,
				Timestamp: time.Unix(1730000000, 0).UTC(),
			},
		},
		{
			name: "lowercase and compact aliases",
			raw: map[string]interface{}{
				"device_id": "TRUCK-7",
				"lat":       "10.5",
				"lng":       "-74.8",
				"alt":       "12",
				"acc":       "8",
				"ts":        1730000000.0,
			},
			want: GpsRecord{
				DeviceID:  "TRUCK-7",
				Latitude:  10.5,
				Longitude: -74.8,
				Altitude:  12,
				Accuracy:  8,
				Timestamp: time.Unix(1730000000, 0).UTC(),
			},
		},
		{
			name: "optional fields default to zero",
			raw: map[string]interface{}{
				"DeviceID":  "ESP32_001",
				"Latitude":  1.0,
				"Longitude": 2.0,
				"Timestamp": 1730000000.0,
			},
			want: GpsRecord{
				DeviceID:  "ESP32_001",
				Latitude:  1.0,
				Longitude: 2.0,
				Timestamp: time.Unix(1730000000, 0).UTC(),
			},
		},
		{
			name: "missing latitude rejects record",
			raw: map[string]interface{}{
				"DeviceID":  "ESP32_001",
				"Longitude": 2.0,
				"Timestamp": 1730000000.0,
			},
			wantErr: true,
		},
		{
			name: "non-coercible longitude rejects record",
			raw: map[string]interface{}{
				"DeviceID":  "ESP32_001",
				"Latitude":  1.0,
				"Longitude": "not-a-number",
				"Timestamp": 1730000000.0,
			},
			wantErr: true,
		},
		{
			name: "missing timestamp rejects record",
			raw: map[string]interface{}{
				"DeviceID":  "ESP32_001",
				"Latitude":  1.0,
				"Longitude": 2.0,
			},
			wantErr: true,
		},
		{
			name: "missing device id rejects record",
			raw: map[string]interface{}{
				"Latitude":  1.0,
				"Longitude": 2.0,
				"Timestamp": 1730000000.0,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeGpsPayload(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeGpsPayload() expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeGpsPayload() unexpected error: %v", err)
			}
			if *got != tt.want {
				t.Errorf("NormalizeGpsPayload() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		want    time.Time
		wantErr bool
	}{
		{
			name: "unix seconds",
			in:   1730000000.0,
			want: time.Unix(1730000000, 0).UTC(),
		},
		{
			name: "unix milliseconds",
			in:   1730000000123.0,
			want: time.UnixMilli(1730000000123).UTC(),
		},
		{
			name: "numeric string seconds",
			in:   "1730000000",
			want: time.Unix(1730000000, 0).UTC(),
		},
		{
			name: "numeric string milliseconds",
			in:   "1730000000123",
			want: time.UnixMilli(1730000000123).UTC(),
		},
		{
			name: "ISO-8601 with Z",
			in:   "2025-10-22T09:34:28Z",
			want: time.Date(2025, 10, 22, 9, 34, 28, 0, time.UTC),
		},
		{
			name: "ISO-8601 with offset",
			in:   "2025-10-22T11:34:28+02:00",
			want: time.Date(2025, 10, 22, 9, 34, 28, 0, time.UTC),
		},
		{
			name: "naive ISO-8601 treated as UTC",
			in:   "2025-10-22T09:34:28",
			want: time.Date(2025, 10, 22, 9, 34, 28, 0, time.UTC),
		},
		{
			name:    "nonsense string",
			in:      "yesterday",
			wantErr: true,
		},
		{
			name:    "unsupported type",
			in:      []int{1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTimestamp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeTimestamp() expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeTimestamp() unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NormalizeTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	// Normalizing an ISO-8601 UTC timestamp and serializing it back must
	// yield the same instant
	in := "2025-10-22T09:34:28Z"
	ts, err := NormalizeTimestamp(in)
	if err != nil {
		t.Fatalf("NormalizeTimestamp() error: %v", err)
	}
	if got := ts.UTC().Format("2006-01-02T15:04:05Z"); got != in {
		t.Errorf("round trip = %q, want %q", got, in)
	}
}

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		in      interface{}
		want    float64
		wantErr bool
	}{
		{10.5, 10.5, false},
		{"10.5", 10.5, false},
		{" -74.8 ", -74.8, false},
		{"abc", 0, true},
		{nil, 0, true},
		{true, 0, true},
	}

	for _, tt := range tests {
		got, err := CoerceNumber(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CoerceNumber(%v) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("CoerceNumber(%v) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CoerceNumber(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
