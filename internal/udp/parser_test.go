package udp

import (
	"strings"
	"testing"
)

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantDevice string
		wantErr    bool
	}{
		{
			name:       "clean JSON",
			data:       []byte(`{"DeviceID": "ESP32_001", "Latitude": 10.5}`),
			wantDevice: "ESP32_001",
		},
		{
			name:       "leading BOM",
			data:       []byte("\uFEFF{\"DeviceID\": \"ESP32_001\"}"),
			wantDevice: "ESP32_001",
		},
		{
			name:       "surrounding whitespace",
			data:       []byte("  \n{\"DeviceID\": \"ESP32_001\"}\r\n"),
			wantDevice: "ESP32_001",
		},
		{
			name:       "garbage around the object",
			data:       []byte(`x9f!{"DeviceID": "ESP32_001", "Latitude": 10.5}trailing`),
			wantDevice: "ESP32_001",
		},
		{
			name:       "single quotes",
			data:       []byte(`{'DeviceID': 'ESP32_001', 'Latitude': 10.5}`),
			wantDevice: "ESP32_001",
		},
		{
			name:       "invalid UTF-8 bytes replaced",
			data:       append([]byte{0xff, 0xfe}, []byte(`{"DeviceID": "ESP32_001"}`)...),
			wantDevice: "ESP32_001",
		},
		{
			name:    "unparseable after all fallbacks",
			data:    []byte("not json at all"),
			wantErr: true,
		},
		{
			name:    "JSON array is not an object",
			data:    []byte(`[1, 2, 3]`),
			wantErr: true,
		},
		{
			name:    "empty datagram",
			data:    []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParsePacket(tt.data, "192.168.1.100:9001")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePacket() expected error, got payload %v", payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePacket() unexpected error: %v", err)
			}
			if got := payload["DeviceID"]; got != tt.wantDevice {
				t.Errorf("ParsePacket() DeviceID = %v, want %v", got, tt.wantDevice)
			}
		})
	}
}

func TestParsePacketReportsSender(t *testing.T) {
	_, err := ParsePacket([]byte("garbage"), "10.0.0.1:5000")
	if err == nil {
		t.Fatal("expected error for garbage datagram")
	}
	if want := "10.0.0.1:5000"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not name sender %q", err.Error(), want)
	}
}

func TestExtractJSONCandidate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`garbage{"key":"value"}more garbage`, `{"key":"value"}`},
		{`no json here`, `no json here`},
		{`{"a":1}`, `{"a":1}`},
		{`}{`, `}{`},
	}

	for _, tt := range tests {
		if got := extractJSONCandidate(tt.in); got != tt.want {
			t.Errorf("extractJSONCandidate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func BenchmarkParsePacket(b *testing.B) {
	data := []byte(`{"DeviceID": "ESP32_001", "Latitude": 10.5, "Longitude": -74.8, "Timestamp": 1730000000}`)
	for i := 0; i < b.N; i++ {
		_, _ = ParsePacket(data, "192.168.1.100:9001")
	}
}
