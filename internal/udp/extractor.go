package udp

import (
	"fmt"
	"time"

	"github.com/fleetsense/telemetry/internal/domain"
)

// ExtractAccelWindow flattens the optional accel block of a datagram into
// an accelerometer window keyed to the GPS fix it accompanies. A missing
// block returns (nil, nil); a malformed one returns an error and only the
// accel is lost.
func ExtractAccelWindow(raw map[string]interface{}, deviceID string, gpsTimestamp time.Time) (*domain.AccelWindow, error) {
	block, ok := raw["accel"].(map[string]interface{})
	if !ok || len(block) == 0 {
		return nil, nil
	}

	tsStartRaw, ok := block["ts_start"]
	if !ok {
		return nil, fmt.Errorf("accel block missing ts_start")
	}
	tsEndRaw, ok := block["ts_end"]
	if !ok {
		return nil, fmt.Errorf("accel block missing ts_end")
	}

	tsStart, err := NormalizeTimestamp(tsStartRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid accel ts_start: %w", err)
	}
	tsEnd, err := NormalizeTimestamp(tsEndRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid accel ts_end: %w", err)
	}

	rms, _ := block["rms"].(map[string]interface{})
	maxVals, _ := block["max"].(map[string]interface{})

	return &domain.AccelWindow{
		DeviceID:    deviceID,
		Timestamp:   gpsTimestamp,
		TsStart:     tsStart,
		TsEnd:       tsEnd,
		RmsX:        axisValue(rms, "x"),
		RmsY:        axisValue(rms, "y"),
		RmsZ:        axisValue(rms, "z"),
		RmsMag:      axisValue(rms, "mag"),
		MaxX:        axisValue(maxVals, "x"),
		MaxY:        axisValue(maxVals, "y"),
		MaxZ:        axisValue(maxVals, "z"),
		MaxMag:      axisValue(maxVals, "mag"),
		PeaksCount:  intValue(block, "peaks_count", 0),
		SampleCount: intValue(block, "sample_count", 250),
		Flags:       int16(intValue(block, "flags", 0)),
	}, nil
}

func axisValue(axes map[string]interface{}, key string) float64 {
	if axes == nil {
		return 0
	}
	if f, err := CoerceNumber(axes[key]); err == nil {
		return f
	}
	return 0
}

func intValue(block map[string]interface{}, key string, fallback int) int {
	v, ok := block[key]
	if !ok {
		return fallback
	}
	if f, err := CoerceNumber(v); err == nil {
		return int(f)
	}
	return fallback
}
