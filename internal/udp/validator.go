package udp

import (
	"context"
	"fmt"

	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/internal/metrics"
	"github.com/fleetsense/telemetry/internal/repository"
	"github.com/fleetsense/telemetry/internal/service"
	apperrors "github.com/fleetsense/telemetry/pkg/errors"
	"github.com/fleetsense/telemetry/pkg/logger"
)

const maxDeviceIDLength = 100

// Validator gates datagrams on the device registry and the record schema.
// Device and GPS failures block the datagram; accel failures discard only
// the accel.
type Validator struct {
	devices repository.DeviceRepository
	log     *logger.Logger
	logBus  service.LogSink
}

// NewValidator creates a validator
func NewValidator(devices repository.DeviceRepository, logBus service.LogSink, log *logger.Logger) *Validator {
	return &Validator{devices: devices, log: log, logBus: logBus}
}

// ValidateDevice checks that the device is registered and active. Every
// rejection is audit-logged with the sender address and classified so the
// caller can tell a security drop from a store failure.
func (v *Validator) ValidateDevice(ctx context.Context, deviceID, sender string) (*domain.Device, error) {
	device, err := v.devices.GetByID(ctx, deviceID)
	if err != nil {
		v.log.Errorw("Device lookup failed", "device_id", deviceID, "sender", sender, "error", err)
		return nil, apperrors.Validate(deviceID, sender, err)
	}

	var cause error
	switch {
	case device == nil:
		cause = apperrors.ErrUnknownDevice
	case !device.IsActive:
		cause = apperrors.ErrInactiveDevice
	default:
		return device, nil
	}

	rejection := apperrors.Validate(deviceID, sender, cause)
	metrics.RejectedDevices.Inc()
	v.log.Warnw("Rejected datagram", "device_id", deviceID, "sender", sender, "reason", cause)
	v.logBus.Log(fmt.Sprintf("[VALIDATOR] SECURITY: Rejected data from %s device '%s' (IP: %s)", rejectionWord(cause), deviceID, sender), "error")
	return nil, rejection
}

func rejectionWord(cause error) string {
	if cause == apperrors.ErrInactiveDevice {
		return "inactive"
	}
	return "unregistered"
}

// ValidateGpsRecord checks the normalized record against the fix schema
func ValidateGpsRecord(rec *GpsRecord) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("DeviceID is required")
	}
	if len(rec.DeviceID) > maxDeviceIDLength {
		return fmt.Errorf("DeviceID exceeds %d characters", maxDeviceIDLength)
	}
	if rec.Latitude < -90 || rec.Latitude > 90 {
		return fmt.Errorf("Latitude %v out of range [-90, 90]", rec.Latitude)
	}
	if rec.Longitude < -180 || rec.Longitude > 180 {
		return fmt.Errorf("Longitude %v out of range [-180, 180]", rec.Longitude)
	}
	if rec.Accuracy < 0 {
		return fmt.Errorf("Accuracy must not be negative, got %v", rec.Accuracy)
	}
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("Timestamp is required")
	}
	return nil
}

// ValidateAccelWindow checks the flattened accel window. A failure here is
// non-blocking: the caller discards the accel and keeps the fix.
func ValidateAccelWindow(w *domain.AccelWindow) error {
	if w.TsStart.IsZero() || w.TsEnd.IsZero() {
		return fmt.Errorf("accel window bounds are required")
	}
	if w.TsEnd.Before(w.TsStart) {
		return fmt.Errorf("accel window ends before it starts")
	}
	if w.SampleCount < 1 || w.SampleCount > 500 {
		return fmt.Errorf("sample_count %d out of range [1, 500]", w.SampleCount)
	}
	if w.Flags < 0 || w.Flags > 255 {
		return fmt.Errorf("flags %d out of range [0, 255]", w.Flags)
	}
	return nil
}
