package errors

import (
	"errors"
	"fmt"
)

// Drop classes: why a datagram, or part of one, never reached the store.
// Callers match these with errors.Is to decide between audit-logging,
// silent drops, and real failures.
var (
	ErrMalformedDatagram  = errors.New("malformed datagram")
	ErrUnknownDevice      = errors.New("unknown device")
	ErrInactiveDevice     = errors.New("inactive device")
	ErrInvalidGpsRecord   = errors.New("invalid gps record")
	ErrInvalidAccelWindow = errors.New("invalid accelerometer window")
	ErrDuplicateFix       = errors.New("duplicate fix")
	ErrNotFound           = errors.New("resource not found")
)

// Stage names the pipeline step where an ingestion error happened
type Stage string

const (
	StageParse     Stage = "parse"
	StageNormalize Stage = "normalize"
	StageValidate  Stage = "validate"
	StageGeofence  Stage = "geofence"
	StageTrip      Stage = "trip"
	StagePersist   Stage = "persist"
)

// IngestError ties a failure to the pipeline stage it happened in and to
// the datagram identity it concerns. DeviceID and Sender stay empty when
// the failure happens before they are known: a parse failure carries only
// the sender, a persistence failure only the device.
type IngestError struct {
	Stage    Stage
	DeviceID string
	Sender   string
	Err      error
}

func (e *IngestError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Err)
	if e.DeviceID != "" {
		msg += fmt.Sprintf(" (device %s)", e.DeviceID)
	}
	if e.Sender != "" {
		msg += fmt.Sprintf(" (sender %s)", e.Sender)
	}
	return msg
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// Parse reports a datagram that survived none of the decode fallbacks
func Parse(sender string, err error) *IngestError {
	return &IngestError{
		Stage:  StageParse,
		Sender: sender,
		Err:    fmt.Errorf("%w: %v", ErrMalformedDatagram, err),
	}
}

// Normalize reports a parsed datagram that could not be coerced into the
// canonical GPS record
func Normalize(sender string, err error) *IngestError {
	return &IngestError{
		Stage:  StageNormalize,
		Sender: sender,
		Err:    fmt.Errorf("%w: %v", ErrInvalidGpsRecord, err),
	}
}

// Validate reports a rejection by the device or schema checks. cause is
// one of the drop-class sentinels, or the underlying lookup failure.
func Validate(deviceID, sender string, cause error) *IngestError {
	return &IngestError{
		Stage:    StageValidate,
		DeviceID: deviceID,
		Sender:   sender,
		Err:      cause,
	}
}

// Persist reports a store write that failed for a reason other than an
// expected duplicate
func Persist(deviceID string, err error) *IngestError {
	return &IngestError{
		Stage:    StagePersist,
		DeviceID: deviceID,
		Err:      err,
	}
}

// IsRejectedDevice reports whether err is a device-registry rejection
// (unknown or disabled tracker), the two classes that get audit-logged as
// security events
func IsRejectedDevice(err error) bool {
	return errors.Is(err, ErrUnknownDevice) || errors.Is(err, ErrInactiveDevice)
}
