package domain

import (
	"time"
)

// GeofenceEventType classifies the geofence transition recorded on a fix
type GeofenceEventType string

const (
	GeofenceEntry  GeofenceEventType = "entry"
	GeofenceExit   GeofenceEventType = "exit"
	GeofenceInside GeofenceEventType = "inside"
)

// TripType distinguishes movement trips from parking sessions
type TripType string

const (
	TripMovement TripType = "movement"
	TripParking  TripType = "parking"
)

// TripStatus represents the lifecycle state of a trip
type TripStatus string

const (
	TripActive TripStatus = "active"
	TripClosed TripStatus = "closed"
)

// GpsFix represents one GPS observation from a device
type GpsFix struct {
	ID                  int64              `json:"id"`
	DeviceID            string             `json:"device_id"`
	Latitude            float64            `json:"latitude"`
	Longitude           float64            `json:"longitude"`
	Altitude            float64            `json:"altitude"`
	Accuracy            float64            `json:"accuracy"`
	Timestamp           time.Time          `json:"timestamp"`
	TripID              *string            `json:"trip_id,omitempty"`
	CurrentGeofenceID   *string            `json:"current_geofence_id,omitempty"`
	CurrentGeofenceName *string            `json:"current_geofence_name,omitempty"`
	GeofenceEventType   *GeofenceEventType `json:"geofence_event_type,omitempty"`
}

// AccelWindow holds 5-second accelerometer window statistics keyed to the
// GPS fix it accompanies via (DeviceID, Timestamp)
type AccelWindow struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	TsStart     time.Time `json:"ts_start"`
	TsEnd       time.Time `json:"ts_end"`
	RmsX        float64   `json:"rms_x"`
	RmsY        float64   `json:"rms_y"`
	RmsZ        float64   `json:"rms_z"`
	RmsMag      float64   `json:"rms_mag"`
	MaxX        float64   `json:"max_x"`
	MaxY        float64   `json:"max_y"`
	MaxZ        float64   `json:"max_z"`
	MaxMag      float64   `json:"max_mag"`
	PeaksCount  int       `json:"peaks_count"`
	SampleCount int       `json:"sample_count"`
	Flags       int16     `json:"flags"`
}

// Device represents a registered GPS tracker
type Device struct {
	DeviceID    string     `json:"device_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// Geofence represents a named WGS84 polygon zone. The geometry itself lives
// in the store as a POLYGON geography; containment queries go through the
// repository so the spatial index is always used.
type Geofence struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type"`
	Color       string     `json:"color"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// GeofenceRef is the result of a containment lookup
type GeofenceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Trip represents a labelled segment of a device's fix stream
type Trip struct {
	TripID     string     `json:"trip_id"`
	DeviceID   string     `json:"device_id"`
	TripType   TripType   `json:"trip_type"`
	Status     TripStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	StartLat   float64    `json:"start_lat"`
	StartLon   float64    `json:"start_lon"`
	Distance   float64    `json:"distance"`
	Duration   float64    `json:"duration"`
	AvgSpeed   float64    `json:"avg_speed"`
	PointCount int        `json:"point_count"`
}

// TripMetrics carries the values written when a trip closes
type TripMetrics struct {
	EndTime  time.Time
	Distance float64
	Duration float64
	AvgSpeed float64
}

// IsMovement reports whether the trip is a movement trip
func (t *Trip) IsMovement() bool {
	return t.TripType == TripMovement
}

// IsParking reports whether the trip is a parking session
func (t *Trip) IsParking() bool {
	return t.TripType == TripParking
}
