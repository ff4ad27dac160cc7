package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fleetsense/telemetry/internal/domain"
)

// GpsRepository provides access to persisted GPS fixes
type GpsRepository interface {
	// InsertTx inserts a fix inside the given transaction. A unique
	// violation on (device_id, timestamp) is returned to the caller.
	InsertTx(ctx context.Context, tx pgx.Tx, fix *domain.GpsFix) (int64, error)
	// InsertGuardedTx inserts a fix inside a savepoint so that a failure
	// leaves the surrounding transaction usable.
	InsertGuardedTx(ctx context.Context, tx pgx.Tx, fix *domain.GpsFix) (int64, error)
	LastByDevice(ctx context.Context, deviceID string) (*domain.GpsFix, error)
	Oldest(ctx context.Context) (*domain.GpsFix, error)
	Newest(ctx context.Context) (*domain.GpsFix, error)
	InRange(ctx context.Context, start, end time.Time) ([]domain.GpsFix, error)
	ByTripID(ctx context.Context, tripID string) ([]domain.GpsFix, error)
}

// AccelRepository provides access to persisted accelerometer windows
type AccelRepository interface {
	// InsertTx inserts a window inside a savepoint on the given
	// transaction; a failure never poisons the surrounding transaction.
	InsertTx(ctx context.Context, tx pgx.Tx, w *domain.AccelWindow) error
}

// DeviceRepository provides access to the device registry
type DeviceRepository interface {
	GetByID(ctx context.Context, deviceID string) (*domain.Device, error)
	UpdateLastSeenTx(ctx context.Context, tx pgx.Tx, deviceID string, ts time.Time) error
}

// GeofenceRepository provides access to geofence zones and containment
type GeofenceRepository interface {
	// FindSmallestContaining returns the smallest-area active geofence
	// whose geometry intersects the point, or nil when the point is
	// outside every zone.
	FindSmallestContaining(ctx context.Context, lat, lon float64) (*domain.GeofenceRef, error)
	Insert(ctx context.Context, gf *domain.Geofence, wkt string) error
	CountActive(ctx context.Context) (int, error)
}

// TripRepository provides access to trip records
type TripRepository interface {
	Create(ctx context.Context, trip *domain.Trip) error
	ActiveByDevice(ctx context.Context, deviceID string) (*domain.Trip, error)
	Close(ctx context.Context, tripID string, metrics domain.TripMetrics) error
	// IncrementPointCountTx bumps point_count inside a savepoint on the
	// given transaction.
	IncrementPointCountTx(ctx context.Context, tx pgx.Tx, tripID string) error
	CountForDeviceOnDay(ctx context.Context, deviceID string, day time.Time) (int, error)
}
