package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/pkg/database"
)

// IsUniqueViolation reports whether err is a PostgreSQL duplicate-key error
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresGpsRepository implements GpsRepository using PostgreSQL
type PostgresGpsRepository struct {
	db *database.DB
}

// NewPostgresGpsRepository creates a new PostgreSQL GPS repository
func NewPostgresGpsRepository(db *database.DB) *PostgresGpsRepository {
	return &PostgresGpsRepository{db: db}
}

const insertGpsQuery = `
	INSERT INTO gps_data (
		device_id, latitude, longitude, altitude, accuracy, timestamp,
		trip_id, current_geofence_id, current_geofence_name, geofence_event_type
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id`

func (r *PostgresGpsRepository) InsertTx(ctx context.Context, tx pgx.Tx, fix *domain.GpsFix) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, insertGpsQuery,
		fix.DeviceID, fix.Latitude, fix.Longitude, fix.Altitude, fix.Accuracy,
		fix.Timestamp, fix.TripID, fix.CurrentGeofenceID, fix.CurrentGeofenceName,
		fix.GeofenceEventType,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	fix.ID = id
	return id, nil
}

func (r *PostgresGpsRepository) InsertGuardedTx(ctx context.Context, tx pgx.Tx, fix *domain.GpsFix) (int64, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open savepoint: %w", err)
	}

	var id int64
	err = sp.QueryRow(ctx, insertGpsQuery,
		fix.DeviceID, fix.Latitude, fix.Longitude, fix.Altitude, fix.Accuracy,
		fix.Timestamp, fix.TripID, fix.CurrentGeofenceID, fix.CurrentGeofenceName,
		fix.GeofenceEventType,
	).Scan(&id)
	if err != nil {
		_ = sp.Rollback(ctx)
		return 0, err
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, err
	}
	fix.ID = id
	return id, nil
}

const selectGpsColumns = `
	id, device_id, latitude, longitude, altitude, accuracy, timestamp,
	trip_id, current_geofence_id, current_geofence_name, geofence_event_type`

func scanGpsFix(row pgx.Row) (*domain.GpsFix, error) {
	var fix domain.GpsFix
	err := row.Scan(
		&fix.ID, &fix.DeviceID, &fix.Latitude, &fix.Longitude, &fix.Altitude,
		&fix.Accuracy, &fix.Timestamp, &fix.TripID, &fix.CurrentGeofenceID,
		&fix.CurrentGeofenceName, &fix.GeofenceEventType,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fix, nil
}

func (r *PostgresGpsRepository) LastByDevice(ctx context.Context, deviceID string) (*domain.GpsFix, error) {
	query := `SELECT` + selectGpsColumns + `
		FROM gps_data
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT 1`
	return scanGpsFix(r.db.Pool.QueryRow(ctx, query, deviceID))
}

func (r *PostgresGpsRepository) Oldest(ctx context.Context) (*domain.GpsFix, error) {
	query := `SELECT` + selectGpsColumns + `
		FROM gps_data
		ORDER BY timestamp ASC
		LIMIT 1`
	return scanGpsFix(r.db.Pool.QueryRow(ctx, query))
}

func (r *PostgresGpsRepository) Newest(ctx context.Context) (*domain.GpsFix, error) {
	query := `SELECT` + selectGpsColumns + `
		FROM gps_data
		ORDER BY timestamp DESC
		LIMIT 1`
	return scanGpsFix(r.db.Pool.QueryRow(ctx, query))
}

func (r *PostgresGpsRepository) InRange(ctx context.Context, start, end time.Time) ([]domain.GpsFix, error) {
	query := `SELECT` + selectGpsColumns + `
		FROM gps_data
		WHERE timestamp BETWEEN $1 AND $2
		ORDER BY timestamp`
	return r.queryFixes(ctx, query, start, end)
}

func (r *PostgresGpsRepository) ByTripID(ctx context.Context, tripID string) ([]domain.GpsFix, error) {
	query := `SELECT` + selectGpsColumns + `
		FROM gps_data
		WHERE trip_id = $1
		ORDER BY timestamp`
	return r.queryFixes(ctx, query, tripID)
}

func (r *PostgresGpsRepository) queryFixes(ctx context.Context, query string, args ...interface{}) ([]domain.GpsFix, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fixes []domain.GpsFix
	for rows.Next() {
		fix, err := scanGpsFix(rows)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, *fix)
	}
	return fixes, rows.Err()
}

// PostgresAccelRepository implements AccelRepository
type PostgresAccelRepository struct {
	db *database.DB
}

// NewPostgresAccelRepository creates a new PostgreSQL accelerometer repository
func NewPostgresAccelRepository(db *database.DB) *PostgresAccelRepository {
	return &PostgresAccelRepository{db: db}
}

func (r *PostgresAccelRepository) InsertTx(ctx context.Context, tx pgx.Tx, w *domain.AccelWindow) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	query := `
		INSERT INTO accelerometer_data (
			device_id, timestamp, ts_start, ts_end,
			rms_x, rms_y, rms_z, rms_mag,
			max_x, max_y, max_z, max_mag,
			peaks_count, sample_count, flags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	err = sp.QueryRow(ctx, query,
		w.DeviceID, w.Timestamp, w.TsStart, w.TsEnd,
		w.RmsX, w.RmsY, w.RmsZ, w.RmsMag,
		w.MaxX, w.MaxY, w.MaxZ, w.MaxMag,
		w.PeaksCount, w.SampleCount, w.Flags,
	).Scan(&w.ID)
	if err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// PostgresDeviceRepository implements DeviceRepository
type PostgresDeviceRepository struct {
	db *database.DB
}

// NewPostgresDeviceRepository creates a new PostgreSQL device repository
func NewPostgresDeviceRepository(db *database.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

func (r *PostgresDeviceRepository) GetByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	var device domain.Device
	query := `
		SELECT device_id, name, description, is_active, created_at, last_seen
		FROM devices
		WHERE device_id = $1`
	err := r.db.Pool.QueryRow(ctx, query, deviceID).Scan(
		&device.DeviceID, &device.Name, &device.Description,
		&device.IsActive, &device.CreatedAt, &device.LastSeen,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *PostgresDeviceRepository) UpdateLastSeenTx(ctx context.Context, tx pgx.Tx, deviceID string, ts time.Time) error {
	// last_seen is monotonic: an out-of-order fix never moves it backwards
	query := `
		UPDATE devices
		SET last_seen = $2
		WHERE device_id = $1
		  AND (last_seen IS NULL OR last_seen <= $2)`
	_, err := tx.Exec(ctx, query, deviceID, ts)
	return err
}

// PostgresGeofenceRepository implements GeofenceRepository
type PostgresGeofenceRepository struct {
	db *database.DB
}

// NewPostgresGeofenceRepository creates a new PostgreSQL geofence repository
func NewPostgresGeofenceRepository(db *database.DB) *PostgresGeofenceRepository {
	return &PostgresGeofenceRepository{db: db}
}

// FindSmallestContaining runs the containment query against the GIST-indexed
// geography column. Geography does not support ST_Contains, so the lookup
// uses ST_Intersects; ties resolve to the smallest polygon.
func (r *PostgresGeofenceRepository) FindSmallestContaining(ctx context.Context, lat, lon float64) (*domain.GeofenceRef, error) {
	query := `
		SELECT id, name
		FROM geofences
		WHERE is_active = TRUE
		  AND ST_Intersects(
			geometry,
			ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography
		  )
		ORDER BY ST_Area(geometry) ASC
		LIMIT 1`

	var ref domain.GeofenceRef
	err := r.db.Pool.QueryRow(ctx, query, lon, lat).Scan(&ref.ID, &ref.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *PostgresGeofenceRepository) Insert(ctx context.Context, gf *domain.Geofence, wkt string) error {
	query := `
		INSERT INTO geofences (id, name, description, geometry, type, color, is_active)
		VALUES ($1, $2, $3, ST_GeogFromText($4), $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, query,
		gf.ID, gf.Name, gf.Description, wkt, gf.Type, gf.Color, gf.IsActive,
	)
	return err
}

func (r *PostgresGeofenceRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM geofences WHERE is_active = TRUE`).Scan(&count)
	return count, err
}

// PostgresTripRepository implements TripRepository
type PostgresTripRepository struct {
	db *database.DB
}

// NewPostgresTripRepository creates a new PostgreSQL trip repository
func NewPostgresTripRepository(db *database.DB) *PostgresTripRepository {
	return &PostgresTripRepository{db: db}
}

func (r *PostgresTripRepository) Create(ctx context.Context, trip *domain.Trip) error {
	query := `
		INSERT INTO trips (
			trip_id, device_id, trip_type, status, start_time,
			start_lat, start_lon, distance, duration, avg_speed, point_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.Pool.Exec(ctx, query,
		trip.TripID, trip.DeviceID, trip.TripType, trip.Status, trip.StartTime,
		trip.StartLat, trip.StartLon, trip.Distance, trip.Duration,
		trip.AvgSpeed, trip.PointCount,
	)
	return err
}

func (r *PostgresTripRepository) ActiveByDevice(ctx context.Context, deviceID string) (*domain.Trip, error) {
	var trip domain.Trip
	query := `
		SELECT trip_id, device_id, trip_type, status, start_time, end_time,
		       start_lat, start_lon, distance, duration, avg_speed, point_count
		FROM trips
		WHERE device_id = $1 AND status = 'active'
		ORDER BY start_time DESC
		LIMIT 1`
	err := r.db.Pool.QueryRow(ctx, query, deviceID).Scan(
		&trip.TripID, &trip.DeviceID, &trip.TripType, &trip.Status,
		&trip.StartTime, &trip.EndTime, &trip.StartLat, &trip.StartLon,
		&trip.Distance, &trip.Duration, &trip.AvgSpeed, &trip.PointCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

func (r *PostgresTripRepository) Close(ctx context.Context, tripID string, metrics domain.TripMetrics) error {
	query := `
		UPDATE trips
		SET status = 'closed', end_time = $2, distance = $3,
		    duration = $4, avg_speed = $5, updated_at = NOW()
		WHERE trip_id = $1`
	_, err := r.db.Pool.Exec(ctx, query, tripID,
		metrics.EndTime, metrics.Distance, metrics.Duration, metrics.AvgSpeed,
	)
	return err
}

func (r *PostgresTripRepository) IncrementPointCountTx(ctx context.Context, tx pgx.Tx, tripID string) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	if _, err := sp.Exec(ctx, `UPDATE trips SET point_count = point_count + 1 WHERE trip_id = $1`, tripID); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (r *PostgresTripRepository) CountForDeviceOnDay(ctx context.Context, deviceID string, day time.Time) (int, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int
	query := `
		SELECT COUNT(*)
		FROM trips
		WHERE device_id = $1 AND start_time >= $2 AND start_time < $3`
	err := r.db.Pool.QueryRow(ctx, query, deviceID, dayStart, dayEnd).Scan(&count)
	return count, err
}
