package service

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/internal/metrics"
	"github.com/fleetsense/telemetry/internal/repository"
	"github.com/fleetsense/telemetry/pkg/config"
	"github.com/fleetsense/telemetry/pkg/kafka"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// earthRadiusM is the mean earth radius used by the haversine formula
const earthRadiusM = 6371000.0

// Haversine returns the great-circle distance in meters between two WGS84
// points
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// TripDetector segments each device's fix stream into movement and parking
// trips. State per device is the still-counter; trips themselves live in the
// store, which stays the source of truth across restarts.
//
// Decision order for a fix F with previous fix P and active trip T:
//  1. no P: start a movement trip at F
//  2. dist(P,F) above the spatial jump: close T, start a movement trip
//     (a jump models a tracker power-cycle and is never bridged)
//  3. dist above the movement threshold: device is moving; a parking T is
//     closed and replaced by a movement trip, a movement T continues
//  4. otherwise the device is still; once the still-counter reaches the
//     parking threshold an active movement trip converts to a parking trip
type TripDetector struct {
	cfg      config.TripsConfig
	trips    repository.TripRepository
	fixes    repository.GpsRepository
	log      *logger.Logger
	logBus   LogSink
	producer *kafka.Producer

	mu          sync.Mutex
	stillCounts map[string]int
}

// NewTripDetector creates a trip detector
func NewTripDetector(cfg config.TripsConfig, trips repository.TripRepository, fixes repository.GpsRepository, logBus LogSink, producer *kafka.Producer, log *logger.Logger) *TripDetector {
	return &TripDetector{
		cfg:         cfg,
		trips:       trips,
		fixes:       fixes,
		log:         log,
		logBus:      logBus,
		producer:    producer,
		stillCounts: make(map[string]int),
	}
}

// StillCount returns the current still-counter for a device
func (d *TripDetector) StillCount(deviceID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stillCounts[deviceID]
}

func (d *TripDetector) resetStill(deviceID string) {
	d.mu.Lock()
	d.stillCounts[deviceID] = 0
	d.mu.Unlock()
}

func (d *TripDetector) incrementStill(deviceID string) int {
	d.mu.Lock()
	d.stillCounts[deviceID]++
	count := d.stillCounts[deviceID]
	d.mu.Unlock()
	return count
}

// HandleFix runs the decision algorithm for one fix and returns the trip id
// to associate with it, or nil when no trip applies. Errors are logged and
// degrade to a nil trip id so the fix is still persisted.
func (d *TripDetector) HandleFix(ctx context.Context, fix, prev *domain.GpsFix, active *domain.Trip) *string {
	if prev == nil {
		d.resetStill(fix.DeviceID)
		return d.startTripID(ctx, domain.TripMovement, fix)
	}

	delta := Haversine(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)

	if delta > d.cfg.SpatialJumpM {
		if active != nil {
			d.closeTrip(ctx, active, fix)
		}
		d.resetStill(fix.DeviceID)
		return d.startTripID(ctx, domain.TripMovement, fix)
	}

	if delta > d.cfg.MovementThresholdM {
		d.resetStill(fix.DeviceID)
		if active == nil {
			return d.startTripID(ctx, domain.TripMovement, fix)
		}
		if active.IsParking() {
			d.closeTrip(ctx, active, fix)
			return d.startTripID(ctx, domain.TripMovement, fix)
		}
		return &active.TripID
	}

	// Still fix: accumulate evidence of immobility
	count := d.incrementStill(fix.DeviceID)
	if active != nil && active.IsMovement() && count >= d.cfg.ParkingStillCount {
		d.closeTrip(ctx, active, fix)
		return d.startTripID(ctx, domain.TripParking, fix)
	}
	if active != nil {
		return &active.TripID
	}
	return nil
}

func (d *TripDetector) startTripID(ctx context.Context, tripType domain.TripType, fix *domain.GpsFix) *string {
	trip, err := d.startTrip(ctx, tripType, fix)
	if err != nil {
		d.log.Errorw("Failed to create trip, fix will be persisted without one",
			"device_id", fix.DeviceID,
			"trip_type", string(tripType),
			"error", err,
		)
		return nil
	}
	return &trip.TripID
}

func (d *TripDetector) startTrip(ctx context.Context, tripType domain.TripType, fix *domain.GpsFix) (*domain.Trip, error) {
	tripID, err := d.buildTripID(ctx, tripType, fix)
	if err != nil {
		return nil, err
	}

	trip := &domain.Trip{
		TripID:    tripID,
		DeviceID:  fix.DeviceID,
		TripType:  tripType,
		Status:    domain.TripActive,
		StartTime: fix.Timestamp,
		StartLat:  fix.Latitude,
		StartLon:  fix.Longitude,
	}
	if err := d.trips.Create(ctx, trip); err != nil {
		return nil, fmt.Errorf("failed to create trip %s: %w", tripID, err)
	}

	metrics.TripsCreated.WithLabelValues(string(tripType)).Inc()
	d.logBus.Log(fmt.Sprintf("[TRIP] %s started %s", fix.DeviceID, tripID), "log")
	d.log.WithTripID(tripID).Infow("Trip started", "device_id", fix.DeviceID, "trip_type", string(tripType))

	_ = d.producer.Publish(ctx, kafka.Topics.TripStarted, kafka.NewEvent(kafka.Topics.TripStarted, "telemetry-service", map[string]interface{}{
		"trip_id":    tripID,
		"device_id":  fix.DeviceID,
		"trip_type":  string(tripType),
		"start_time": fix.Timestamp.UTC(),
		"start_lat":  fix.Latitude,
		"start_lon":  fix.Longitude,
	}))

	return trip, nil
}

// buildTripID assembles the human-decodable trip identifier:
// TRIP_YYYYMMDD_<device>_NNN for movement, PARKING_... for parking. The
// sequence counts the device's same-day trips so restarts never reuse one.
func (d *TripDetector) buildTripID(ctx context.Context, tripType domain.TripType, fix *domain.GpsFix) (string, error) {
	prefix := "TRIP"
	if tripType == domain.TripParking {
		prefix = "PARKING"
	}

	count, err := d.trips.CountForDeviceOnDay(ctx, fix.DeviceID, fix.Timestamp.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to count trips for sequence: %w", err)
	}

	return fmt.Sprintf("%s_%s_%s_%03d", prefix, fix.Timestamp.UTC().Format("20060102"), fix.DeviceID, count+1), nil
}

// closeTrip writes the end time and final metrics. A close failure is
// logged and never blocks the fix that triggered it.
func (d *TripDetector) closeTrip(ctx context.Context, trip *domain.Trip, fix *domain.GpsFix) {
	tripMetrics := d.computeMetrics(ctx, trip, fix)

	if err := d.trips.Close(ctx, trip.TripID, tripMetrics); err != nil {
		d.log.Errorw("Failed to close trip", "trip_id", trip.TripID, "error", err)
		return
	}

	d.logBus.Log(fmt.Sprintf("[TRIP] %s closed %s (%.1f m, %.1f s)", trip.DeviceID, trip.TripID, tripMetrics.Distance, tripMetrics.Duration), "log")
	d.log.WithTripID(trip.TripID).Infow("Trip closed",
		"device_id", trip.DeviceID,
		"distance_m", tripMetrics.Distance,
		"duration_s", tripMetrics.Duration,
		"avg_speed_kmh", tripMetrics.AvgSpeed,
	)

	_ = d.producer.Publish(ctx, kafka.Topics.TripClosed, kafka.NewEvent(kafka.Topics.TripClosed, "telemetry-service", map[string]interface{}{
		"trip_id":       trip.TripID,
		"device_id":     trip.DeviceID,
		"trip_type":     string(trip.TripType),
		"end_time":      tripMetrics.EndTime.UTC(),
		"distance_m":    tripMetrics.Distance,
		"duration_s":    tripMetrics.Duration,
		"avg_speed_kmh": tripMetrics.AvgSpeed,
	}))
}

// computeMetrics derives the closed trip's metrics: duration from the trip
// bounds, distance as the cumulative haversine along its persisted fixes,
// average speed in km/h (zero for a zero-duration trip).
func (d *TripDetector) computeMetrics(ctx context.Context, trip *domain.Trip, fix *domain.GpsFix) domain.TripMetrics {
	m := domain.TripMetrics{
		EndTime:  fix.Timestamp,
		Duration: fix.Timestamp.Sub(trip.StartTime).Seconds(),
	}

	fixes, err := d.fixes.ByTripID(ctx, trip.TripID)
	if err != nil {
		d.log.Warnw("Failed to load trip fixes for distance", "trip_id", trip.TripID, "error", err)
	}
	for i := 1; i < len(fixes); i++ {
		m.Distance += Haversine(
			fixes[i-1].Latitude, fixes[i-1].Longitude,
			fixes[i].Latitude, fixes[i].Longitude,
		)
	}

	if m.Duration > 0 {
		m.AvgSpeed = m.Distance / m.Duration * 3.6
	}
	return m
}
