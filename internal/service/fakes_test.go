package service

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fleetsense/telemetry/internal/domain"
)

func dupErr() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "unique_device_timestamp"}
}

type fakeLogSink struct {
	messages []string
	types    []string
}

func (s *fakeLogSink) Log(message, msgType string) {
	s.messages = append(s.messages, message)
	s.types = append(s.types, msgType)
}

type fakeTxRunner struct {
	beginErr error
}

func (f *fakeTxRunner) Transaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	return fn(nil)
}

type fakeGpsRepo struct {
	fixes      []domain.GpsFix
	nextID     int64
	insertErr  error
	guardedErr error
	byTripErr  error
}

func (f *fakeGpsRepo) insert(fix *domain.GpsFix) (int64, error) {
	for _, existing := range f.fixes {
		if existing.DeviceID == fix.DeviceID && existing.Timestamp.Equal(fix.Timestamp) {
			return 0, dupErr()
		}
	}
	f.nextID++
	fix.ID = f.nextID
	f.fixes = append(f.fixes, *fix)
	return fix.ID, nil
}

func (f *fakeGpsRepo) InsertTx(_ context.Context, _ pgx.Tx, fix *domain.GpsFix) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	return f.insert(fix)
}

func (f *fakeGpsRepo) InsertGuardedTx(_ context.Context, _ pgx.Tx, fix *domain.GpsFix) (int64, error) {
	if f.guardedErr != nil {
		return 0, f.guardedErr
	}
	return f.insert(fix)
}

func (f *fakeGpsRepo) sorted() []domain.GpsFix {
	out := make([]domain.GpsFix, len(f.fixes))
	copy(out, f.fixes)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (f *fakeGpsRepo) LastByDevice(_ context.Context, deviceID string) (*domain.GpsFix, error) {
	var last *domain.GpsFix
	for _, fix := range f.sorted() {
		if fix.DeviceID == deviceID {
			fixCopy := fix
			last = &fixCopy
		}
	}
	return last, nil
}

func (f *fakeGpsRepo) Oldest(_ context.Context) (*domain.GpsFix, error) {
	all := f.sorted()
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

func (f *fakeGpsRepo) Newest(_ context.Context) (*domain.GpsFix, error) {
	all := f.sorted()
	if len(all) == 0 {
		return nil, nil
	}
	return &all[len(all)-1], nil
}

func (f *fakeGpsRepo) InRange(_ context.Context, start, end time.Time) ([]domain.GpsFix, error) {
	var out []domain.GpsFix
	for _, fix := range f.sorted() {
		if !fix.Timestamp.Before(start) && !fix.Timestamp.After(end) {
			out = append(out, fix)
		}
	}
	return out, nil
}

func (f *fakeGpsRepo) ByTripID(_ context.Context, tripID string) ([]domain.GpsFix, error) {
	if f.byTripErr != nil {
		return nil, f.byTripErr
	}
	var out []domain.GpsFix
	for _, fix := range f.sorted() {
		if fix.TripID != nil && *fix.TripID == tripID {
			out = append(out, fix)
		}
	}
	return out, nil
}

type fakeAccelRepo struct {
	windows   []domain.AccelWindow
	insertErr error
}

func (f *fakeAccelRepo) InsertTx(_ context.Context, _ pgx.Tx, w *domain.AccelWindow) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, existing := range f.windows {
		if existing.DeviceID == w.DeviceID && existing.Timestamp.Equal(w.Timestamp) {
			return dupErr()
		}
	}
	f.windows = append(f.windows, *w)
	return nil
}

type fakeTripRepo struct {
	trips        map[string]*domain.Trip
	createdOrder []string
	closedOrder  []string
	increments   map[string]int
	createErr    error
	closeErr     error
	incrementErr error
	countErr     error
}

func newFakeTripRepo() *fakeTripRepo {
	return &fakeTripRepo{
		trips:      make(map[string]*domain.Trip),
		increments: make(map[string]int),
	}
}

func (f *fakeTripRepo) Create(_ context.Context, trip *domain.Trip) error {
	if f.createErr != nil {
		return f.createErr
	}
	tripCopy := *trip
	f.trips[trip.TripID] = &tripCopy
	f.createdOrder = append(f.createdOrder, trip.TripID)
	return nil
}

func (f *fakeTripRepo) ActiveByDevice(_ context.Context, deviceID string) (*domain.Trip, error) {
	for _, trip := range f.trips {
		if trip.DeviceID == deviceID && trip.Status == domain.TripActive {
			tripCopy := *trip
			return &tripCopy, nil
		}
	}
	return nil, nil
}

func (f *fakeTripRepo) Close(_ context.Context, tripID string, metrics domain.TripMetrics) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	trip, ok := f.trips[tripID]
	if !ok {
		return nil
	}
	trip.Status = domain.TripClosed
	end := metrics.EndTime
	trip.EndTime = &end
	trip.Distance = metrics.Distance
	trip.Duration = metrics.Duration
	trip.AvgSpeed = metrics.AvgSpeed
	f.closedOrder = append(f.closedOrder, tripID)
	return nil
}

func (f *fakeTripRepo) IncrementPointCountTx(_ context.Context, _ pgx.Tx, tripID string) error {
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.increments[tripID]++
	if trip, ok := f.trips[tripID]; ok {
		trip.PointCount++
	}
	return nil
}

func (f *fakeTripRepo) CountForDeviceOnDay(_ context.Context, deviceID string, day time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	count := 0
	for _, trip := range f.trips {
		if trip.DeviceID == deviceID && trip.StartTime.UTC().Format("20060102") == day.UTC().Format("20060102") {
			count++
		}
	}
	return count, nil
}

type fakeDeviceRepo struct {
	devices map[string]*domain.Device
	lastErr error
}

func (f *fakeDeviceRepo) GetByID(_ context.Context, deviceID string) (*domain.Device, error) {
	return f.devices[deviceID], nil
}

func (f *fakeDeviceRepo) UpdateLastSeenTx(_ context.Context, _ pgx.Tx, deviceID string, ts time.Time) error {
	if f.lastErr != nil {
		return f.lastErr
	}
	if d, ok := f.devices[deviceID]; ok {
		if d.LastSeen == nil || !d.LastSeen.After(ts) {
			d.LastSeen = &ts
		}
	}
	return nil
}

type fakeGeofenceRepo struct {
	containing  *domain.GeofenceRef
	findErr     error
	inserted    []domain.Geofence
	insertedWKT []string
	activeCount int
}

func (f *fakeGeofenceRepo) FindSmallestContaining(_ context.Context, _, _ float64) (*domain.GeofenceRef, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.containing, nil
}

func (f *fakeGeofenceRepo) Insert(_ context.Context, gf *domain.Geofence, wkt string) error {
	f.inserted = append(f.inserted, *gf)
	f.insertedWKT = append(f.insertedWKT, wkt)
	return nil
}

func (f *fakeGeofenceRepo) CountActive(_ context.Context) (int, error) {
	return f.activeCount, nil
}
