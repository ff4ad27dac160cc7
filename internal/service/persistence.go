package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/internal/metrics"
	"github.com/fleetsense/telemetry/internal/repository"
	apperrors "github.com/fleetsense/telemetry/pkg/errors"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// TxRunner runs a function inside a database transaction
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// PersistInput is everything one ingestion call wants written atomically
type PersistInput struct {
	Fix     *domain.GpsFix
	ExitFix *domain.GpsFix
	Accel   *domain.AccelWindow
	Device  *domain.Device
}

// PersistenceWriter is the single entry point for writing a fix and its
// companions. Inside one transaction, in order: the accelerometer window
// (its failure never blocks the fix), the synthesized exit fix when a zone
// hand-off produced one, the fix itself, the trip point-count bump, and the
// device freshness update. A duplicate fix rolls the whole transaction back,
// including an accel that went in above it; a duplicate accel rolls back
// only itself.
type PersistenceWriter struct {
	db      TxRunner
	gps     repository.GpsRepository
	accels  repository.AccelRepository
	trips   repository.TripRepository
	devices repository.DeviceRepository
	log     *logger.Logger
	logBus  LogSink
}

// NewPersistenceWriter creates a persistence writer
func NewPersistenceWriter(db TxRunner, gps repository.GpsRepository, accels repository.AccelRepository, trips repository.TripRepository, devices repository.DeviceRepository, logBus LogSink, log *logger.Logger) *PersistenceWriter {
	return &PersistenceWriter{
		db:      db,
		gps:     gps,
		accels:  accels,
		trips:   trips,
		devices: devices,
		log:     log,
		logBus:  logBus,
	}
}

// Persist writes the input and reports which parts went in
func (w *PersistenceWriter) Persist(ctx context.Context, in PersistInput) (gpsInserted, accelInserted bool, err error) {
	deviceID := in.Fix.DeviceID

	txErr := w.db.Transaction(ctx, func(tx pgx.Tx) error {
		// Accel first: if it is the duplicate, the fix can still go in;
		// if the fix is the duplicate, the rollback takes the accel with
		// it so no orphan window survives without its GPS partner.
		if in.Accel != nil {
			if aerr := w.accels.InsertTx(ctx, tx, in.Accel); aerr != nil {
				if repository.IsUniqueViolation(aerr) {
					w.log.Debugw("Duplicate accel window skipped", "device_id", deviceID)
				} else {
					w.log.Warnw("Accel insert failed, continuing with GPS", "device_id", deviceID, "error", aerr)
				}
			} else {
				accelInserted = true
			}
		}

		if in.ExitFix != nil {
			if _, xerr := w.gps.InsertGuardedTx(ctx, tx, in.ExitFix); xerr != nil {
				w.log.Warnw("Exit fix insert failed", "device_id", deviceID, "error", xerr)
			}
		}

		if _, gerr := w.gps.InsertTx(ctx, tx, in.Fix); gerr != nil {
			return gerr
		}

		if in.Fix.TripID != nil {
			if terr := w.trips.IncrementPointCountTx(ctx, tx, *in.Fix.TripID); terr != nil {
				// point_count is a convenience counter; the fix commits anyway
				w.log.Warnw("Failed to increment trip point_count", "trip_id", *in.Fix.TripID, "error", terr)
			}
		}

		return w.devices.UpdateLastSeenTx(ctx, tx, deviceID, in.Fix.Timestamp)
	})

	if txErr != nil {
		if repository.IsUniqueViolation(txErr) {
			// Expected when a device resends a datagram; not an error
			metrics.DuplicateFixes.Inc()
			w.log.Debugw("Duplicate fix skipped", "device_id", deviceID, "timestamp", in.Fix.Timestamp)
			return false, false, nil
		}

		w.log.Errorw("Persistence failed", "device_id", deviceID, "error", txErr)
		w.logBus.Log(fmt.Sprintf("[PERSISTENCE] GPS DB error for device '%s': %v", deviceID, txErr), "error")
		return false, false, apperrors.Persist(deviceID, txErr)
	}

	metrics.FixesPersisted.Inc()

	summary := fmt.Sprintf("GPS (ID: %d)", in.Fix.ID)
	if accelInserted {
		summary += " + Accel"
	}
	w.logBus.Log(fmt.Sprintf("[PERSISTENCE] Device '%s': %s inserted successfully", deviceID, summary), "log")

	return true, accelInserted, nil
}
