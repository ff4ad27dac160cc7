package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/fleetsense/telemetry/internal/broadcast"
	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/internal/metrics"
	"github.com/fleetsense/telemetry/internal/repository"
	"github.com/fleetsense/telemetry/internal/service"
	"github.com/fleetsense/telemetry/pkg/config"
	apperrors "github.com/fleetsense/telemetry/pkg/errors"
	"github.com/fleetsense/telemetry/pkg/kafka"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// datagram is one received packet plus its sender identity
type datagram struct {
	data   []byte
	sender string
}

// Pipeline bundles everything one datagram flows through after receipt
type Pipeline struct {
	Validator *Validator
	Gps       repository.GpsRepository
	Trips     repository.TripRepository
	Engine    *service.GeofenceEngine
	Detector  *service.TripDetector
	Writer    *service.PersistenceWriter
	Cache     *service.LiveCache
	Producer  *kafka.Producer
	GpsBus    *broadcast.GpsBus
}

// Server owns the UDP socket and the worker pool processing datagrams.
// Datagrams for the same device serialize on a per-device lock so that
// concurrent packets cannot interleave trip-state updates; different
// devices process in parallel. A bad datagram never takes the server down.
type Server struct {
	cfg      config.UDPConfig
	pipeline *Pipeline
	log      *logger.Logger

	locks sync.Map // deviceID -> *sync.Mutex
}

// NewServer creates a UDP ingestion server
func NewServer(cfg config.UDPConfig, pipeline *Pipeline, log *logger.Logger) *Server {
	return &Server{cfg: cfg, pipeline: pipeline, log: log}
}

// Run listens for datagrams until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.cfg.Port})
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", s.cfg.Port, err)
	}

	s.log.Infow("UDP server listening", "port", s.cfg.Port, "workers", s.cfg.Workers)

	// Closing the socket unblocks the read loop when ctx is cancelled
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	queue := make(chan datagram, 256)

	var wg sync.WaitGroup
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range queue {
				s.process(ctx, d)
			}
		}()
	}

	buf := make([]byte, s.cfg.ReadBufferBytes)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Warnw("UDP read error", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		queue <- datagram{data: data, sender: addr.String()}
	}

	close(queue)
	wg.Wait()
	s.log.Infow("UDP server stopped")
	return nil
}

// process runs one datagram through the full ingestion pipeline
func (s *Server) process(ctx context.Context, d datagram) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Panic while processing datagram", "sender", d.sender, "panic", r)
		}
	}()

	metrics.DatagramsReceived.Inc()
	p := s.pipeline

	raw, err := ParsePacket(d.data, d.sender)
	if err != nil {
		metrics.ParseFailures.Inc()
		s.log.Warnw("Dropped undecodable datagram", "sender", d.sender, "error", err)
		return
	}

	rec, err := NormalizeGpsPayload(raw)
	if err != nil {
		metrics.InvalidRecords.Inc()
		s.log.Warnw("Dropped unnormalizable datagram", "error", apperrors.Normalize(d.sender, err))
		return
	}

	device, err := p.Validator.ValidateDevice(ctx, rec.DeviceID, d.sender)
	if err != nil {
		return
	}

	dlog := s.log.WithDeviceID(rec.DeviceID).WithSender(d.sender)

	if err := ValidateGpsRecord(rec); err != nil {
		metrics.InvalidRecords.Inc()
		dlog.Warnw("Dropped invalid GPS record", "error", err)
		return
	}

	accel, err := ExtractAccelWindow(raw, rec.DeviceID, rec.Timestamp)
	if err != nil {
		dlog.Warnw("Discarded accel block, GPS will still be inserted", "error", err)
		accel = nil
	}
	if accel != nil {
		if err := ValidateAccelWindow(accel); err != nil {
			dlog.Warnw("Discarded invalid accel window, GPS will still be inserted", "error", err)
			accel = nil
		}
	}

	// Serialize per device: trip state transitions assume fixes for one
	// device arrive strictly in order through this section
	lock := s.deviceLock(rec.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := p.Gps.LastByDevice(ctx, rec.DeviceID)
	if err != nil {
		dlog.Warnw("Failed to load previous fix", "error", err)
		prev = nil
	}
	activeTrip, err := p.Trips.ActiveByDevice(ctx, rec.DeviceID)
	if err != nil {
		dlog.Warnw("Failed to load active trip", "error", err)
		activeTrip = nil
	}

	fix := &domain.GpsFix{
		DeviceID:  rec.DeviceID,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Altitude:  rec.Altitude,
		Accuracy:  rec.Accuracy,
		Timestamp: rec.Timestamp,
	}

	geo := p.Engine.Evaluate(ctx, fix, prev)
	fix.CurrentGeofenceID = geo.GeofenceID
	fix.CurrentGeofenceName = geo.GeofenceName
	fix.GeofenceEventType = geo.EventType

	fix.TripID = p.Detector.HandleFix(ctx, fix, prev, activeTrip)

	gpsInserted, _, err := p.Writer.Persist(ctx, service.PersistInput{
		Fix:     fix,
		ExitFix: geo.ExitFix,
		Accel:   accel,
		Device:  device,
	})
	if err != nil || !gpsInserted {
		return
	}

	p.GpsBus.Add(service.PublicGpsRecord(fix, false))

	if err := p.Cache.Update(ctx, fix); err != nil {
		dlog.Warnw("Failed to update live position cache", "error", err)
	}

	_ = p.Producer.Publish(ctx, kafka.Topics.LocationUpdated, kafka.NewEvent(kafka.Topics.LocationUpdated, "telemetry-service", map[string]interface{}{
		"device_id": fix.DeviceID,
		"latitude":  fix.Latitude,
		"longitude": fix.Longitude,
		"trip_id":   fix.TripID,
		"timestamp": fix.Timestamp.UTC(),
	}))
}

func (s *Server) deviceLock(deviceID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(deviceID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
