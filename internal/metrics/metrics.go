package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion pipeline counters
var (
	DatagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_udp_datagrams_received_total",
		Help: "Number of UDP datagrams received",
	})

	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_udp_parse_failures_total",
		Help: "Number of datagrams dropped after all parse fallbacks",
	})

	RejectedDevices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_udp_rejected_devices_total",
		Help: "Number of datagrams rejected because the device is unknown or inactive",
	})

	InvalidRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_udp_invalid_records_total",
		Help: "Number of datagrams rejected by GPS normalization or schema validation",
	})

	FixesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_gps_fixes_persisted_total",
		Help: "Number of GPS fixes written to the store",
	})

	DuplicateFixes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_gps_duplicate_fixes_total",
		Help: "Number of GPS fixes dropped as duplicates",
	})

	GeofenceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_geofence_events_total",
		Help: "Number of geofence transition events by type",
	}, []string{"event"})

	TripsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_trips_created_total",
		Help: "Number of trips created by type",
	}, []string{"type"})

	BroadcastEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_broadcast_evictions_total",
		Help: "Number of GPS payloads evicted from the broadcast buffer on overflow",
	})

	ObserversConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "telemetry_ws_observers_connected",
		Help: "Number of connected WebSocket observers per stream",
	}, []string{"stream"})
)
