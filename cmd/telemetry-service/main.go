package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fleetsense/telemetry/internal/broadcast"
	"github.com/fleetsense/telemetry/internal/repository"
	"github.com/fleetsense/telemetry/internal/service"
	"github.com/fleetsense/telemetry/internal/udp"
	"github.com/fleetsense/telemetry/internal/ws"
	"github.com/fleetsense/telemetry/pkg/config"
	"github.com/fleetsense/telemetry/pkg/database"
	"github.com/fleetsense/telemetry/pkg/kafka"
	"github.com/fleetsense/telemetry/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Service.Name, cfg.Service.Environment, cfg.Service.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting telemetry-service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer db.Close()
	log.Info("Connected to database")

	// Connect to Redis (optional: the live position cache degrades to a
	// no-op without it)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalw("Failed to connect to Redis", "error", err)
		}
		defer redisClient.Close()
		log.Info("Connected to Redis")
	}

	// Initialize Kafka producer (optional)
	var eventProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		eventProducer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer eventProducer.Close()
		log.Info("Connected to Kafka")
	}

	// Initialize repositories
	gpsRepo := repository.NewPostgresGpsRepository(db)
	accelRepo := repository.NewPostgresAccelRepository(db)
	deviceRepo := repository.NewPostgresDeviceRepository(db)
	geofenceRepo := repository.NewPostgresGeofenceRepository(db)
	tripRepo := repository.NewPostgresTripRepository(db)

	// Observer registries, one per broadcast stream
	wsLog := log.Named("ws")
	gpsRegistry := ws.NewRegistry("gps", wsLog)
	logRegistry := ws.NewRegistry("log", wsLog)
	responseRegistry := ws.NewRegistry("response", wsLog)
	requestRegistry := ws.NewRegistry("request", wsLog)

	// Broadcast buses bridging ingestion workers to the observers
	busLog := log.Named("broadcast")
	gpsBus := broadcast.NewGpsBus(cfg.Broadcast.GpsBufferSize, gpsRegistry, busLog)
	responseBus := broadcast.NewResponseBus(responseRegistry, busLog)
	logBus := broadcast.NewLogBus(logRegistry)

	if cfg.Broadcast.Enabled {
		go gpsBus.Run(ctx)
		go responseBus.Run(ctx)
		go logBus.Run(ctx)
		log.Info("Broadcast dispatchers started")
	}

	// Ingestion services
	liveCache := service.NewLiveCache(redisClient, log)
	engine := service.NewGeofenceEngine(geofenceRepo, logBus, eventProducer, log)
	detector := service.NewTripDetector(cfg.Trips, tripRepo, gpsRepo, logBus, eventProducer, log)
	writer := service.NewPersistenceWriter(db, gpsRepo, accelRepo, tripRepo, deviceRepo, logBus, log)
	validator := udp.NewValidator(deviceRepo, logBus, log.Named("udp"))

	// Bootstrap geofences from file on an empty store
	importer := service.NewGeofenceImporter(geofenceRepo, log)
	if _, err := importer.ImportIfEmpty(ctx, cfg.Service.GeofenceFile); err != nil {
		log.Warnw("Geofence import failed", "error", err)
	}

	// Request router behind the request stream
	router := ws.NewRouter(ctx, gpsRepo, responseBus, gpsBus, service.PublicGpsRecord, log.Named("request-ws"))

	// UDP ingestion
	if cfg.UDP.Enabled {
		server := udp.NewServer(cfg.UDP, &udp.Pipeline{
			Validator: validator,
			Gps:       gpsRepo,
			Trips:     tripRepo,
			Engine:    engine,
			Detector:  detector,
			Writer:    writer,
			Cache:     liveCache,
			Producer:  eventProducer,
			GpsBus:    gpsBus,
		}, log.Named("udp"))
		go func() {
			if err := server.Run(ctx); err != nil {
				log.Fatalw("UDP server failed", "error", err)
			}
		}()
	}

	// DDNS updater
	if cfg.DDNS.Enabled {
		go service.NewDDNSUpdater(cfg.DDNS, logBus, log).Run(ctx)
		log.Info("DDNS updater started")
	}

	// HTTP server: health, metrics, and the WebSocket streams
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Server.AllowedOriginsWS),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/gps", ws.ServeWS(gpsRegistry, upgrader, nil))
	mux.HandleFunc("/ws/logs", ws.ServeWS(logRegistry, upgrader, nil))
	mux.HandleFunc("/ws/response", ws.ServeWS(responseRegistry, upgrader, nil))
	mux.HandleFunc("/ws/request", ws.ServeWS(requestRegistry, upgrader, router.HandleMessage))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infow("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalw("HTTP server failed", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down telemetry-service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	}

	log.Info("Telemetry-service stopped")
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		allowedSet[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := allowedSet[r.Header.Get("Origin")]
		return ok
	}
}
