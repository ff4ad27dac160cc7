package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	UDP       UDPConfig
	Broadcast BroadcastConfig
	Trips     TripsConfig
	DDNS      DDNSConfig
}

type ServiceConfig struct {
	Name         string
	Environment  string
	Version      string
	LogLevel     string
	GeofenceFile string
}

type ServerConfig struct {
	HTTPPort           int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	AllowedOriginsHTTP []string
	AllowedOriginsWS   []string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
}

type UDPConfig struct {
	Enabled         bool
	Port            int
	Workers         int
	ReadBufferBytes int
}

type BroadcastConfig struct {
	Enabled       bool
	GpsBufferSize int
}

// TripsConfig carries the trip segmentation thresholds.
type TripsConfig struct {
	SpatialJumpM       float64
	MovementThresholdM float64
	ParkingStillCount  int
}

type DDNSConfig struct {
	Enabled       bool
	Host          string
	Username      string
	Password      string
	CheckInterval time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:         getEnv("SERVICE_NAME", "telemetry-service"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			Version:      getEnv("VERSION", "1.0.0"),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			GeofenceFile: getEnv("GEOFENCE_FILE", ""),
		},
		Server: ServerConfig{
			HTTPPort:           getEnvInt("HTTP_PORT", 8000),
			ReadTimeout:        getEnvDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
			AllowedOriginsHTTP: getEnvSlice("ALLOWED_ORIGINS_HTTP", []string{"*"}),
			AllowedOriginsWS:   getEnvSlice("ALLOWED_ORIGINS_WS", []string{"*"}),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		UDP: UDPConfig{
			Enabled:         getEnvBool("UDP_ENABLED", true),
			Port:            getEnvInt("UDP_PORT", 9001),
			Workers:         getEnvInt("UDP_WORKERS", 4),
			ReadBufferBytes: getEnvInt("UDP_READ_BUFFER_BYTES", 4096),
		},
		Broadcast: BroadcastConfig{
			Enabled:       getEnvBool("BROADCASTER_ENABLE", true),
			GpsBufferSize: getEnvInt("GPS_BUFFER_SIZE", 50),
		},
		Trips: TripsConfig{
			SpatialJumpM:       getEnvFloat("TRIP_SPATIAL_JUMP_M", 2000),
			MovementThresholdM: getEnvFloat("TRIP_MOVEMENT_THRESHOLD_M", 50),
			ParkingStillCount:  getEnvInt("TRIP_PARKING_STILL_COUNT", 240),
		},
		DDNS: DDNSConfig{
			Enabled:       getEnvBool("DDNS_ENABLED", false),
			Host:          getEnv("DDNS_HOST", ""),
			Username:      getEnv("DDNS_USERNAME", ""),
			Password:      getEnv("DDNS_PASSWORD", ""),
			CheckInterval: getEnvDuration("DDNS_CHECK_INTERVAL", 10*time.Second),
		},
	}

	// DISABLE_UDP takes precedence over UDP_ENABLED, and with UDP off the
	// broadcasters have no producers, so they are forced off too.
	if getEnvBool("DISABLE_UDP", false) {
		cfg.UDP.Enabled = false
	}
	if !cfg.UDP.Enabled {
		cfg.Broadcast.Enabled = false
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
