package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger configured for the telemetry service.
// Ingestion paths attach device and sender identity through the With*
// helpers so every line about a datagram can be traced back to its tracker.
type Logger struct {
	*zap.SugaredLogger
}

// New creates the service logger. Production gets single-line JSON for log
// shippers; everything else gets a colored console encoder. Timestamps are
// UTC with millisecond precision so log lines collate with the UTC instants
// stored on fixes and trips.
func New(serviceName, environment, level string) (*Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcMillisTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if environment == "production" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl)
	zapLogger := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Fields(
			zap.String("service", serviceName),
			zap.String("environment", environment),
		),
	)

	return &Logger{zapLogger.Sugar()}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// utcMillisTimeEncoder renders instants like the wire records do (ISO-8601,
// UTC, Z suffix), with milliseconds added
func utcMillisTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// Nop returns a logger that discards everything; useful in tests
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// Named returns a child logger tagged with a subsystem name (udp, ws,
// broadcast, ...) so one service binary still yields filterable streams
func (l *Logger) Named(subsystem string) *Logger {
	return &Logger{l.SugaredLogger.Named(subsystem)}
}

// WithDeviceID tags every subsequent line with the tracker identity
func (l *Logger) WithDeviceID(deviceID string) *Logger {
	return &Logger{l.SugaredLogger.With("device_id", deviceID)}
}

// WithSender tags lines with the datagram source address
func (l *Logger) WithSender(sender string) *Logger {
	return &Logger{l.SugaredLogger.With("sender", sender)}
}

// WithTripID tags lines with the trip being segmented
func (l *Logger) WithTripID(tripID string) *Logger {
	return &Logger{l.SugaredLogger.With("trip_id", tripID)}
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
