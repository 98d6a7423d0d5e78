// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "teo")), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("TEO_LOG_LEVEL", "info"),
		Format: getenv("TEO_LOG_FORMAT", "json"),
	}
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// Zone returns a zap field for an EdgeOne zone identifier.
func Zone(zone string) zap.Field { return zap.String("zone", zone) }

// Date returns a zap field for a calendar date, formatted YYYYMMDD.
func Date(d time.Time) zap.Field { return zap.String("date", d.Format("20060102")) }

// Action returns a zap field for an API action name.
func Action(action string) zap.Field { return zap.String("action", action) }

// Service returns a zap field for an API service name.
func Service(service string) zap.Field { return zap.String("api_service", service) }

// Host returns a zap field for a host name.
func Host(host string) zap.Field { return zap.String("host", host) }

// URL returns a zap field for a URL. Callers pass URLs without query strings.
func URL(u string) zap.Field { return zap.String("url", u) }

// Status returns a zap field for an HTTP status code.
func Status(code int) zap.Field { return zap.Int("status", code) }

// Attempt returns a zap field for a retry attempt number.
func Attempt(n int) zap.Field { return zap.Int("attempt", n) }

// RequestID returns a zap field for an API request id.
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// Path returns a zap field for a filesystem path.
func Path(path string) zap.Field { return zap.String("path", path) }

// RunID returns a zap field for a run identifier.
func RunID(id string) zap.Field { return zap.String("run_id", id) }

// Count returns a zap field for a count.
func Count(n int) zap.Field { return zap.Int("count", n) }

// Bytes returns a zap field for a byte size.
func Bytes(n int64) zap.Field { return zap.Int64("bytes", n) }

// Bucket returns a zap field for an object storage bucket.
func Bucket(bucket string) zap.Field { return zap.String("bucket", bucket) }

// Key returns a zap field for an object storage key.
func Key(key string) zap.Field { return zap.String("key", key) }

// Domain returns a zap field for a domain name.
func Domain(domain string) zap.Field { return zap.String("domain", domain) }
