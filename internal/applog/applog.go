// Package applog provides the process's structured operational logger,
// distinct from the CSV access log in internal/accesslog. It is grounded on
// caddyserver/caddy's use of go.uber.org/zap for everything that is not the
// access-log wire contract (see caddyhttp/httpserver/logger.go, which keeps
// the same separation between request logging and operational logging).
package applog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. debug selects zap's human-readable console
// encoder (mirroring cmd/caddy's --debug switch); otherwise the JSON encoder
// is used, suitable for a daemon's log pipeline.
func New(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return cfg.Build()
}

// Nop returns a logger that discards everything, used by tests that don't
// care about operational output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
