// Package rlog provides the structured logger threaded through every
// component's constructor (spec §6's Console collaborator). There is
// no package-level logger: §9 forbids global mutable state, so every
// caller owns its own *zap.Logger instance, the way the teacher's
// msg.go owns a per-connection *log.Logger rather than a package
// global.
package rlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level selects the minimum severity a Logger emits.
type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// New builds a production-shaped, JSON-encoded logger writing to
// stderr at the given minimum level. It does not redact anything: a
// synerr.Storage error logged through it carries its wrapped SQL cause
// at whatever level it is logged.
func New(level Level) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// Nop returns a logger that discards everything, for tests and
// library callers that don't want sync's own logging.
func Nop() *zap.Logger { return zap.NewNop() }

// Dev builds a human-readable console logger suitable for
// cmd/relay/cmd/relayadmin's interactive use.
func Dev() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
