// Package logging builds Apex's structured logger. File rotation and the
// hot-reload file watcher are both external collaborators (spec §1) —
// this package only configures level and output stream.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger's verbosity and destination.
type Config struct {
	Level  string // "debug", "info", "warn", "error" (default "info")
	Output string // "stdout" or "stderr" (default "stdout")
}

// New builds a zap.Logger from cfg: JSON-encoded, ISO8601 timestamps,
// matching the teacher's production encoder configuration.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	var ws zapcore.WriteSyncer
	switch cfg.Output {
	case "", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		return nil, fmt.Errorf("logging: unsupported output %q (want stdout or stderr)", cfg.Output)
	}

	core := zapcore.NewCore(encoder, ws, level)
	return zap.New(core, zap.AddCaller()), nil
}
