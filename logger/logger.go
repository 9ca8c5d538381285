// Package logger provides the process-wide structured logger. Packages log
// through the package-level functions; until Initialize runs they hit a
// nop logger, so library code never has to guard its log calls.
package logger

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.SugaredLogger

func init() {
	log = zap.NewNop().Sugar()
}

// Initialize configures the global logger. With jsonOutput the production
// JSON encoder is used, otherwise a minimal console encoder. A non-empty
// logFile mirrors all output into that file (the directory is created if
// missing).
func Initialize(verbose bool, jsonOutput bool, logFile string) error {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	var enc zapcore.Encoder
	if jsonOutput {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if logFile != "" {
		if dir := filepath.Dir(logFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrapf(err, "create log directory %s", dir)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open log file %s", logFile)
		}
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)
	log = zap.New(core).Sugar()
	return nil
}

// Cleanup flushes buffered log entries. Call via defer from main.
func Cleanup() {
	_ = log.Sync()
}

func Sugar() *zap.SugaredLogger { return log }

func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { log.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { log.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }

func Debugw(msg string, kv ...interface{}) { log.Debugw(msg, kv...) }
func Infow(msg string, kv ...interface{})  { log.Infow(msg, kv...) }
func Warnw(msg string, kv ...interface{})  { log.Warnw(msg, kv...) }
func Errorw(msg string, kv ...interface{}) { log.Errorw(msg, kv...) }
