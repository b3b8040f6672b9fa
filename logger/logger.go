package logger

import (
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	rotateThresholdKB = 10 * 1024
	maxRolls          = 3
)

// Logger is the process-wide logger. It is a no-op logger until InitLogger is called.
var Logger = zap.NewNop()

// InitLogger sets up a JSON logger at the given level. An empty logFile logs to stdout,
// otherwise the file is rotated every rotateThresholdKB.
func InitLogger(logFile string, level string) error {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	atom := zap.NewAtomicLevel()
	if err := atom.UnmarshalText([]byte(level)); err != nil {
		return err
	}

	writeSyncer := zapcore.AddSync(os.Stdout)
	if logFile != "" {
		if logDir, _ := filepath.Split(logFile); logDir != "" {
			if err := os.MkdirAll(logDir, 0700); err != nil {
				return errors.Wrap(err, "failed to create log directory")
			}
		}
		r, err := rotator.New(logFile, rotateThresholdKB, false, maxRolls)
		if err != nil {
			return errors.Wrap(err, "failed to create file rotator")
		}
		writeSyncer = zapcore.AddSync(r)
	}
	encoder := zapcore.NewJSONEncoder(cfg)

	core := zapcore.NewCore(encoder, writeSyncer, atom)
	Logger = zap.New(core, zap.AddCaller())

	return nil
}

// Named returns a child of the global logger for a component
func Named(name string) *zap.Logger {
	return Logger.Named(name)
}
