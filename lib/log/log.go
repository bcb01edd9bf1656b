/*package log builds the zap loggers used by meshsync's programs. Library
packages never reach for a global logger; they take a *zap.Logger from their
caller and fall back to Nop() when given nil.
*/
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// where logs go by default.
var logWriter io.Writer = os.Stderr

// New creates a named logger writing to stderr at the given level ("debug",
// "info", "warn", "error"). If json is true, entries are JSON encoded,
// otherwise they use the human-readable console encoder.
func New(name, level string, json bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid log level: %w", level, err)
	}
	return NewWithLevel(name, zap.NewAtomicLevelAt(lvl), encoder(json)), nil
}

// NewWithLevel creates a named logger with a fixed level and encoder.
func NewWithLevel(name string, level zap.AtomicLevel, enc zapcore.Encoder) *zap.Logger {
	core := zapcore.NewCore(enc, zapcore.AddSync(logWriter), level)
	return zap.New(core).Named(name)
}

// Nop returns a silent logger.
func Nop() *zap.Logger { return zap.NewNop() }

// OrNop returns log, or a silent logger if log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return Nop()
	}
	return log
}

// ForRank tags every entry of log with the rank that wrote it.
func ForRank(log *zap.Logger, rank int) *zap.Logger {
	return OrNop(log).With(zap.Int("rank", rank))
}

func encoder(json bool) zapcore.Encoder {
	if json {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
}
