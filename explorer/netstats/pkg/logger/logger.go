package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging with consistent fields.
type Logger struct {
	base zerolog.Logger
}

// NewLogger creates a stdout logger with component metadata.
func NewLogger(component string) *Logger {
	return New(os.Stdout, component, zerolog.InfoLevel)
}

// New creates a logger writing JSON lines to w.
func New(w io.Writer, component string, level zerolog.Level) *Logger {
	zerolog.DurationFieldUnit = time.Millisecond
	l := zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger().
		Level(level)
	return &Logger{base: l}
}

// With returns a child logger carrying the extra key/value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{base: l.base.With().Fields(kvToMap(keyvals...)).Logger()}
}

// Debug logs debug messages with optional key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.base.Debug().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Info logs informational messages with optional key/value pairs.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.base.Info().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Warn logs warning messages with optional key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.base.Warn().Fields(kvToMap(keyvals...)).Msg(msg)
}

// Error logs error messages with optional key/value pairs.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.base.Error().Fields(kvToMap(keyvals...)).Msg(msg)
}

// kvToMap converts a flat list of key/value pairs into a map for zerolog.
func kvToMap(kv ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(kv)-1; i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, ok := kv[i+1].(error); ok {
			fields[key] = err.Error()
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
