// Package logging provides the leveled, field-based logger used across the panel.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Fields carries structured key/value pairs attached to a log line.
type Fields map[string]interface{}

// Logger wraps a zerolog logger behind the small API the services use.
type Logger struct {
	zl    zerolog.Logger
	level Level
}

// New creates a console logger writing to stderr.
func New(level Level) *Logger {
	return NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}, level)
}

// NewWithWriter creates a logger writing JSON lines (or whatever w renders) to w.
func NewWithWriter(w io.Writer, level Level) *Logger {
	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl, level: level}
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Level returns the configured minimum level.
func (l *Logger) Level() Level {
	return l.level
}

// With returns a child logger that always carries fields.
func (l *Logger) With(fields Fields) *Logger {
	return &Logger{
		zl:    l.zl.With().Fields(map[string]interface{}(fields)).Logger(),
		level: l.level,
	}
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	write(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	write(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Fields) {
	write(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...Fields) {
	write(l.zl.Error(), msg, fields)
}

func write(e *zerolog.Event, msg string, fields []Fields) {
	if e == nil {
		return
	}
	for _, f := range fields {
		e = e.Fields(map[string]interface{}(f))
	}
	e.Msg(msg)
}

// WithField builds a single-entry Fields value.
func WithField(key string, value interface{}) Fields {
	return Fields{key: value}
}

// WithFields builds Fields from a map.
func WithFields(fields map[string]interface{}) Fields {
	return Fields(fields)
}
