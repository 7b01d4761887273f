package log

import (
	"os"
	"time"

	"go.uber.org/zap"
)

type Logger struct {
	l     *zap.Logger
	level zap.AtomicLevel
}

var (
	String     = zap.String
	Strings    = zap.Strings
	Int        = zap.Int
	Int32      = zap.Int32
	Int64      = zap.Int64
	Uint64     = zap.Uint64
	Float32    = zap.Float32
	Float64    = zap.Float64
	Bool       = zap.Bool
	Duration   = zap.Duration
	Time       = zap.Time
	Any        = zap.Any
	Stringer   = zap.Stringer
	ErrorField = zap.Error
)

var std = New(os.Stderr, InfoLevel, WithCaller(true), AddCallerSkip(1))

func Default() *Logger {
	return std
}

// ResetDefault replaces the logger used by the package level functions.
// not safe for concurrent use, call it during startup
func ResetDefault(l *Logger) {
	std = l
	Debug = std.Debug
	Info = std.Info
	Warn = std.Warn
	Error = std.Error
	Fatal = std.Fatal
}

var (
	Debug = std.Debug
	Info  = std.Info
	Warn  = std.Warn
	Error = std.Error
	Fatal = std.Fatal
)

func (l *Logger) Named(name string) *Logger {
	return &Logger{l: l.l.Named(name), level: l.level}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l: l.l.With(fields...), level: l.level}
}

func (l *Logger) Level() Level {
	return l.level.Level()
}

func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(level)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.l.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.l.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.l.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.l.Error(msg, fields...)
}

func (l *Logger) Fatal(msg string, fields ...Field) {
	l.l.Fatal(msg, fields...)
}

func (l *Logger) Log(level Level, msg string, fields ...Field) {
	l.l.Log(level, msg, fields...)
}

// Sugar exposes the zap sugared logger for libraries expecting printf style
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.l.Sugar()
}

func (l *Logger) Sync() error {
	return l.l.Sync()
}

// Since is a small helper for timing log entries
func Since(start time.Time) Field {
	return zap.Duration("took", time.Since(start))
}

func Sync() error {
	if std != nil {
		return std.Sync()
	}
	return nil
}
