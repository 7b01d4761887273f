package log

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

type (
	Level  = zapcore.Level
	Field  = zap.Field
	Option = zap.Option
)

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

var (
	WithCaller    = zap.WithCaller
	AddCallerSkip = zap.AddCallerSkip
	AddStacktrace = zap.AddStacktrace
)

// ParseLevel parses a zap level name (debug, info, warn, error, fatal)
func ParseLevel(text string) (Level, error) {
	return zapcore.ParseLevel(text)
}

// WithFilter returns an option that drops entries not matching the zapfilter
// rules, e.g. "*:processing.* info+:*"
func WithFilter(rules string) (Option, error) {
	filter, err := zapfilter.ParseRules(rules)
	if err != nil {
		return nil, err
	}
	return zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapfilter.NewFilteringCore(c, filter)
	}), nil
}

// New creates a json logger writing to writer
func New(writer io.Writer, level Level, opts ...Option) *Logger {
	if writer == nil {
		panic("the writer is nil")
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return newLogger(zapcore.NewJSONEncoder(cfg.EncoderConfig), writer, level, opts...)
}

// DevLogger creates a console logger writing to writer
func DevLogger(writer io.Writer, level Level, opts ...Option) *Logger {
	if writer == nil {
		panic("the writer is nil")
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return newLogger(zapcore.NewConsoleEncoder(cfg), writer, level, opts...)
}

//nolint:whitespace // can't make both editor and linter happy
func newLogger(
	enc zapcore.Encoder, writer io.Writer, level Level, opts ...Option,
) *Logger {
	atomic := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(enc, zapcore.AddSync(writer), atomic)
	return &Logger{
		l:     zap.New(core, opts...),
		level: atomic,
	}
}
