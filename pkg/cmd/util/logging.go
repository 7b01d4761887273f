package util

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/config"
)

func ParseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

// SetupLogger creates the application and sql loggers from the CLI config and
// installs the application logger as default.
func SetupLogger() (logger, sqlLogger *log.Logger) {
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	if config.LogFilter != "" {
		if filter, err := log.WithFilter(config.LogFilter); err == nil {
			opts = append(opts, filter)
		} else {
			log.Warn("Ignoring invalid log filter",
				log.String("filter", config.LogFilter),
				log.ErrorField(err))
		}
	}
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			ParseLogLevel(config.LogLevel, log.InfoLevel),
			opts...)
		sqlLogger = log.New(
			os.Stderr,
			ParseLogLevel(config.SQLLogLevel, log.InfoLevel),
			opts...)
	default:
		logger = log.DevLogger(
			os.Stderr,
			ParseLogLevel(config.LogLevel, log.DebugLevel),
			opts...)
		sqlLogger = log.DevLogger(
			os.Stderr,
			ParseLogLevel(config.SQLLogLevel, log.InfoLevel),
			opts...)
	}
	log.ResetDefault(logger)
	return logger, sqlLogger
}

// AddLogFlags registers the log related flags on a command flagset
func AddLogFlags(flags *pflag.FlagSet) {
	flags.StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	flags.StringVar(&config.SQLLogLevel,
		"sql-log-level",
		"debug",
		"controls the log level for sql methods")
	flags.StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format (json, text)")
	flags.StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules to restrict log output (example: 'info+:* debug:processing')")
}
