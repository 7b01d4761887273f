package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/gap"
)

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                 string  // connection string for the database
	UpstreamURL        string  // URL of the telemetry relay websocket
	WaitForServices    string  // duration to wait for other services to be ready
	LogLevel           string  // sets the log level (zap log level values)
	SQLLogLevel        string  // sets the log level for sql subsystem
	LogFormat          string  // text vs json
	LogFilter          string  // zapfilter rules, e.g. "info+:* debug:processing"
	MigrationSourceURL string  // location of migration files (empty: embedded)
	EnableTelemetry    bool    // enable telemetry
	TelemetryEndpoint  string  // endpoint for telemetry (empty: stdout)
	ProfilingPort      int     // port for profiling
	ServerAddr         string  // listen addr for the http server
	ProviderToken      string  // token required for mutating endpoints
	NatsURL            string  // nats server url (empty: disabled)
	NatsKey            string  // subject suffix for nats subjects
	NatsKVBucket       string  // jetstream key value bucket for the latest report
	EnableLapRecorder  bool    // persist laps into the database
	LapBufferSize      int     // size of the lap recorder buffer
	CheckpointInterval float64 // engine param
	MaxCheckpoints     int     // engine param
	DefaultLapTime     float64 // engine param, seconds
	NotStartedPosition int     // engine param
	ReplaySpeed        float64 // replay speed factor (0: as fast as possible)
)

// Config holds the configuration values which are used by the application
type Config struct {
	Engine gap.Params `yaml:"engine"`
}

// EngineParams assembles the engine params from the CLI values
func EngineParams() gap.Params {
	return gap.Params{
		CheckpointInterval: CheckpointInterval,
		MaxCheckpoints:     MaxCheckpoints,
		DefaultLapTime:     DefaultLapTime,
		NotStartedPosition: NotStartedPosition,
	}
}

// EngineParamsFromViper reads the engine params from the current viper state.
// Keys are the CLI flag names. Missing keys keep the CLI values.
func EngineParamsFromViper(v *viper.Viper) (gap.Params, error) {
	ret := EngineParams()
	if v.IsSet("checkpoint-interval") {
		ret.CheckpointInterval = v.GetFloat64("checkpoint-interval")
	}
	if v.IsSet("max-checkpoints") {
		ret.MaxCheckpoints = v.GetInt("max-checkpoints")
	}
	if v.IsSet("default-lap-time") {
		ret.DefaultLapTime = v.GetFloat64("default-lap-time")
	}
	if v.IsSet("not-started-position") {
		ret.NotStartedPosition = v.GetInt("not-started-position")
	}
	return ret, ret.Validate()
}

// LoadEngineFile reads engine params from a yaml file with an `engine` section.
// Values not present in the file are taken from the defaults.
func LoadEngineFile(path string) (gap.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gap.Params{}, fmt.Errorf("read engine config: %w", err)
	}
	cfg := Config{Engine: gap.DefaultParams()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return gap.Params{}, fmt.Errorf("parse engine config: %w", err)
	}
	return cfg.Engine, cfg.Engine.Validate()
}
