package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/config"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/db/postgres"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/ingest/wsclient"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/messaging/natsgap"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/server"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/server/auth"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/service/engine"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/service/laprecorder"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/utils"
)

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "starts the gap engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.ServerAddr,
		"server-addr",
		"a",
		"localhost:8090",
		"http server listen address")
	util.AddLogFlags(cmd.Flags())
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data (empty: stdout)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	cmd.Flags().StringVar(&config.ProviderToken,
		"provider-token",
		"",
		"token required to push frames and reset the engine (empty: no check)")
	cmd.Flags().StringVar(&config.UpstreamURL,
		"upstream-url",
		"",
		"websocket url of the telemetry relay (empty: disabled)")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"url of the nats server (empty: disabled)")
	cmd.Flags().StringVar(&config.NatsKey,
		"nats-key",
		"default",
		"key used for the nats subjects telemetry.<key> and gaps.<key>")
	cmd.Flags().StringVar(&config.NatsKVBucket,
		"nats-kv-bucket",
		"igap",
		"jetstream key value bucket for the latest report")
	cmd.Flags().BoolVar(&config.EnableLapRecorder,
		"enable-lap-recorder",
		false,
		"persist recorded laps into the database")
	cmd.Flags().IntVar(&config.LapBufferSize,
		"lap-buffer-size",
		64,
		"number of laps which may wait for persistence")
	return cmd
}

type components struct {
	telemetry *config.Telemetry
	pool      *pgxpool.Pool
	recorder  *laprecorder.Recorder
	natsConn  *nats.Conn
	gateway   *natsgap.Gateway
	engine    *engine.Engine
}

func (c *components) shutdown() {
	if c.gateway != nil {
		if err := c.gateway.Close(); err != nil {
			log.Warn("could not close nats subscription", log.ErrorField(err))
		}
	}
	if c.engine != nil {
		c.engine.Close()
	}
	if c.natsConn != nil {
		if err := c.natsConn.Drain(); err != nil {
			log.Warn("could not drain nats connection", log.ErrorField(err))
		}
	}
	if c.recorder != nil {
		c.recorder.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.telemetry != nil {
		c.telemetry.Shutdown()
	}
}

//nolint:funlen,cyclop // by design
func startServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, sqlLogger := util.SetupLogger()
	log.Debug("Config:",
		log.String("addr", config.ServerAddr),
		log.String("upstream", config.UpstreamURL),
		log.String("nats", config.NatsURL),
		log.Bool("lapRecorder", config.EnableLapRecorder),
	)

	params, err := config.EngineParamsFromViper(viper.GetViper())
	if err != nil {
		return err
	}

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}
	setupGoRoutinesDump()
	waitForRequiredServices(parent)

	c := &components{}
	defer c.shutdown()

	pgTraceOption := postgres.WithTracer(sqlLogger, log.DebugLevel)
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if c.telemetry, err = config.SetupTelemetry(parent); err == nil {
			pgTraceOption = postgres.WithOtlpTracer()
		} else {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	procOpts := []processing.ProcessorOption{
		processing.WithParams(params),
		processing.WithLogger(logger.Named("processing")),
	}
	if config.EnableLapRecorder {
		if c.pool, err = postgres.InitWithURL(config.DB, pgTraceOption); err != nil {
			return err
		}
		c.recorder = laprecorder.New(laprecorder.NewPoolStore(c.pool),
			laprecorder.WithBufferSize(config.LapBufferSize))
		procOpts = append(procOpts, processing.WithLapListener(c.recorder))
	}
	proc := processing.NewProcessor(procOpts...)

	engineOpts := []engine.Option{}
	if config.NatsURL != "" {
		if c.natsConn, err = nats.Connect(config.NatsURL); err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		if c.gateway, err = natsgap.New(c.natsConn, config.NatsKey,
			natsgap.WithContext(parent),
			natsgap.WithBucket(config.NatsKVBucket)); err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithSink(c.gateway))
	}
	c.engine = engine.New(proc, engineOpts...)

	handler := func(ctx context.Context, data []byte) error {
		_, err := c.engine.HandleRaw(ctx, data)
		return err
	}
	if c.gateway != nil {
		if err = c.gateway.Ingest(handler); err != nil {
			return err
		}
	}

	watchEngineConfig(proc)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	wg := sync.WaitGroup{}
	if config.UpstreamURL != "" {
		if addr, _ := utils.ExtractFromWebsocketURL(config.UpstreamURL); addr == "" {
			return fmt.Errorf("invalid upstream url %q", config.UpstreamURL)
		}
		client := wsclient.New(config.UpstreamURL, handler)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Run(ctx); err != nil {
				log.Error("upstream ingest stopped", log.ErrorField(err))
			}
		}()
	}

	srvOpts := []server.Option{
		server.WithAuthenticator(
			auth.NewAuthenticator(auth.WithProviderToken(config.ProviderToken))),
	}
	if c.pool != nil {
		srvOpts = append(srvOpts,
			server.WithLapSource(laprecorder.NewPoolLookup(c.pool, 5*time.Second)))
	}
	srv := server.New(c.engine, srvOpts...)
	log.Info("Server started")
	err = srv.Serve(ctx, config.ServerAddr)
	stop()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", log.ErrorField(err))
		return err
	}
	log.Info("Server terminated")
	return nil
}

// watchEngineConfig applies changed engine params from the config file
func watchEngineConfig(proc *processing.Processor) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		params, err := config.EngineParamsFromViper(viper.GetViper())
		if err != nil {
			log.Warn("Ignoring invalid engine config",
				log.String("file", e.Name),
				log.ErrorField(err))
			return
		}
		if params == proc.Params() {
			return
		}
		if err := proc.UpdateParams(context.Background(), params); err != nil {
			log.Warn("Could not apply engine config", log.ErrorField(err))
			return
		}
		log.Info("Engine config reloaded", log.Any("params", params))
	})
	viper.WatchConfig()
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

func waitForRequiredServices(ctx context.Context) {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}

	wg := sync.WaitGroup{}
	checkTCP := func(addr string) {
		defer wg.Done()
		if err := utils.WaitForTCP(ctx, addr, timeout); err != nil {
			log.Fatal("required services not ready",
				log.String("addr", addr),
				log.ErrorField(err))
		}
	}

	addrs := []string{}
	if config.EnableLapRecorder {
		addrs = append(addrs, utils.ExtractFromDBURL(config.DB))
	}
	if config.NatsURL != "" {
		addrs = append(addrs, utils.ExtractFromNatsURL(config.NatsURL))
	}
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		wg.Add(1)
		go checkTCP(addr)
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	log.Debug("Required services are available")
}
