package replay

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/config"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/gap"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/service/engine"
)

var engineConfigFile string

func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "replays recorded telemetry frames (json lines) through the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayFile(cmd, args[0])
		},
	}

	cmd.Flags().Float64Var(&config.ReplaySpeed, "speed", 0,
		"Replay speed factor (0 means: go as fast as possible)")
	cmd.Flags().StringVar(&engineConfigFile, "engine-config", "",
		"yaml file with an engine section (overrides the engine flags)")
	util.AddLogFlags(cmd.Flags())
	return cmd
}

func replayFile(cmd *cobra.Command, name string) error {
	util.SetupLogger()
	var params gap.Params
	var err error
	if engineConfigFile != "" {
		params, err = config.LoadEngineFile(engineConfigFile)
	} else {
		params = config.EngineParams()
		err = params.Validate()
	}
	if err != nil {
		return err
	}

	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	e := engine.New(processing.NewProcessor(processing.WithParams(params)))
	defer e.Close()
	r := NewReplayer(e, cmd.OutOrStdout(), WithSpeed(config.ReplaySpeed))
	stats, err := r.Replay(ctx, f)
	log.Info("Replay done",
		log.Int("frames", stats.Frames),
		log.Int("invalid", stats.Invalid))
	if err != nil {
		return fmt.Errorf("replay %s: %w", name, err)
	}
	return nil
}
