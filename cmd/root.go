package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	migrateCmd "github.com/mpapenbr/iracelog-gap-engine/pkg/cmd/migrate"
	replayCmd "github.com/mpapenbr/iracelog-gap-engine/pkg/cmd/replay"
	serverCmd "github.com/mpapenbr/iracelog-gap-engine/pkg/cmd/server"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/config"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/processing/gap"
	"github.com/mpapenbr/iracelog-gap-engine/version"
)

const envPrefix = "IGAP"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "igap",
	Short:   "Live position and gap engine for iRacing telemetry",
	Long:    ``,
	Version: version.FullVersion,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.igap.yml)")

	rootCmd.PersistentFlags().StringVar(&config.DB, "db",
		"postgresql://DB_USERNAME:DB_USER_PASSWORD@DB_HOST:5432/igap",
		"Connection string for the database")
	rootCmd.PersistentFlags().StringVar(&config.WaitForServices,
		"wait-for-services",
		"15s",
		"Duration to wait for other services to be ready")

	defaults := gap.DefaultParams()
	rootCmd.PersistentFlags().Float64Var(&config.CheckpointInterval,
		"checkpoint-interval",
		defaults.CheckpointInterval,
		"distance in laps between two recorded checkpoints")
	rootCmd.PersistentFlags().IntVar(&config.MaxCheckpoints,
		"max-checkpoints",
		defaults.MaxCheckpoints,
		"number of checkpoints kept per car")
	rootCmd.PersistentFlags().Float64Var(&config.DefaultLapTime,
		"default-lap-time",
		defaults.DefaultLapTime,
		"lap time in seconds used until a car recorded a lap")
	rootCmd.PersistentFlags().IntVar(&config.NotStartedPosition,
		"not-started-position",
		defaults.NotStartedPosition,
		"position reported for cars which did not start their first lap")

	rootCmd.AddCommand(migrateCmd.NewMigrateCmd())
	rootCmd.AddCommand(serverCmd.NewServerCmd())
	rootCmd.AddCommand(replayCmd.NewReplayCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".igap" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".igap")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	bindFlags(rootCmd, viper.GetViper())
	for _, cmd := range rootCmd.Commands() {
		bindFlags(cmd, viper.GetViper())
	}
}

// Bind each cobra flag to its associated viper configuration
// (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// --nats-url is read from IGAP_NATS_URL
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name,
				fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v", f.Name, err)
			}
		}
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				fmt.Fprintf(os.Stderr, "Could set flag value for %s: %v", f.Name, err)
			}
		}
	})
}
