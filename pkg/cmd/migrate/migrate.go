package migrate

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/config"
	dbmigrate "github.com/mpapenbr/iracelog-gap-engine/pkg/db/migrate"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/utils"
)

var down bool

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "performs database migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startMigration(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&config.MigrationSourceURL,
		"migration-source-url",
		"m",
		"",
		"url to migration files (default: embedded migrations)")
	cmd.Flags().BoolVar(&down,
		"down",
		false,
		"revert all migrations")
	util.AddLogFlags(cmd.Flags())
	return cmd
}

func startMigration(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, _ := util.SetupLogger()
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}
	if postgresAddr := utils.ExtractFromDBURL(config.DB); postgresAddr != "" {
		if err = utils.WaitForTCP(ctx, postgresAddr, timeout); err != nil {
			log.Fatal("database not ready", log.ErrorField(err))
		}
	}

	opts := []dbmigrate.Option{dbmigrate.WithLogger(logger.Named("migrate"))}
	if config.MigrationSourceURL != "" {
		log.Info("Using migrations files at", log.String("source", config.MigrationSourceURL))
		opts = append(opts, dbmigrate.WithSourceURL(config.MigrationSourceURL))
	}
	if down {
		log.Info("Reverting all migrations")
		return dbmigrate.DropDB(config.DB, opts...)
	}
	if err := dbmigrate.MigrateDB(config.DB, opts...); err != nil {
		return err
	}
	log.Info("Database is up to date")
	return nil
}
