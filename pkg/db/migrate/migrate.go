package migrate

import (
	"embed"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/mpapenbr/iracelog-gap-engine/log"
)

//go:embed migrations
var migrations embed.FS

type config struct {
	sourceURL string
	l         *log.Logger
}

type Option func(*config)

// WithSourceURL reads the migrations from the given location (e.g. file://...)
// instead of the embedded ones.
func WithSourceURL(url string) Option {
	return func(c *config) {
		c.sourceURL = url
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		c.l = l
	}
}

// MigrateDB applies all pending up migrations
func MigrateDB(dbURI string, opts ...Option) error {
	m, err := newMigrate(dbURI, opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// DropDB reverts all migrations
func DropDB(dbURI string, opts ...Option) error {
	m, err := newMigrate(dbURI, opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func newMigrate(dbURI string, opts ...Option) (*migrate.Migrate, error) {
	cfg := &config{l: log.Default().Named("migrate")}
	for _, opt := range opts {
		opt(cfg)
	}
	target := toDriverURL(dbURI)
	var m *migrate.Migrate
	var err error
	if cfg.sourceURL != "" {
		m, err = migrate.New(cfg.sourceURL, target)
	} else {
		source, srcErr := iofs.New(migrations, "migrations")
		if srcErr != nil {
			return nil, srcErr
		}
		m, err = migrate.NewWithSourceInstance("iofs", source, target)
	}
	if err != nil {
		return nil, err
	}
	m.Log = &migrateLogger{l: cfg.l}
	return m, nil
}

// toDriverURL maps postgres urls to the pgx/v5 driver of golang-migrate
func toDriverURL(dbURI string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dbURI, prefix) {
			return "pgx5://" + strings.TrimPrefix(dbURI, prefix)
		}
	}
	return dbURI
}

type migrateLogger struct {
	l *log.Logger
}

func (m *migrateLogger) Printf(format string, v ...any) {
	m.l.Sugar().Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (m *migrateLogger) Verbose() bool {
	return m.l.Enabled(log.DebugLevel)
}
