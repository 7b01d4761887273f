//nolint:errcheck // testsetup
package tcpostgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/db/migrate"
	database "github.com/mpapenbr/iracelog-gap-engine/pkg/db/postgres"
)

// SetupTestDB creates a pg connection pool for the igap test database
func SetupTestDB() *pgxpool.Pool {
	ctx := context.Background()
	port, err := nat.NewPort("tcp", "5432")
	if err != nil {
		log.Fatal(err)
	}
	container, err := SetupPostgres(ctx,
		WithPort(string(port)),
		WithInitialDatabase("postgres", "password", "postgres"),
		WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		WithName("igap-test"),
	)
	if err != nil {
		log.Fatal(err)
	}
	containerPort, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	dbURL := fmt.Sprintf("postgresql://postgres:password@%s:%s/postgres",
		host, containerPort.Port())
	return setupPool(dbURL)
}

// SetupExternalTestDB uses the database referenced by TESTDB_URL
func SetupExternalTestDB() *pgxpool.Pool {
	return setupPool(os.Getenv("TESTDB_URL"))
}

func setupPool(dbURL string) *pgxpool.Pool {
	if err := migrate.MigrateDB(dbURL); err != nil {
		log.Fatal(err)
	}
	pool, err := database.InitWithURL(dbURL)
	if err != nil {
		log.Fatal(err)
	}
	return pool
}

func ClearLapTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from lap")
}

func ClearAllTables(pool *pgxpool.Pool) {
	ClearLapTable(pool)
}
