package testdb

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	tcpg "github.com/mpapenbr/iracelog-gap-engine/testsupport/tcpostgres"
)

// InitTestDB returns a migrated and empty test database.
// If TESTDB_URL is set that database is used instead of a container.
func InitTestDB() *pgxpool.Pool {
	var pool *pgxpool.Pool

	if os.Getenv("TESTDB_URL") != "" {
		pool = tcpg.SetupExternalTestDB()
	} else {
		pool = tcpg.SetupTestDB()
	}
	if err := pgx.BeginFunc(context.Background(), pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "delete from lap")
		return err
	}); err != nil {
		log.Fatalf("initTestDb: %v\n", err)
	}
	return pool
}
