package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/iracelog-gap-engine/log"
)

type PoolConfigOption func(cfg *pgxpool.Config)

// WithTracer logs every query with the given level
func WithTracer(logger *log.Logger, level log.Level) PoolConfigOption {
	return func(cfg *pgxpool.Config) {
		cfg.ConnConfig.Tracer = &myQueryTracer{log: logger, level: level}
	}
}

// WithOtlpTracer creates spans for queries via OpenTelemetry
func WithOtlpTracer() PoolConfigOption {
	return func(cfg *pgxpool.Config) {
		cfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithIncludeQueryParameters())
	}
}

func WithMaxConns(n int32) PoolConfigOption {
	return func(cfg *pgxpool.Config) {
		cfg.MaxConns = n
	}
}

// InitWithURL creates a connection pool and verifies the connection
func InitWithURL(url string, opts ...PoolConfigOption) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	for _, opt := range opts {
		opt(dbConfig)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create the database pool: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to get a valid database connection: %w", err)
	}
	if _, ok := dbConfig.ConnConfig.Tracer.(*otelpgx.Tracer); ok {
		if err := otelpgx.RecordStats(pool); err != nil {
			log.Warn("could not record db stats", log.ErrorField(err))
		}
	}
	return pool, nil
}

type myQueryTracer struct {
	log   *log.Logger
	level log.Level
}

type queryStartKey struct{}

//nolint:whitespace // can't make the linters happy
func (tracer *myQueryTracer) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	tracer.log.Log(tracer.level, "Executing",
		log.String("sql", data.SQL),
		log.Any("args", data.Args))
	return context.WithValue(ctx, queryStartKey{}, time.Now())
}

//nolint:whitespace // can't make the linters happy
func (tracer *myQueryTracer) TraceQueryEnd(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	fields := []log.Field{log.String("tag", data.CommandTag.String())}
	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		fields = append(fields, log.Since(start))
	}
	if data.Err != nil {
		tracer.log.Warn("Query failed", append(fields, log.ErrorField(data.Err))...)
		return
	}
	tracer.log.Log(tracer.level, "Done", fields...)
}
