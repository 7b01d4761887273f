package laprecorder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/repository/lap"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/utils/cache"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/utils/cache/loadercache"
)

// Lookup serves persisted laps of a session.
// Results are cached for a short time, polling clients must not hit the database
// on every request.
type Lookup struct {
	cache cache.Cache[uuid.UUID, []*model.DbLap]
}

//nolint:whitespace // can't make both editor and linter happy
func NewLookup(
	loader func(ctx context.Context, sessionID uuid.UUID) ([]*model.DbLap, error),
	expiration time.Duration,
) *Lookup {
	return &Lookup{
		cache: loadercache.New(
			loadercache.WithExpiration[uuid.UUID, []*model.DbLap](expiration),
			loadercache.WithLoader[uuid.UUID, []*model.DbLap](
				func(ctx context.Context, key uuid.UUID) (*[]*model.DbLap, error) {
					laps, err := loader(ctx, key)
					if err != nil {
						return nil, err
					}
					return &laps, nil
				}),
		),
	}
}

// NewPoolLookup reads laps from the lap table
func NewPoolLookup(pool *pgxpool.Pool, expiration time.Duration) *Lookup {
	return NewLookup(func(ctx context.Context, sessionID uuid.UUID) ([]*model.DbLap, error) {
		return lap.LoadBySession(ctx, pool, sessionID)
	}, expiration)
}

func (l *Lookup) Laps(ctx context.Context, sessionID uuid.UUID) ([]*model.DbLap, error) {
	laps, err := l.cache.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return *laps, nil
}
