//nolint:whitespace // can't make both editor and linter happy
package lap

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/repository"
)

var selector = `select l.id, l.session_id, l.car_idx, l.lap_no,
	l.lap_time::text, l.session_time::text, l.created_at
	from lap l`

// Create stores a lap event and returns the persisted row
func Create(
	ctx context.Context,
	conn repository.Querier,
	ev *model.LapEvent,
) (*model.DbLap, error) {
	sessionID, err := uuid.Parse(ev.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", ev.SessionID, err)
	}
	row := conn.QueryRow(ctx, `
	insert into lap (
		session_id, car_idx, lap_no, lap_time, session_time
	) values ($1,$2,$3,$4::numeric,$5::numeric)
	returning id
		`,
		sessionID, int(ev.CarIdx), ev.LapNo,
		decimal.NewFromFloat(ev.LapTime).Round(3).String(),
		decimal.NewFromFloat(ev.SessionTime).Round(3).String(),
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, err
	}
	return LoadByID(ctx, conn, id)
}

func LoadByID(ctx context.Context, conn repository.Querier, id int64) (
	*model.DbLap, error,
) {
	row := conn.QueryRow(ctx, fmt.Sprintf("%s where l.id=$1", selector), id)
	return readData(row)
}

// LoadBySession returns all laps of a session ordered by car and lap number
func LoadBySession(ctx context.Context, conn repository.Querier, sessionID uuid.UUID) (
	[]*model.DbLap, error,
) {
	rows, err := conn.Query(ctx,
		fmt.Sprintf("%s where l.session_id=$1 order by l.car_idx, l.lap_no", selector),
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ret := make([]*model.DbLap, 0)
	for rows.Next() {
		item, err := readData(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	return ret, rows.Err()
}

// DeleteBySession removes all laps of a session and returns the number of deleted rows
func DeleteBySession(ctx context.Context, conn repository.Querier, sessionID uuid.UUID) (
	int, error,
) {
	cmdTag, err := conn.Exec(ctx, "delete from lap where session_id=$1", sessionID)
	if err != nil {
		return 0, err
	}
	return int(cmdTag.RowsAffected()), nil
}

func readData(row pgx.Row) (*model.DbLap, error) {
	var item model.DbLap
	var lapTime, sessionTime string
	if err := row.Scan(
		&item.ID,
		&item.SessionID,
		&item.CarIdx,
		&item.LapNo,
		&lapTime,
		&sessionTime,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if item.LapTime, err = decimal.NewFromString(lapTime); err != nil {
		return nil, err
	}
	if item.SessionTime, err = decimal.NewFromString(sessionTime); err != nil {
		return nil, err
	}
	return &item, nil
}
