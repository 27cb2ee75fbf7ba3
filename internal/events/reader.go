package events

import (
	"context"
	"database/sql"

	"shiftline/internal/domain"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Reader lists shift events in chronological order.
type Reader struct {
	DB *sql.DB
}

func (r Reader) ShiftEvents(ctx context.Context, shiftID int64) ([]domain.Event, error) {
	return shiftEvents(ctx, r.DB, shiftID)
}

func (r Reader) ShiftEventsTx(ctx context.Context, tx *sql.Tx, shiftID int64) ([]domain.Event, error) {
	return shiftEvents(ctx, tx, shiftID)
}

func shiftEvents(ctx context.Context, q querier, shiftID int64) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,shift_id,object_id,event_type,description,author_id,created_at
FROM shift_events WHERE shift_id=? ORDER BY created_at ASC, id ASC`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.ShiftID, &e.ObjectID, &e.Type, &e.Description, &e.AuthorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
