package repo

import (
	"context"
	"database/sql"

	"shiftline/internal/domain"
)

const shiftColumns = `id,guard_id,object_id,start_time,end_time,status,created_at,updated_at`

func scanShift(row rowScanner) (domain.Shift, error) {
	var s domain.Shift
	var end sql.NullString
	if err := row.Scan(&s.ID, &s.GuardID, &s.ObjectID, &s.StartTime, &end, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.Shift{}, notFound(err)
	}
	s.EndTime = stringPtr(end)
	return s, nil
}

func (r Repo) InsertShift(ctx context.Context, tx *sql.Tx, s domain.Shift) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO shifts(guard_id,object_id,start_time,end_time,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		s.GuardID, s.ObjectID, s.StartTime, nullableStringPtr(s.EndTime), s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetShift(ctx context.Context, id int64) (domain.Shift, error) {
	return getShift(ctx, r.DB, id)
}

func (r Repo) GetShiftTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Shift, error) {
	return getShift(ctx, tx, id)
}

func getShift(ctx context.Context, q Querier, id int64) (domain.Shift, error) {
	return scanShift(q.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id=?`, id))
}

func (r Repo) ActiveShiftForGuard(ctx context.Context, guardID int64) (domain.Shift, error) {
	return activeShiftBy(ctx, r.DB, "guard_id", guardID)
}

func (r Repo) ActiveShiftForGuardTx(ctx context.Context, tx *sql.Tx, guardID int64) (domain.Shift, error) {
	return activeShiftBy(ctx, tx, "guard_id", guardID)
}

func (r Repo) ActiveShiftForObject(ctx context.Context, objectID int64) (domain.Shift, error) {
	return activeShiftBy(ctx, r.DB, "object_id", objectID)
}

func (r Repo) ActiveShiftForObjectTx(ctx context.Context, tx *sql.Tx, objectID int64) (domain.Shift, error) {
	return activeShiftBy(ctx, tx, "object_id", objectID)
}

func activeShiftBy(ctx context.Context, q Querier, column string, id int64) (domain.Shift, error) {
	// column is one of two constants above, never caller input.
	return scanShift(q.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE `+column+`=? AND status='ACTIVE' ORDER BY id LIMIT 1`, id))
}

// SetShiftStatus moves a shift to status; endTime must be nil exactly when status is ACTIVE.
func (r Repo) SetShiftStatus(ctx context.Context, tx *sql.Tx, id int64, status domain.ShiftStatus, endTime *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE shifts SET status=?, end_time=?, updated_at=? WHERE id=?`,
		status, nullableStringPtr(endTime), updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// UpdateShift rewrites the mutable columns of s.
func (r Repo) UpdateShift(ctx context.Context, tx *sql.Tx, s domain.Shift) error {
	res, err := tx.ExecContext(ctx, `UPDATE shifts SET start_time=?, end_time=?, status=?, updated_at=? WHERE id=?`,
		s.StartTime, nullableStringPtr(s.EndTime), s.Status, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteShift(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM shifts WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

type ShiftFilters struct {
	GuardID  int64
	ObjectID int64
	Status   domain.ShiftStatus
	From     string
	To       string
	Limit    int
}

func (r Repo) ListShifts(ctx context.Context, f ShiftFilters) ([]domain.Shift, error) {
	var clauses []string
	var args []any
	if f.GuardID != 0 {
		clauses = append(clauses, "guard_id=?")
		args = append(args, f.GuardID)
	}
	if f.ObjectID != 0 {
		clauses = append(clauses, "object_id=?")
		args = append(args, f.ObjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.From != "" {
		clauses = append(clauses, "start_time>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "start_time<?")
		args = append(args, f.To)
	}
	args = append(args, normalizeLimit(f.Limit))
	rows, err := r.DB.QueryContext(ctx, `SELECT `+shiftColumns+` FROM shifts`+whereClause(clauses)+` ORDER BY start_time DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DeleteShiftEventsTx removes every event logged against a shift.
func (r Repo) DeleteShiftEventsTx(ctx context.Context, tx *sql.Tx, shiftID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM shift_events WHERE shift_id=?`, shiftID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountShiftEventsTx returns the number of events logged against a shift.
func (r Repo) CountShiftEventsTx(ctx context.Context, tx *sql.Tx, shiftID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM shift_events WHERE shift_id=?`, shiftID).Scan(&n)
	return n, err
}
