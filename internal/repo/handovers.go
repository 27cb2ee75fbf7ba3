package repo

import (
	"context"
	"database/sql"

	"shiftline/internal/domain"
)

const handoverColumns = `id,shift_id,object_id,handover_by_id,handover_to_id,status,summary,notes,handed_over_at,accepted_at,receiver_shift_id,created_at`

func scanHandover(row rowScanner) (domain.ShiftHandover, error) {
	var h domain.ShiftHandover
	var notes, acceptedAt sql.NullString
	var receiverShift sql.NullInt64
	if err := row.Scan(&h.ID, &h.ShiftID, &h.ObjectID, &h.ByID, &h.ToID, &h.Status, &h.Summary, &notes,
		&h.HandedOverAt, &acceptedAt, &receiverShift, &h.CreatedAt); err != nil {
		return domain.ShiftHandover{}, notFound(err)
	}
	h.Notes = stringPtr(notes)
	h.AcceptedAt = stringPtr(acceptedAt)
	h.ReceiverShiftID = int64Ptr(receiverShift)
	return h, nil
}

func scanHandovers(rows *sql.Rows) ([]domain.ShiftHandover, error) {
	defer rows.Close()
	var res []domain.ShiftHandover
	for rows.Next() {
		h, err := scanHandover(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) InsertHandover(ctx context.Context, tx *sql.Tx, h domain.ShiftHandover) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO shift_handovers(shift_id,object_id,handover_by_id,handover_to_id,status,summary,notes,handed_over_at,accepted_at,receiver_shift_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		h.ShiftID, h.ObjectID, h.ByID, h.ToID, h.Status, h.Summary, nullableStringPtr(h.Notes),
		h.HandedOverAt, nullableStringPtr(h.AcceptedAt), nullableInt64Ptr(h.ReceiverShiftID), h.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetHandover(ctx context.Context, id int64) (domain.ShiftHandover, error) {
	return getHandover(ctx, r.DB, id)
}

func (r Repo) GetHandoverTx(ctx context.Context, tx *sql.Tx, id int64) (domain.ShiftHandover, error) {
	return getHandover(ctx, tx, id)
}

func getHandover(ctx context.Context, q Querier, id int64) (domain.ShiftHandover, error) {
	return scanHandover(q.QueryRowContext(ctx, `SELECT `+handoverColumns+` FROM shift_handovers WHERE id=?`, id))
}

// UpdateHandover rewrites the resolution columns of h.
func (r Repo) UpdateHandover(ctx context.Context, tx *sql.Tx, h domain.ShiftHandover) error {
	res, err := tx.ExecContext(ctx, `UPDATE shift_handovers SET status=?, summary=?, notes=?, accepted_at=?, receiver_shift_id=? WHERE id=?`,
		h.Status, h.Summary, nullableStringPtr(h.Notes), nullableStringPtr(h.AcceptedAt), nullableInt64Ptr(h.ReceiverShiftID), h.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteHandover(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM shift_handovers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// PendingHandoverBySenderTx returns the unresolved handover a guard initiated on an object.
func (r Repo) PendingHandoverBySenderTx(ctx context.Context, tx *sql.Tx, byID, objectID int64) (domain.ShiftHandover, error) {
	return scanHandover(tx.QueryRowContext(ctx, `SELECT `+handoverColumns+` FROM shift_handovers
WHERE handover_by_id=? AND object_id=? AND status='PENDING' ORDER BY id LIMIT 1`, byID, objectID))
}

// CountPendingOnObjectTx counts unresolved handovers on an object, skipping
// those sent by exceptSender and the handover exceptID.
func (r Repo) CountPendingOnObjectTx(ctx context.Context, tx *sql.Tx, objectID, exceptSender, exceptID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM shift_handovers
WHERE object_id=? AND status='PENDING' AND handover_by_id<>? AND id<>?`, objectID, exceptSender, exceptID).Scan(&n)
	return n, err
}

// HandoversForShiftTx returns handovers that use shiftID as source.
func (r Repo) HandoversForShiftTx(ctx context.Context, tx *sql.Tx, shiftID int64) ([]domain.ShiftHandover, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+handoverColumns+` FROM shift_handovers WHERE shift_id=? ORDER BY id`, shiftID)
	if err != nil {
		return nil, err
	}
	return scanHandovers(rows)
}

// ClearReceiverShiftTx detaches handovers whose receiver shift is about to disappear.
func (r Repo) ClearReceiverShiftTx(ctx context.Context, tx *sql.Tx, shiftID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE shift_handovers SET receiver_shift_id=NULL WHERE receiver_shift_id=?`, shiftID)
	return err
}

type HandoverFilters struct {
	ShiftID  int64
	ObjectID int64
	ByID     int64
	ToID     int64
	Status   domain.HandoverStatus
	Limit    int
}

func (r Repo) ListHandovers(ctx context.Context, f HandoverFilters) ([]domain.ShiftHandover, error) {
	var clauses []string
	var args []any
	if f.ShiftID != 0 {
		clauses = append(clauses, "shift_id=?")
		args = append(args, f.ShiftID)
	}
	if f.ObjectID != 0 {
		clauses = append(clauses, "object_id=?")
		args = append(args, f.ObjectID)
	}
	if f.ByID != 0 {
		clauses = append(clauses, "handover_by_id=?")
		args = append(args, f.ByID)
	}
	if f.ToID != 0 {
		clauses = append(clauses, "handover_to_id=?")
		args = append(args, f.ToID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	args = append(args, normalizeLimit(f.Limit))
	rows, err := r.DB.QueryContext(ctx, `SELECT `+handoverColumns+` FROM shift_handovers`+whereClause(clauses)+` ORDER BY handed_over_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanHandovers(rows)
}
