package repo

import (
	"context"
	"database/sql"

	"shiftline/internal/domain"
)

const reportColumns = `id,shift_handover_id,object_id,shift_start,shift_end,handover_by_id,handover_to_id,events_count,notes,created_at`

func scanReport(row rowScanner) (domain.Report, error) {
	var rep domain.Report
	if err := row.Scan(&rep.ID, &rep.HandoverID, &rep.ObjectID, &rep.ShiftStart, &rep.ShiftEnd,
		&rep.ByID, &rep.ToID, &rep.EventsCount, &rep.Notes, &rep.CreatedAt); err != nil {
		return domain.Report{}, notFound(err)
	}
	return rep, nil
}

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO reports(shift_handover_id,object_id,shift_start,shift_end,handover_by_id,handover_to_id,events_count,notes,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rep.HandoverID, rep.ObjectID, rep.ShiftStart, rep.ShiftEnd, rep.ByID, rep.ToID, rep.EventsCount, rep.Notes, rep.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetReport(ctx context.Context, id int64) (domain.Report, error) {
	return scanReport(r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

func (r Repo) ReportForHandover(ctx context.Context, handoverID int64) (domain.Report, error) {
	return reportForHandover(ctx, r.DB, handoverID)
}

func (r Repo) ReportForHandoverTx(ctx context.Context, tx *sql.Tx, handoverID int64) (domain.Report, error) {
	return reportForHandover(ctx, tx, handoverID)
}

func reportForHandover(ctx context.Context, q Querier, handoverID int64) (domain.Report, error) {
	return scanReport(q.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE shift_handover_id=?`, handoverID))
}

// UpdateReportNotesTx keeps a report in step with its handover's notes.
func (r Repo) UpdateReportNotesTx(ctx context.Context, tx *sql.Tx, handoverID int64, notes string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET notes=? WHERE shift_handover_id=?`, notes, handoverID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// UpdateReportShiftTimesTx keeps a report in step with its source shift's bounds.
func (r Repo) UpdateReportShiftTimesTx(ctx context.Context, tx *sql.Tx, handoverID int64, start, end string) error {
	_, err := tx.ExecContext(ctx, `UPDATE reports SET shift_start=?, shift_end=? WHERE shift_handover_id=?`, start, end, handoverID)
	return err
}

// DeleteReportsForHandoverTx removes the report derived from a handover, if any.
func (r Repo) DeleteReportsForHandoverTx(ctx context.Context, tx *sql.Tx, handoverID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE shift_handover_id=?`, handoverID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type ReportFilters struct {
	ObjectID int64
	GuardID  int64
	Limit    int
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	var clauses []string
	var args []any
	if f.ObjectID != 0 {
		clauses = append(clauses, "object_id=?")
		args = append(args, f.ObjectID)
	}
	if f.GuardID != 0 {
		clauses = append(clauses, "(handover_by_id=? OR handover_to_id=?)")
		args = append(args, f.GuardID, f.GuardID)
	}
	args = append(args, normalizeLimit(f.Limit))
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports`+whereClause(clauses)+` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}
