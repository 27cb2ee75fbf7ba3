package repo

import (
	"context"
	"database/sql"
	"fmt"

	"shiftline/internal/domain"
)

type auditCheck struct {
	rule   string
	entity string
	detail string
	query  string
}

// Each query yields (id, extra) rows; extra is folded into the detail text.
var auditChecks = []auditCheck{
	{
		rule: "one_active_shift_per_guard", entity: "guard", detail: "%d active shifts",
		query: `SELECT guard_id, COUNT(*) FROM shifts WHERE status='ACTIVE' GROUP BY guard_id HAVING COUNT(*)>1`,
	},
	{
		rule: "one_active_shift_per_object", entity: "object", detail: "%d active shifts",
		query: `SELECT object_id, COUNT(*) FROM shifts WHERE status='ACTIVE' GROUP BY object_id HAVING COUNT(*)>1`,
	},
	{
		rule: "end_time_iff_not_active", entity: "shift", detail: "status/end_time mismatch (%d)",
		query: `SELECT id, 0 FROM shifts WHERE (status='ACTIVE') <> (end_time IS NULL)`,
	},
	{
		rule: "one_pending_per_sender_object", entity: "guard", detail: "%d pending handovers on one object",
		query: `SELECT handover_by_id, COUNT(*) FROM shift_handovers WHERE status='PENDING' GROUP BY handover_by_id, object_id HAVING COUNT(*)>1`,
	},
	{
		rule: "no_handover_on_temporary_single", entity: "handover", detail: "object %d is TEMPORARY_SINGLE",
		query: `SELECT h.id, o.id FROM shift_handovers h JOIN security_objects o ON o.id=h.object_id WHERE o.protection_type='TEMPORARY_SINGLE'`,
	},
	{
		rule: "notes_iff_accepted_with_notes", entity: "handover", detail: "notes/status mismatch (%d)",
		query: `SELECT id, 0 FROM shift_handovers WHERE (notes IS NOT NULL) <> (status='ACCEPTED_WITH_NOTES')`,
	},
	{
		rule: "accepted_at_iff_resolved", entity: "handover", detail: "accepted_at/status mismatch (%d)",
		query: `SELECT id, 0 FROM shift_handovers WHERE (accepted_at IS NOT NULL) <> (status<>'PENDING')`,
	},
	{
		rule: "source_shift_handed_over", entity: "handover", detail: "source shift %d is not HANDED_OVER",
		query: `SELECT h.id, s.id FROM shift_handovers h JOIN shifts s ON s.id=h.shift_id WHERE s.status<>'HANDED_OVER'`,
	},
	{
		rule: "report_matches_handover", entity: "report", detail: "handover %d is not ACCEPTED_WITH_NOTES",
		query: `SELECT r.id, r.shift_handover_id FROM reports r LEFT JOIN shift_handovers h ON h.id=r.shift_handover_id
WHERE h.id IS NULL OR h.status<>'ACCEPTED_WITH_NOTES'`,
	},
	{
		rule: "report_matches_handover", entity: "handover", detail: "missing report (%d)",
		query: `SELECT h.id, 0 FROM shift_handovers h LEFT JOIN reports r ON r.shift_handover_id=h.id
WHERE h.status='ACCEPTED_WITH_NOTES' AND r.id IS NULL`,
	},
}

// Audit scans the store for rows that break the shift/handover invariants.
func (r Repo) Audit(ctx context.Context) ([]domain.Violation, error) {
	return audit(ctx, r.DB)
}

// AuditTx runs the same scan inside a unit of work, seeing its uncommitted writes.
func (r Repo) AuditTx(ctx context.Context, tx *sql.Tx) ([]domain.Violation, error) {
	return audit(ctx, tx)
}

func audit(ctx context.Context, q Querier) ([]domain.Violation, error) {
	var res []domain.Violation
	for _, c := range auditChecks {
		rows, err := q.QueryContext(ctx, c.query)
		if err != nil {
			return nil, fmt.Errorf("audit %s: %w", c.rule, err)
		}
		for rows.Next() {
			var id, extra int64
			if err := rows.Scan(&id, &extra); err != nil {
				rows.Close()
				return nil, err
			}
			res = append(res, domain.Violation{
				Rule:   c.rule,
				Entity: c.entity,
				ID:     id,
				Detail: fmt.Sprintf(c.detail, extra),
			})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
