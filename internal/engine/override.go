package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"shiftline/internal/domain"
	"shiftline/internal/repo"
)

// ShiftOverride lists the shift fields an administrator may rewrite. Nil
// fields are left unchanged.
type ShiftOverride struct {
	Status    *domain.ShiftStatus
	StartTime *string
	EndTime   *string
}

// HandoverOverride lists the handover fields an administrator may rewrite.
type HandoverOverride struct {
	Status  *domain.HandoverStatus
	Summary *string
	Notes   *string
}

// OverrideShift applies an administrative edit and re-checks the
// invariants before committing.
func (e Engine) OverrideShift(ctx context.Context, shiftID int64, o ShiftOverride, actorID int64) (domain.Shift, error) {
	var (
		s       domain.Shift
		changed []string
	)
	err := e.run(ctx, "override shift", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		changed = changed[:0]
		s, err = e.Repo.GetShiftTx(ctx, tx, shiftID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(ShiftNotFound, "shift #%d does not exist", shiftID)
		}
		if err != nil {
			return err
		}
		before, err := e.Repo.AuditTx(ctx, tx)
		if err != nil {
			return err
		}
		if o.Status != nil {
			if !o.Status.Valid() {
				return fail(InvalidInput, "unknown shift status %q", *o.Status)
			}
			s.Status = *o.Status
			changed = append(changed, "status")
		}
		if o.StartTime != nil {
			if s.StartTime, err = normalizeTime(*o.StartTime); err != nil {
				return fail(InvalidInput, "start_time: %v", err)
			}
			changed = append(changed, "start_time")
		}
		if o.EndTime != nil {
			end, err := normalizeTime(*o.EndTime)
			if err != nil {
				return fail(InvalidInput, "end_time: %v", err)
			}
			s.EndTime = &end
			changed = append(changed, "end_time")
		}
		now := domain.FormatTime(e.now())
		switch {
		case s.Status == domain.ShiftActive:
			s.EndTime = nil
		case s.EndTime == nil:
			s.EndTime = &now
		}
		if s.EndTime != nil && *s.EndTime < s.StartTime {
			return fail(InvariantViolation, "end_time precedes start_time")
		}
		if err := e.checkShiftOverride(ctx, tx, s); err != nil {
			return err
		}
		s.UpdatedAt = now
		if err := e.Repo.UpdateShift(ctx, tx, s); err != nil {
			return err
		}
		if s.EndTime != nil {
			hs, err := e.Repo.HandoversForShiftTx(ctx, tx, s.ID)
			if err != nil {
				return err
			}
			for _, h := range hs {
				if err := e.Repo.UpdateReportShiftTimesTx(ctx, tx, h.ID, s.StartTime, *s.EndTime); err != nil {
					return err
				}
			}
		}
		return e.recheck(ctx, tx, before)
	})
	if err != nil {
		return domain.Shift{}, err
	}
	e.logger().Warn("shift overridden", "shift_id", s.ID, "actor_id", actorID, "fields", changed, "status", s.Status)
	return s, nil
}

func (e Engine) checkShiftOverride(ctx context.Context, tx *sql.Tx, s domain.Shift) error {
	if s.Status == domain.ShiftActive {
		if other, err := e.Repo.ActiveShiftForGuardTx(ctx, tx, s.GuardID); err == nil && other.ID != s.ID {
			return fail(InvariantViolation, "guard %d already has active shift #%d", s.GuardID, other.ID)
		} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if other, err := e.Repo.ActiveShiftForObjectTx(ctx, tx, s.ObjectID); err == nil && other.ID != s.ID {
			return fail(InvariantViolation, "object %d already has active shift #%d", s.ObjectID, other.ID)
		} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	hs, err := e.Repo.HandoversForShiftTx(ctx, tx, s.ID)
	if err != nil {
		return err
	}
	if len(hs) > 0 && s.Status != domain.ShiftHandedOver {
		return fail(InvariantViolation, "shift #%d is the source of handover #%d and must stay HANDED_OVER", s.ID, hs[0].ID)
	}
	if s.Status == domain.ShiftHandedOver {
		if len(hs) == 0 {
			return fail(InvariantViolation, "shift #%d has no handover", s.ID)
		}
		obj, err := e.Directory.GetObjectTx(ctx, tx, s.ObjectID)
		if err != nil {
			return err
		}
		if obj.ProtectionType == domain.ProtectionTemporarySingle {
			return fail(InvariantViolation, "object %d does not take handovers", obj.ID)
		}
	}
	return nil
}

// OverrideHandover applies an administrative edit. Moving between PENDING
// and a resolved status is refused; accept, reject and cancel own that.
func (e Engine) OverrideHandover(ctx context.Context, handoverID int64, o HandoverOverride, actorID int64) (domain.ShiftHandover, error) {
	var (
		h       domain.ShiftHandover
		changed []string
	)
	err := e.run(ctx, "override handover", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		changed = changed[:0]
		h, err = e.Repo.GetHandoverTx(ctx, tx, handoverID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(NotFound, "handover #%d does not exist", handoverID)
		}
		if err != nil {
			return err
		}
		before, err := e.Repo.AuditTx(ctx, tx)
		if err != nil {
			return err
		}
		if o.Status != nil {
			if !o.Status.Valid() {
				return fail(InvalidInput, "unknown handover status %q", *o.Status)
			}
			if o.Status.Resolved() != h.Status.Resolved() {
				return fail(InvariantViolation, "handover #%d cannot move from %s to %s", h.ID, h.Status, *o.Status)
			}
			h.Status = *o.Status
			changed = append(changed, "status")
		}
		if o.Summary != nil {
			h.Summary = *o.Summary
			changed = append(changed, "summary")
		}
		notes := ""
		if h.Notes != nil {
			notes = *h.Notes
		}
		if o.Notes != nil {
			notes = strings.TrimSpace(*o.Notes)
			changed = append(changed, "notes")
		}
		if h.Status == domain.HandoverAcceptedWithNotes {
			if notes == "" {
				return fail(InvariantViolation, "%s requires notes", h.Status)
			}
			h.Notes = &notes
		} else {
			if o.Notes != nil && notes != "" {
				return fail(InvariantViolation, "notes are only kept for %s", domain.HandoverAcceptedWithNotes)
			}
			h.Notes = nil
		}
		if err := e.Repo.UpdateHandover(ctx, tx, h); err != nil {
			return err
		}
		if err := e.syncReport(ctx, tx, h); err != nil {
			return err
		}
		return e.recheck(ctx, tx, before)
	})
	if err != nil {
		return domain.ShiftHandover{}, err
	}
	e.logger().Warn("handover overridden", "handover_id", h.ID, "actor_id", actorID, "fields", changed, "status", h.Status)
	return h, nil
}

// syncReport makes the report row match the handover's status and notes.
func (e Engine) syncReport(ctx context.Context, tx *sql.Tx, h domain.ShiftHandover) error {
	if h.Status != domain.HandoverAcceptedWithNotes {
		_, err := e.Repo.DeleteReportsForHandoverTx(ctx, tx, h.ID)
		return err
	}
	_, err := e.Repo.ReportForHandoverTx(ctx, tx, h.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.insertReport(ctx, tx, h, domain.FormatTime(e.now()))
	}
	if err != nil {
		return err
	}
	return e.Repo.UpdateReportNotesTx(ctx, tx, h.ID, *h.Notes)
}

// recheck fails the unit of work when it introduced a violation that the
// audit did not already report.
func (e Engine) recheck(ctx context.Context, tx *sql.Tx, before []domain.Violation) error {
	after, err := e.Repo.AuditTx(ctx, tx)
	if err != nil {
		return err
	}
	if v := newViolations(before, after); len(v) > 0 {
		return fail(InvariantViolation, "%s on %s %d: %s", v[0].Rule, v[0].Entity, v[0].ID, v[0].Detail)
	}
	return nil
}

func newViolations(before, after []domain.Violation) []domain.Violation {
	type key struct {
		rule, entity string
		id           int64
	}
	seen := make(map[key]struct{}, len(before))
	for _, v := range before {
		seen[key{v.Rule, v.Entity, v.ID}] = struct{}{}
	}
	var res []domain.Violation
	for _, v := range after {
		if _, ok := seen[key{v.Rule, v.Entity, v.ID}]; !ok {
			res = append(res, v)
		}
	}
	return res
}

// Audit reports every invariant violation currently in the store.
func (e Engine) Audit(ctx context.Context) ([]domain.Violation, error) {
	var res []domain.Violation
	err := e.view(ctx, "audit", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		res, err = e.Repo.AuditTx(ctx, tx)
		return err
	})
	return res, err
}

func normalizeTime(v string) (string, error) {
	t, err := domain.ParseTime(strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("expected RFC3339 timestamp: %w", err)
	}
	return domain.FormatTime(t), nil
}
