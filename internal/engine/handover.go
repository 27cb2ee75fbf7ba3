package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"shiftline/internal/domain"
	"shiftline/internal/repo"
)

// CreateHandover hands the ACTIVE shift of byID to toID. The source shift
// becomes HANDED_OVER in the same unit of work.
func (e Engine) CreateHandover(ctx context.Context, shiftID, byID, toID int64) (domain.ShiftHandover, error) {
	var (
		h        domain.ShiftHandover
		sender   domain.Guard
		receiver domain.Guard
		obj      domain.SecurityObject
	)
	err := e.run(ctx, "create handover", func(ctx context.Context, tx *sql.Tx) error {
		s, err := e.Repo.GetShiftTx(ctx, tx, shiftID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(ShiftNotFound, "shift #%d does not exist", shiftID)
		}
		if err != nil {
			return err
		}
		if s.Status != domain.ShiftActive {
			return fail(NotActive, "shift #%d is %s", s.ID, s.Status)
		}
		if s.GuardID != byID {
			return fail(NotOwner, "shift #%d belongs to guard %d", s.ID, s.GuardID)
		}
		obj, err = e.Directory.GetObjectTx(ctx, tx, s.ObjectID)
		if err != nil {
			return err
		}
		if obj.ProtectionType == domain.ProtectionTemporarySingle {
			return fail(ProtectionTypeBlocks, "object %d does not take handovers", obj.ID)
		}
		if toID == byID {
			return fail(SameGuard, "a shift cannot be handed to its own guard")
		}
		sender, err = e.guardOrPlaceholder(ctx, tx, byID)
		if err != nil {
			return err
		}
		receiver, err = e.Directory.GetGuardTx(ctx, tx, toID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(ReceiverInactive, "guard %d is not registered", toID)
		}
		if err != nil {
			return err
		}
		if !receiver.Active {
			return fail(ReceiverInactive, "guard %d is not active", toID)
		}
		if receiver.Role == domain.RoleAdmin || receiver.Role == domain.RoleController {
			return fail(ReceiverRoleBlocked, "guard %d has role %s", toID, receiver.Role)
		}
		if receiver.ObjectID == nil || *receiver.ObjectID != s.ObjectID ||
			(sender.ObjectID != nil && *sender.ObjectID != *receiver.ObjectID) {
			return fail(DifferentObject, "guard %d is not assigned to object %d", toID, s.ObjectID)
		}
		summary, err := e.summaryTx(ctx, tx, s)
		if err != nil {
			return err
		}
		now := domain.FormatTime(e.now())
		h = domain.ShiftHandover{
			ShiftID:      s.ID,
			ObjectID:     s.ObjectID,
			ByID:         byID,
			ToID:         toID,
			Status:       domain.HandoverPending,
			Summary:      summary,
			HandedOverAt: now,
			CreatedAt:    now,
		}
		if h.ID, err = e.Repo.InsertHandover(ctx, tx, h); err != nil {
			return err
		}
		return e.Repo.SetShiftStatus(ctx, tx, s.ID, domain.ShiftHandedOver, &now, now)
	})
	if err != nil {
		return domain.ShiftHandover{}, err
	}
	e.logger().Info("handover created", "handover_id", h.ID, "shift_id", h.ShiftID, "by_id", byID, "to_id", toID)
	n := handoverNotification(domain.NotifyHandoverCreated, h, obj, sender, receiver)
	n.Recipients = []int64{toID}
	e.publish(ctx, n)
	return h, nil
}

// AcceptHandover resolves a PENDING handover and opens the receiver's shift.
// Non-blank notes produce ACCEPTED_WITH_NOTES and a report.
func (e Engine) AcceptHandover(ctx context.Context, handoverID, byID int64, notes string) (domain.ShiftHandover, error) {
	notes = strings.TrimSpace(notes)
	var (
		h        domain.ShiftHandover
		sender   domain.Guard
		receiver domain.Guard
		obj      domain.SecurityObject
	)
	err := e.run(ctx, "accept handover", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		h, err = e.Repo.GetHandoverTx(ctx, tx, handoverID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(NotFound, "handover #%d does not exist", handoverID)
		}
		if err != nil {
			return err
		}
		if h.Status != domain.HandoverPending {
			return fail(AlreadyResolved, "handover #%d is already %s", h.ID, h.Status)
		}
		if h.ToID != byID {
			return fail(NotReceiver, "handover #%d is addressed to guard %d", h.ID, h.ToID)
		}
		receiver, obj, err = e.checkStartShift(ctx, tx, byID, startCheck{objectID: h.ObjectID, ignoreHandover: h.ID})
		if err != nil {
			return err
		}
		shift, err := e.insertActiveShift(ctx, tx, byID, h.ObjectID)
		if err != nil {
			return err
		}
		now := domain.FormatTime(e.now())
		h.AcceptedAt = &now
		h.ReceiverShiftID = &shift.ID
		h.Status = domain.HandoverAccepted
		h.Notes = nil
		if notes != "" {
			h.Status = domain.HandoverAcceptedWithNotes
			h.Notes = &notes
		}
		if err := e.Repo.UpdateHandover(ctx, tx, h); err != nil {
			return err
		}
		if notes != "" {
			if err := e.insertReport(ctx, tx, h, now); err != nil {
				return err
			}
		}
		sender, err = e.guardOrPlaceholder(ctx, tx, h.ByID)
		return err
	})
	if err != nil {
		return domain.ShiftHandover{}, err
	}
	e.logger().Info("handover accepted", "handover_id", h.ID, "status", h.Status, "receiver_shift_id", *h.ReceiverShiftID)
	n := handoverNotification(domain.NotifyHandoverCompleted, h, obj, sender, receiver)
	n.ShiftID = *h.ReceiverShiftID
	n.Recipients = e.supervisors(ctx)
	e.publish(ctx, n)
	return h, nil
}

func (e Engine) insertReport(ctx context.Context, tx *sql.Tx, h domain.ShiftHandover, now string) error {
	src, err := e.Repo.GetShiftTx(ctx, tx, h.ShiftID)
	if err != nil {
		return err
	}
	count, err := e.Repo.CountShiftEventsTx(ctx, tx, h.ShiftID)
	if err != nil {
		return err
	}
	end := h.HandedOverAt
	if src.EndTime != nil {
		end = *src.EndTime
	}
	_, err = e.Repo.InsertReport(ctx, tx, domain.Report{
		HandoverID:  h.ID,
		ObjectID:    h.ObjectID,
		ShiftStart:  src.StartTime,
		ShiftEnd:    end,
		ByID:        h.ByID,
		ToID:        h.ToID,
		EventsCount: count,
		Notes:       *h.Notes,
		CreatedAt:   now,
	})
	return err
}

// CancelHandover withdraws a handover and gives the source shift back to
// its guard. Accepted handovers need force; the receiver's shift and the
// report are removed with it.
func (e Engine) CancelHandover(ctx context.Context, handoverID, byID int64, force bool) error {
	var h domain.ShiftHandover
	err := e.run(ctx, "cancel handover", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		h, err = e.Repo.GetHandoverTx(ctx, tx, handoverID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(NotFound, "handover #%d does not exist", handoverID)
		}
		if err != nil {
			return err
		}
		if h.ByID != byID {
			return fail(NotSender, "handover #%d was created by guard %d", h.ID, h.ByID)
		}
		if h.Status != domain.HandoverPending && !force {
			return fail(NotPendingAndNotForce, "handover #%d is %s; use force to cancel", h.ID, h.Status)
		}
		if h.Status.Resolved() {
			if _, err := e.Repo.DeleteReportsForHandoverTx(ctx, tx, h.ID); err != nil {
				return err
			}
			if err := e.dropReceiverShift(ctx, tx, h); err != nil {
				return err
			}
		}
		if err := e.Repo.DeleteHandover(ctx, tx, h.ID); err != nil {
			return err
		}
		return e.restoreSourceShift(ctx, tx, h)
	})
	if err != nil {
		return err
	}
	e.logger().Info("handover cancelled", "handover_id", h.ID, "shift_id", h.ShiftID, "by_id", byID, "force", force)
	e.publish(ctx, domain.Notification{
		Type:       domain.NotifyHandoverCancelled,
		HandoverID: h.ID,
		ShiftID:    h.ShiftID,
		ObjectID:   h.ObjectID,
		ByID:       h.ByID,
		ToID:       h.ToID,
		Recipients: []int64{h.ToID},
	})
	return nil
}

// dropReceiverShift deletes the shift opened by accepting h together with
// its events. The caller removes the report first.
func (e Engine) dropReceiverShift(ctx context.Context, tx *sql.Tx, h domain.ShiftHandover) error {
	if h.ReceiverShiftID == nil {
		return nil
	}
	rs, err := e.Repo.GetShiftTx(ctx, tx, *h.ReceiverShiftID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rs.Status != domain.ShiftActive {
		return fail(ReceiverShiftNotActive, "receiver shift #%d is already %s", rs.ID, rs.Status)
	}
	hs, err := e.Repo.HandoversForShiftTx(ctx, tx, rs.ID)
	if err != nil {
		return err
	}
	if len(hs) > 0 {
		return fail(ReceiverShiftNotActive, "receiver shift #%d has been handed on", rs.ID)
	}
	if err := e.Repo.ClearReceiverShiftTx(ctx, tx, rs.ID); err != nil {
		return err
	}
	if _, err := e.Repo.DeleteShiftEventsTx(ctx, tx, rs.ID); err != nil {
		return err
	}
	return e.Repo.DeleteShift(ctx, tx, rs.ID)
}

func (e Engine) restoreSourceShift(ctx context.Context, tx *sql.Tx, h domain.ShiftHandover) error {
	src, err := e.Repo.GetShiftTx(ctx, tx, h.ShiftID)
	if err != nil {
		return err
	}
	if s, err := e.Repo.ActiveShiftForGuardTx(ctx, tx, src.GuardID); err == nil && s.ID != src.ID {
		return fail(AlreadyActive, "guard %d already has active shift #%d", src.GuardID, s.ID)
	} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if s, err := e.Repo.ActiveShiftForObjectTx(ctx, tx, src.ObjectID); err == nil && s.ID != src.ID {
		return fail(ObjectOccupied, "object %d is occupied by shift #%d", src.ObjectID, s.ID)
	} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return e.Repo.SetShiftStatus(ctx, tx, src.ID, domain.ShiftActive, nil, domain.FormatTime(e.now()))
}

// RejectHandover returns an accepted handover to PENDING. When the
// receiver's shift is still ACTIVE it is deleted, which needs force.
func (e Engine) RejectHandover(ctx context.Context, handoverID, byID int64, force bool) (domain.ShiftHandover, error) {
	var h domain.ShiftHandover
	err := e.run(ctx, "reject handover", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		h, err = e.Repo.GetHandoverTx(ctx, tx, handoverID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(NotFound, "handover #%d does not exist", handoverID)
		}
		if err != nil {
			return err
		}
		if h.ToID != byID {
			return fail(NotReceiver, "handover #%d is addressed to guard %d", h.ID, h.ToID)
		}
		if !h.Status.Resolved() {
			return fail(NotAccepted, "handover #%d is %s", h.ID, h.Status)
		}
		if _, err := e.Repo.DeleteReportsForHandoverTx(ctx, tx, h.ID); err != nil {
			return err
		}
		receiverShift := h.ReceiverShiftID
		h.Status = domain.HandoverPending
		h.Notes = nil
		h.AcceptedAt = nil
		h.ReceiverShiftID = nil
		if err := e.Repo.UpdateHandover(ctx, tx, h); err != nil {
			return err
		}
		if receiverShift == nil {
			return nil
		}
		rs, err := e.Repo.GetShiftTx(ctx, tx, *receiverShift)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rs.Status == domain.ShiftActive && !force {
			return fail(ReceiverAlreadyActiveNeedsForce, "receiver shift #%d is active; use force to remove it", rs.ID)
		}
		return e.dropReceiverShift(ctx, tx, domain.ShiftHandover{ReceiverShiftID: receiverShift})
	})
	if err != nil {
		return domain.ShiftHandover{}, err
	}
	e.logger().Info("handover rejected", "handover_id", h.ID, "by_id", byID, "force", force)
	e.publish(ctx, domain.Notification{
		Type:       domain.NotifyHandoverRejected,
		HandoverID: h.ID,
		ShiftID:    h.ShiftID,
		ObjectID:   h.ObjectID,
		ByID:       h.ByID,
		ToID:       h.ToID,
		Recipients: []int64{h.ByID},
	})
	return h, nil
}

func (e Engine) GetHandover(ctx context.Context, id int64) (domain.ShiftHandover, error) {
	h, err := e.Repo.GetHandover(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return h, fail(NotFound, "handover #%d does not exist", id)
	}
	return h, err
}

func (e Engine) ListHandovers(ctx context.Context, f repo.HandoverFilters) ([]domain.ShiftHandover, error) {
	return e.Repo.ListHandovers(ctx, f)
}

// PendingHandoversFor lists handovers waiting for receiverID on the
// receiver's current object. Admins never receive handovers.
func (e Engine) PendingHandoversFor(ctx context.Context, receiverID int64) ([]domain.ShiftHandover, error) {
	g, err := e.Repo.GetGuard(ctx, receiverID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if g.Role == domain.RoleAdmin || g.ObjectID == nil {
		return nil, nil
	}
	return e.Repo.ListHandovers(ctx, repo.HandoverFilters{ToID: receiverID, ObjectID: *g.ObjectID, Status: domain.HandoverPending})
}

// PendingHandoversBy lists handovers senderID created that are still waiting.
func (e Engine) PendingHandoversBy(ctx context.Context, senderID int64) ([]domain.ShiftHandover, error) {
	return e.Repo.ListHandovers(ctx, repo.HandoverFilters{ByID: senderID, Status: domain.HandoverPending})
}

// HasPendingHandoverOnObject reports whether guardID has an unresolved
// handover on objectID.
func (e Engine) HasPendingHandoverOnObject(ctx context.Context, guardID, objectID int64) (bool, error) {
	hs, err := e.Repo.ListHandovers(ctx, repo.HandoverFilters{ByID: guardID, ObjectID: objectID, Status: domain.HandoverPending, Limit: 1})
	return len(hs) > 0, err
}

func handoverNotification(typ string, h domain.ShiftHandover, obj domain.SecurityObject, sender, receiver domain.Guard) domain.Notification {
	n := domain.Notification{
		Type:         typ,
		HandoverID:   h.ID,
		ShiftID:      h.ShiftID,
		ObjectID:     h.ObjectID,
		ObjectName:   obj.Name,
		ByID:         h.ByID,
		ByName:       sender.DisplayName(),
		ToID:         h.ToID,
		ToName:       receiver.DisplayName(),
		Summary:      h.Summary,
		Notes:        h.Notes,
		HandedOverAt: h.HandedOverAt,
	}
	if h.AcceptedAt != nil {
		n.AcceptedAt = *h.AcceptedAt
	}
	return n
}
