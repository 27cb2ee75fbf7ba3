package engine

import (
	"context"
	"database/sql"
	"errors"

	"shiftline/internal/domain"
	"shiftline/internal/repo"
)

// startCheck narrows checkStartShift for the accept path.
type startCheck struct {
	// objectID, when set, must match the guard's assigned object.
	objectID int64
	// ignoreHandover is the pending handover being accepted.
	ignoreHandover int64
}

// checkStartShift enforces the start preconditions in order; the first
// violation wins.
func (e Engine) checkStartShift(ctx context.Context, tx *sql.Tx, guardID int64, opt startCheck) (domain.Guard, domain.SecurityObject, error) {
	g, err := e.Directory.GetGuardTx(ctx, tx, guardID)
	if errors.Is(err, repo.ErrNotFound) {
		return g, domain.SecurityObject{}, fail(NotActive, "guard %d is not registered", guardID)
	}
	if err != nil {
		return g, domain.SecurityObject{}, err
	}
	if !g.Active {
		return g, domain.SecurityObject{}, fail(NotActive, "guard %d is not active", guardID)
	}
	if g.ObjectID == nil {
		return g, domain.SecurityObject{}, fail(NoObject, "guard %d has no assigned object", guardID)
	}
	obj, err := e.Directory.GetObjectTx(ctx, tx, *g.ObjectID)
	if errors.Is(err, repo.ErrNotFound) {
		return g, obj, fail(NoObject, "object %d does not exist", *g.ObjectID)
	}
	if err != nil {
		return g, obj, err
	}
	if !obj.Active {
		return g, obj, fail(NoObject, "object %d is not active", obj.ID)
	}
	if opt.objectID != 0 && obj.ID != opt.objectID {
		return g, obj, fail(DifferentObject, "guard %d is assigned to object %d, not %d", guardID, obj.ID, opt.objectID)
	}
	if s, err := e.Repo.ActiveShiftForGuardTx(ctx, tx, guardID); err == nil {
		return g, obj, fail(AlreadyActive, "guard %d already has active shift #%d", guardID, s.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return g, obj, err
	}
	if h, err := e.Repo.PendingHandoverBySenderTx(ctx, tx, guardID, obj.ID); err == nil {
		return g, obj, fail(PendingHandoverBlocks, "handover #%d is still waiting for acceptance", h.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return g, obj, err
	}
	if s, err := e.Repo.ActiveShiftForObjectTx(ctx, tx, obj.ID); err == nil {
		return g, obj, fail(ObjectOccupied, "object %d is occupied by shift #%d", obj.ID, s.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return g, obj, err
	}
	n, err := e.Repo.CountPendingOnObjectTx(ctx, tx, obj.ID, guardID, opt.ignoreHandover)
	if err != nil {
		return g, obj, err
	}
	if n > 0 {
		return g, obj, fail(ObjectOccupied, "object %d has a handover in progress", obj.ID)
	}
	return g, obj, nil
}

func (e Engine) insertActiveShift(ctx context.Context, tx *sql.Tx, guardID, objectID int64) (domain.Shift, error) {
	now := domain.FormatTime(e.now())
	s := domain.Shift{
		GuardID:   guardID,
		ObjectID:  objectID,
		StartTime: now,
		Status:    domain.ShiftActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := e.Repo.InsertShift(ctx, tx, s)
	if err != nil {
		return domain.Shift{}, err
	}
	s.ID = id
	return s, nil
}

// StartShift opens a shift for guardID on the guard's assigned object.
func (e Engine) StartShift(ctx context.Context, guardID int64) (domain.Shift, error) {
	var (
		s   domain.Shift
		g   domain.Guard
		obj domain.SecurityObject
	)
	err := e.run(ctx, "start shift", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		g, obj, err = e.checkStartShift(ctx, tx, guardID, startCheck{})
		if err != nil {
			return err
		}
		s, err = e.insertActiveShift(ctx, tx, g.ID, obj.ID)
		return err
	})
	if err != nil {
		return domain.Shift{}, err
	}
	e.logger().Info("shift started", "shift_id", s.ID, "guard_id", g.ID, "object_id", obj.ID)
	e.publish(ctx, domain.Notification{
		Type:       domain.NotifyShiftStarted,
		ShiftID:    s.ID,
		ObjectID:   obj.ID,
		ObjectName: obj.Name,
		ByID:       g.ID,
		ByName:     g.DisplayName(),
	})
	return s, nil
}

// EndShift completes an ACTIVE shift. Only TEMPORARY_SINGLE objects end
// shifts this way; everything else leaves through a handover.
func (e Engine) EndShift(ctx context.Context, shiftID int64) (domain.Shift, error) {
	var (
		s   domain.Shift
		obj domain.SecurityObject
	)
	err := e.run(ctx, "end shift", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		s, err = e.Repo.GetShiftTx(ctx, tx, shiftID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(ShiftNotFound, "shift #%d does not exist", shiftID)
		}
		if err != nil {
			return err
		}
		if s.Status != domain.ShiftActive {
			return fail(NotActive, "shift #%d is %s", s.ID, s.Status)
		}
		obj, err = e.Directory.GetObjectTx(ctx, tx, s.ObjectID)
		if err != nil {
			return err
		}
		if obj.ProtectionType != domain.ProtectionTemporarySingle {
			return fail(ProtectionTypeBlocks, "object %d requires a handover to end the shift", obj.ID)
		}
		now := domain.FormatTime(e.now())
		if err := e.Repo.SetShiftStatus(ctx, tx, s.ID, domain.ShiftCompleted, &now, now); err != nil {
			return err
		}
		s.Status = domain.ShiftCompleted
		s.EndTime = &now
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Shift{}, err
	}
	e.logger().Info("shift ended", "shift_id", s.ID, "guard_id", s.GuardID, "object_id", s.ObjectID)
	e.publish(ctx, domain.Notification{
		Type:       domain.NotifyShiftEnded,
		ShiftID:    s.ID,
		ObjectID:   obj.ID,
		ObjectName: obj.Name,
		ByID:       s.GuardID,
	})
	return s, nil
}

// ActiveShiftFor returns the guard's ACTIVE shift, if any.
func (e Engine) ActiveShiftFor(ctx context.Context, guardID int64) (domain.Shift, bool, error) {
	return found(e.Repo.ActiveShiftForGuard(ctx, guardID))
}

// ActiveShiftForObject returns the object's ACTIVE shift, if any.
func (e Engine) ActiveShiftForObject(ctx context.Context, objectID int64) (domain.Shift, bool, error) {
	return found(e.Repo.ActiveShiftForObject(ctx, objectID))
}

func found(s domain.Shift, err error) (domain.Shift, bool, error) {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Shift{}, false, nil
	}
	if err != nil {
		return domain.Shift{}, false, err
	}
	return s, true, nil
}

func (e Engine) GetShift(ctx context.Context, id int64) (domain.Shift, error) {
	s, err := e.Repo.GetShift(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return s, fail(ShiftNotFound, "shift #%d does not exist", id)
	}
	return s, err
}

func (e Engine) ListShifts(ctx context.Context, f repo.ShiftFilters) ([]domain.Shift, error) {
	return e.Repo.ListShifts(ctx, f)
}

// GenerateSummary renders the current summary of a shift.
func (e Engine) GenerateSummary(ctx context.Context, shiftID int64) (string, error) {
	var summary string
	err := e.view(ctx, "generate summary", func(ctx context.Context, tx *sql.Tx) error {
		s, err := e.Repo.GetShiftTx(ctx, tx, shiftID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(ShiftNotFound, "shift #%d does not exist", shiftID)
		}
		if err != nil {
			return err
		}
		summary, err = e.summaryTx(ctx, tx, s)
		return err
	})
	return summary, err
}

func (e Engine) summaryTx(ctx context.Context, tx *sql.Tx, s domain.Shift) (string, error) {
	g, err := e.guardOrPlaceholder(ctx, tx, s.GuardID)
	if err != nil {
		return "", err
	}
	evts, err := e.EventReader.ShiftEventsTx(ctx, tx, s.ID)
	if err != nil {
		return "", err
	}
	limit := 0
	if e.Config != nil {
		limit = e.Config.Summary.DescriptionLimit
	}
	return RenderSummary(s, g, evts, SummaryOptions{Location: e.location(), DescriptionLimit: limit}), nil
}

// DeleteShift removes a shift and everything derived from it. A shift that
// still backs a PENDING handover must be resolved first.
func (e Engine) DeleteShift(ctx context.Context, shiftID int64, actorID int64) error {
	var removed struct {
		events, handovers int64
	}
	err := e.run(ctx, "delete shift", func(ctx context.Context, tx *sql.Tx) error {
		removed.events, removed.handovers = 0, 0
		if _, err := e.Repo.GetShiftTx(ctx, tx, shiftID); errors.Is(err, repo.ErrNotFound) {
			return fail(ShiftNotFound, "shift #%d does not exist", shiftID)
		} else if err != nil {
			return err
		}
		hs, err := e.Repo.HandoversForShiftTx(ctx, tx, shiftID)
		if err != nil {
			return err
		}
		for _, h := range hs {
			if h.Status == domain.HandoverPending {
				return fail(HandoverUnresolved, "handover #%d is still pending", h.ID)
			}
		}
		if removed.events, err = e.Repo.DeleteShiftEventsTx(ctx, tx, shiftID); err != nil {
			return err
		}
		for _, h := range hs {
			if _, err := e.Repo.DeleteReportsForHandoverTx(ctx, tx, h.ID); err != nil {
				return err
			}
			if err := e.Repo.DeleteHandover(ctx, tx, h.ID); err != nil {
				return err
			}
			removed.handovers++
		}
		if err := e.Repo.ClearReceiverShiftTx(ctx, tx, shiftID); err != nil {
			return err
		}
		return e.Repo.DeleteShift(ctx, tx, shiftID)
	})
	if err != nil {
		return err
	}
	e.logger().Warn("shift deleted", "shift_id", shiftID, "actor_id", actorID,
		"events", removed.events, "handovers", removed.handovers)
	return nil
}
