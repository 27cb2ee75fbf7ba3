package engine

import (
	"context"
	"database/sql"
	"errors"

	"shiftline/internal/domain"
	"shiftline/internal/events"
	"shiftline/internal/repo"
)

type EventOptions struct {
	ShiftID     int64
	AuthorID    int64
	Type        domain.EventType
	Description string
	// AnyAuthor lets someone other than the shift's guard log the event.
	AnyAuthor bool
}

// AddEvent appends to the log of an ACTIVE shift.
func (e Engine) AddEvent(ctx context.Context, opts EventOptions) (domain.Event, error) {
	var (
		ev  domain.Event
		obj domain.SecurityObject
	)
	err := e.run(ctx, "add event", func(ctx context.Context, tx *sql.Tx) error {
		s, err := e.Repo.GetShiftTx(ctx, tx, opts.ShiftID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(ShiftNotFound, "shift #%d does not exist", opts.ShiftID)
		}
		if err != nil {
			return err
		}
		if s.Status != domain.ShiftActive {
			return fail(NotActive, "shift #%d is %s", s.ID, s.Status)
		}
		if !opts.AnyAuthor && s.GuardID != opts.AuthorID {
			return fail(NotOwner, "shift #%d belongs to guard %d", s.ID, s.GuardID)
		}
		if obj, err = e.Directory.GetObjectTx(ctx, tx, s.ObjectID); err != nil {
			return err
		}
		w := e.Events
		w.Now = e.now
		ev, err = w.Append(ctx, tx, events.Input{
			ShiftID:     s.ID,
			ObjectID:    s.ObjectID,
			Type:        opts.Type,
			Description: opts.Description,
			AuthorID:    opts.AuthorID,
		})
		if errors.Is(err, events.ErrInvalidType) || errors.Is(err, events.ErrDescriptionMissing) || errors.Is(err, events.ErrDescriptionTooLong) {
			return fail(InvalidInput, "%v", err)
		}
		return err
	})
	if err != nil {
		return domain.Event{}, err
	}
	e.logger().Info("event recorded", "event_id", ev.ID, "shift_id", ev.ShiftID, "type", ev.Type)
	e.publish(ctx, domain.Notification{
		Type:       domain.NotifyEventRecorded,
		ShiftID:    ev.ShiftID,
		ObjectID:   ev.ObjectID,
		ObjectName: obj.Name,
		ByID:       ev.AuthorID,
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		Summary:    ev.Description,
		Recipients: e.supervisors(ctx),
	})
	return ev, nil
}

// ShiftEvents lists a shift's log, oldest first.
func (e Engine) ShiftEvents(ctx context.Context, shiftID int64) ([]domain.Event, error) {
	var res []domain.Event
	err := e.view(ctx, "list events", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := e.Repo.GetShiftTx(ctx, tx, shiftID); errors.Is(err, repo.ErrNotFound) {
			return fail(ShiftNotFound, "shift #%d does not exist", shiftID)
		} else if err != nil {
			return err
		}
		var err error
		res, err = e.EventReader.ShiftEventsTx(ctx, tx, shiftID)
		return err
	})
	return res, err
}

func (e Engine) GetReport(ctx context.Context, id int64) (domain.Report, error) {
	r, err := e.Repo.GetReport(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return r, fail(NotFound, "report #%d does not exist", id)
	}
	return r, err
}

func (e Engine) ListReports(ctx context.Context, f repo.ReportFilters) ([]domain.Report, error) {
	return e.Repo.ListReports(ctx, f)
}
