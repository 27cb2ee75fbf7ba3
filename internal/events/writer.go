package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"shiftline/internal/domain"
)

const MaxDescriptionRunes = 2000

var (
	ErrInvalidType        = errors.New("invalid event type")
	ErrDescriptionMissing = errors.New("description is required")
	ErrDescriptionTooLong = fmt.Errorf("description exceeds %d characters", MaxDescriptionRunes)
)

// Input is one entry for the shift event log.
type Input struct {
	ShiftID     int64
	ObjectID    int64
	Type        domain.EventType
	Description string
	AuthorID    int64
}

// Writer appends immutable entries to shift_events.
type Writer struct {
	Now func() time.Time
	// Location renders the timestamp stored on blank power events.
	Location *time.Location
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Normalize trims the description and fills power events that carry none.
func (w Writer) Normalize(in Input) (Input, error) {
	if !in.Type.Valid() {
		return in, fmt.Errorf("%w: %s", ErrInvalidType, in.Type)
	}
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		if !in.Type.PowerEvent() {
			return in, ErrDescriptionMissing
		}
		loc := w.Location
		if loc == nil {
			loc = time.UTC
		}
		in.Description = "Time recorded: " + w.now().In(loc).Format("02.01.2006 15:04")
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionRunes {
		return in, ErrDescriptionTooLong
	}
	return in, nil
}

// Append stores in within tx. The caller checks that the shift is ACTIVE.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, in Input) (domain.Event, error) {
	in, err := w.Normalize(in)
	if err != nil {
		return domain.Event{}, err
	}
	evt := domain.Event{
		ShiftID:     in.ShiftID,
		ObjectID:    in.ObjectID,
		Type:        in.Type,
		Description: in.Description,
		AuthorID:    in.AuthorID,
		CreatedAt:   domain.FormatTime(w.now()),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO shift_events(shift_id,object_id,event_type,description,author_id,created_at) VALUES (?,?,?,?,?,?)`,
		evt.ShiftID, evt.ObjectID, evt.Type, evt.Description, evt.AuthorID, evt.CreatedAt)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert shift event: %w", err)
	}
	evt.ID, err = res.LastInsertId()
	return evt, err
}
