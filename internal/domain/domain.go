package domain

import (
	"fmt"
	"time"
)

// TimeLayout is the storage format for every timestamp column. It is fixed
// width so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and plain RFC3339 values.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

type Role string

const (
	RoleGuard      Role = "guard"
	RoleSenior     Role = "senior"
	RoleController Role = "controller"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleGuard, RoleSenior, RoleController, RoleAdmin:
		return true
	}
	return false
}

type ProtectionType string

const (
	ProtectionShift           ProtectionType = "SHIFT"
	ProtectionTemporarySingle ProtectionType = "TEMPORARY_SINGLE"
)

func (p ProtectionType) Valid() bool {
	return p == ProtectionShift || p == ProtectionTemporarySingle
}

type ShiftStatus string

const (
	ShiftActive     ShiftStatus = "ACTIVE"
	ShiftCompleted  ShiftStatus = "COMPLETED"
	ShiftHandedOver ShiftStatus = "HANDED_OVER"
)

func (s ShiftStatus) Valid() bool {
	switch s {
	case ShiftActive, ShiftCompleted, ShiftHandedOver:
		return true
	}
	return false
}

type HandoverStatus string

const (
	HandoverPending           HandoverStatus = "PENDING"
	HandoverAccepted          HandoverStatus = "ACCEPTED"
	HandoverAcceptedWithNotes HandoverStatus = "ACCEPTED_WITH_NOTES"
)

func (s HandoverStatus) Valid() bool {
	switch s {
	case HandoverPending, HandoverAccepted, HandoverAcceptedWithNotes:
		return true
	}
	return false
}

// Resolved reports whether the receiver has already accepted.
func (s HandoverStatus) Resolved() bool {
	return s == HandoverAccepted || s == HandoverAcceptedWithNotes
}

type EventType string

const (
	EventIncident EventType = "INCIDENT"
	EventPowerOff EventType = "POWER_OFF"
	EventPowerOn  EventType = "POWER_ON"
	EventVisitor  EventType = "VISITOR"
	EventDelivery EventType = "DELIVERY"
	EventAlarm    EventType = "ALARM"
)

var eventLabels = map[EventType]string{
	EventIncident: "Incident",
	EventPowerOff: "Power off",
	EventPowerOn:  "Power on",
	EventVisitor:  "Visitor",
	EventDelivery: "Delivery",
	EventAlarm:    "Alarm",
}

func (t EventType) Valid() bool {
	_, ok := eventLabels[t]
	return ok
}

// Label is the human readable name used in summaries; unknown types render as-is.
func (t EventType) Label() string {
	if l, ok := eventLabels[t]; ok {
		return l
	}
	return string(t)
}

// PowerEvent reports whether the event only records a moment in time.
func (t EventType) PowerEvent() bool {
	return t == EventPowerOff || t == EventPowerOn
}

type Guard struct {
	ID        int64  `json:"id"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone,omitempty"`
	Role      Role   `json:"role" enum:"guard,senior,controller,admin"`
	Active    bool   `json:"active"`
	ObjectID  *int64 `json:"object_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// DisplayName falls back to the numeric id when no name is on file.
func (g Guard) DisplayName() string {
	if g.FullName != "" {
		return g.FullName
	}
	return fmt.Sprintf("ID: %d", g.ID)
}

type SecurityObject struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Active         bool           `json:"active"`
	ProtectionType ProtectionType `json:"protection_type" enum:"SHIFT,TEMPORARY_SINGLE"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

type Shift struct {
	ID        int64       `json:"id"`
	GuardID   int64       `json:"guard_id"`
	ObjectID  int64       `json:"object_id"`
	StartTime string      `json:"start_time" format:"date-time"`
	EndTime   *string     `json:"end_time,omitempty" format:"date-time"`
	Status    ShiftStatus `json:"status" enum:"ACTIVE,COMPLETED,HANDED_OVER"`
	CreatedAt string      `json:"created_at" format:"date-time"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID          int64     `json:"id"`
	ShiftID     int64     `json:"shift_id"`
	ObjectID    int64     `json:"object_id"`
	Type        EventType `json:"event_type" enum:"INCIDENT,POWER_OFF,POWER_ON,VISITOR,DELIVERY,ALARM"`
	Description string    `json:"description"`
	AuthorID    int64     `json:"author_id"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
}

type ShiftHandover struct {
	ID              int64          `json:"id"`
	ShiftID         int64          `json:"shift_id"`
	ObjectID        int64          `json:"object_id"`
	ByID            int64          `json:"handover_by_id"`
	ToID            int64          `json:"handover_to_id"`
	Status          HandoverStatus `json:"status" enum:"PENDING,ACCEPTED,ACCEPTED_WITH_NOTES"`
	Summary         string         `json:"summary"`
	Notes           *string        `json:"notes,omitempty"`
	HandedOverAt    string         `json:"handed_over_at" format:"date-time"`
	AcceptedAt      *string        `json:"accepted_at,omitempty" format:"date-time"`
	ReceiverShiftID *int64         `json:"receiver_shift_id,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
}

type Report struct {
	ID          int64  `json:"id"`
	HandoverID  int64  `json:"shift_handover_id"`
	ObjectID    int64  `json:"object_id"`
	ShiftStart  string `json:"shift_start" format:"date-time"`
	ShiftEnd    string `json:"shift_end" format:"date-time"`
	ByID        int64  `json:"handover_by_id"`
	ToID        int64  `json:"handover_to_id"`
	EventsCount int    `json:"events_count"`
	Notes       string `json:"notes"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	GuardID   int64  `json:"guard_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Notification is published after a lifecycle transition commits.
type Notification struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	TS           string  `json:"ts" format:"date-time"`
	ShiftID      int64   `json:"shift_id,omitempty"`
	HandoverID   int64   `json:"handover_id,omitempty"`
	ObjectID     int64   `json:"object_id"`
	ObjectName   string  `json:"object_name,omitempty"`
	ByID         int64   `json:"by_id,omitempty"`
	ByName       string  `json:"by_name,omitempty"`
	ToID         int64   `json:"to_id,omitempty"`
	ToName       string  `json:"to_name,omitempty"`
	Summary      string  `json:"summary,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	HandedOverAt string  `json:"handed_over_at,omitempty"`
	AcceptedAt   string  `json:"accepted_at,omitempty"`
	EventID      int64   `json:"event_id,omitempty"`
	EventType    string  `json:"event_type,omitempty"`
	// Recipients are the senior and controller guards to alert.
	Recipients []int64 `json:"recipients,omitempty"`
}

const (
	NotifyShiftStarted      = "shift.started"
	NotifyShiftEnded        = "shift.ended"
	NotifyHandoverCreated   = "handover.created"
	NotifyHandoverCompleted = "handover.completed"
	NotifyHandoverCancelled = "handover.cancelled"
	NotifyHandoverRejected  = "handover.rejected"
	NotifyEventRecorded     = "event.recorded"
)

// Violation is one invariant breach found by an audit or an override check.
type Violation struct {
	Rule   string `json:"rule"`
	Entity string `json:"entity"`
	ID     int64  `json:"id"`
	Detail string `json:"detail"`
}
