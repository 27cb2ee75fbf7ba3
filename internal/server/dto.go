package server

import (
	"shiftline/internal/domain"
	"shiftline/internal/engine"
)

// Request payloads

type StartShiftRequest struct {
	// GuardID starts the shift for another guard; needs shift.override.
	GuardID int64 `json:"guard_id,omitempty"`
}

type ShiftOverrideRequest struct {
	Status    *string `json:"status,omitempty" enum:"ACTIVE,COMPLETED,HANDED_OVER"`
	StartTime *string `json:"start_time,omitempty" format:"date-time"`
	EndTime   *string `json:"end_time,omitempty" format:"date-time"`
}

type CreateEventRequest struct {
	Type        string `json:"event_type" enum:"INCIDENT,POWER_OFF,POWER_ON,VISITOR,DELIVERY,ALARM"`
	Description string `json:"description,omitempty" maxLength:"4000"`
}

type CreateHandoverRequest struct {
	ShiftID int64 `json:"shift_id" minimum:"1"`
	ToID    int64 `json:"handover_to_id" minimum:"1"`
}

type AcceptHandoverRequest struct {
	Notes string `json:"notes,omitempty"`
}

type CancelHandoverRequest struct {
	Force bool `json:"force,omitempty"`
}

type RejectHandoverRequest struct {
	// ByID defaults to the handover's receiver.
	ByID  int64 `json:"by_id,omitempty"`
	Force bool  `json:"force,omitempty"`
}

type HandoverOverrideRequest struct {
	Status  *string `json:"status,omitempty" enum:"PENDING,ACCEPTED,ACCEPTED_WITH_NOTES"`
	Summary *string `json:"summary,omitempty"`
	Notes   *string `json:"notes,omitempty"`
}

type UpsertGuardRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Role     string `json:"role,omitempty" enum:"guard,senior,controller,admin"`
	Active   *bool  `json:"active,omitempty"`
	ObjectID *int64 `json:"object_id,omitempty"`
}

type UpsertObjectRequest struct {
	Name           string `json:"name"`
	ProtectionType string `json:"protection_type,omitempty" enum:"SHIFT,TEMPORARY_SINGLE"`
	Active         *bool  `json:"active,omitempty"`
}

// Response payloads

type ShiftListResponse struct {
	Items []domain.Shift `json:"items"`
}

type ActiveShiftResponse struct {
	Active bool          `json:"active"`
	Shift  *domain.Shift `json:"shift,omitempty"`
}

type SummaryResponse struct {
	ShiftID int64  `json:"shift_id"`
	Summary string `json:"summary"`
}

type EventListResponse struct {
	Items []domain.Event `json:"items"`
}

type HandoverListResponse struct {
	Items []domain.ShiftHandover `json:"items"`
}

type PendingHandoversResponse struct {
	Incoming []domain.ShiftHandover `json:"incoming"`
	Outgoing []domain.ShiftHandover `json:"outgoing"`
}

type ReportListResponse struct {
	Items []domain.Report `json:"items"`
}

type GuardListResponse struct {
	Items []domain.Guard `json:"items"`
}

type ObjectListResponse struct {
	Items []domain.SecurityObject `json:"items"`
}

type AuditResponse struct {
	Clean      bool               `json:"clean"`
	Violations []domain.Violation `json:"violations"`
}

type MeResponse struct {
	Guard       domain.Guard `json:"guard"`
	Permissions []string     `json:"permissions"`
	Source      string       `json:"source"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

func shiftOverride(in ShiftOverrideRequest) engine.ShiftOverride {
	var o engine.ShiftOverride
	if in.Status != nil {
		st := domain.ShiftStatus(*in.Status)
		o.Status = &st
	}
	o.StartTime = in.StartTime
	o.EndTime = in.EndTime
	return o
}

func handoverOverride(in HandoverOverrideRequest) engine.HandoverOverride {
	var o engine.HandoverOverride
	if in.Status != nil {
		st := domain.HandoverStatus(*in.Status)
		o.Status = &st
	}
	o.Summary = in.Summary
	o.Notes = in.Notes
	return o
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
