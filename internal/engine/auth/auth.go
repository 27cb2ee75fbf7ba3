package auth

import (
	"fmt"

	"shiftline/internal/config"
	"shiftline/internal/domain"
)

const (
	PermShiftStart      = "shift.start"
	PermShiftEnd        = "shift.end"
	PermShiftEndAny     = "shift.end.any"
	PermShiftRead       = "shift.read"
	PermShiftReadAny    = "shift.read.any"
	PermShiftDelete     = "shift.delete"
	PermShiftOverride   = "shift.override"
	PermHandoverCreate  = "handover.create"
	PermHandoverAccept  = "handover.accept"
	PermHandoverCancel  = "handover.cancel"
	PermHandoverReject  = "handover.reject"
	PermHandoverRead    = "handover.read"
	PermHandoverReadAny = "handover.read.any"
	PermHandoverEdit    = "handover.override"
	PermEventWrite      = "event.write"
	PermEventWriteAny   = "event.write.any"
	PermEventRead       = "event.read"
	PermReportRead      = "report.read"
	PermDirectoryRead   = "directory.read"
	PermDirectoryWrite  = "directory.write"
	PermAPIKeyManage    = "apikey.manage"
	PermAuditRead       = "audit.read"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// InactiveError is returned for principals whose directory entry is disabled.
type InactiveError struct {
	GuardID int64
}

func (e InactiveError) Error() string {
	return fmt.Sprintf("guard %d is not active", e.GuardID)
}

// Service maps directory roles to permissions from the rbac config section.
type Service struct {
	Config *config.Config
}

func (s Service) Permissions(role domain.Role) []string {
	if s.Config == nil {
		return nil
	}
	return s.Config.Permissions(string(role))
}

func (s Service) Can(g domain.Guard, perm string) bool {
	if !g.Active {
		return false
	}
	for _, p := range s.Permissions(g.Role) {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns a typed error when g may not use perm.
func (s Service) Require(g domain.Guard, perm string) error {
	if !g.Active {
		return InactiveError{GuardID: g.ID}
	}
	if !s.Can(g, perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// RequireAny passes when g holds at least one of perms.
func (s Service) RequireAny(g domain.Guard, perms ...string) error {
	if !g.Active {
		return InactiveError{GuardID: g.ID}
	}
	for _, p := range perms {
		if s.Can(g, p) {
			return nil
		}
	}
	if len(perms) == 0 {
		return ForbiddenError{}
	}
	return ForbiddenError{Permission: perms[0]}
}
