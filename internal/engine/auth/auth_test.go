package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"shiftline/internal/config"
	"shiftline/internal/domain"
	"shiftline/internal/engine/auth"
)

func TestRolePermissions(t *testing.T) {
	svc := auth.Service{Config: config.Default()}
	guard := domain.Guard{ID: 1, Role: domain.RoleGuard, Active: true}
	admin := domain.Guard{ID: 2, Role: domain.RoleAdmin, Active: true}

	assert.NoError(t, svc.Require(guard, auth.PermHandoverCreate))
	assert.ErrorAs(t, svc.Require(guard, auth.PermHandoverReject), &auth.ForbiddenError{})
	assert.NoError(t, svc.Require(admin, auth.PermHandoverReject))
	assert.NoError(t, svc.RequireAny(guard, auth.PermShiftReadAny, auth.PermShiftRead))

	admin.Active = false
	var inactive auth.InactiveError
	assert.ErrorAs(t, svc.Require(admin, auth.PermHandoverReject), &inactive)
	assert.Equal(t, int64(2), inactive.GuardID)
	assert.False(t, svc.Can(admin, auth.PermShiftRead))
}
