package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftline/internal/config"
	"shiftline/internal/db"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/migrate"
	"shiftline/internal/repo"
)

const seedTS = "2024-05-01T00:00:00.000000Z"

type recorder struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (r *recorder) Publish(_ context.Context, n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []string
	for _, n := range r.got {
		res = append(res, n.Type)
	}
	return res
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Notes  *recorder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))

	eng := engine.New(conn, config.Default(), nil)
	var mu sync.Mutex
	clock := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}
	rec := &recorder{}
	eng.Notifier = rec
	return testEnv{Engine: eng, Ctx: ctx, Notes: rec}
}

func (env testEnv) object(t *testing.T, id int64, pt domain.ProtectionType) {
	t.Helper()
	_, err := env.Engine.Repo.UpsertObject(env.Ctx, domain.SecurityObject{ID: id, Name: "Object", Active: true, ProtectionType: pt}, seedTS)
	require.NoError(t, err)
}

func (env testEnv) guard(t *testing.T, id int64, role domain.Role, objectID int64) {
	t.Helper()
	g := domain.Guard{ID: id, FullName: "Guard", Role: role, Active: true}
	if objectID != 0 {
		g.ObjectID = &objectID
	}
	_, err := env.Engine.Repo.UpsertGuard(env.Ctx, g, seedTS)
	require.NoError(t, err)
}

func requireFailure(t *testing.T, err error, code engine.FailureCode) {
	t.Helper()
	require.Error(t, err)
	f, ok := engine.AsFailure(err)
	require.True(t, ok, "expected failure %s, got %v", code, err)
	assert.Equal(t, code, f.Code, f.Message)
}

func (env testEnv) requireClean(t *testing.T) {
	t.Helper()
	v, err := env.Engine.Audit(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestHandoverAcceptScenario(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)
	env.guard(t, 900, domain.RoleSenior, 0)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftActive, s.Status)
	assert.Nil(t, s.EndTime)

	h, err := env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, domain.HandoverPending, h.Status)
	assert.Contains(t, h.Summary, "No events")

	src, err := env.Engine.GetShift(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftHandedOver, src.Status)
	require.NotNil(t, src.EndTime)

	h, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "   ")
	require.NoError(t, err)
	assert.Equal(t, domain.HandoverAccepted, h.Status)
	assert.Nil(t, h.Notes)
	require.NotNil(t, h.AcceptedAt)
	require.NotNil(t, h.ReceiverShiftID)

	active, ok, err := env.Engine.ActiveShiftFor(env.Ctx, 200)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, *h.ReceiverShiftID, active.ID)

	_, err = env.Engine.StartShift(env.Ctx, 100)
	requireFailure(t, err, engine.ObjectOccupied)

	assert.Equal(t, []string{domain.NotifyShiftStarted, domain.NotifyHandoverCreated, domain.NotifyHandoverCompleted}, env.Notes.types())
	completed := env.Notes.got[2]
	assert.Equal(t, []int64{900}, completed.Recipients)
	assert.Equal(t, int64(100), completed.ByID)
	assert.Equal(t, int64(200), completed.ToID)
	env.requireClean(t)
}

func TestTemporarySingleScenario(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 2, domain.ProtectionTemporarySingle)
	env.guard(t, 300, domain.RoleGuard, 2)
	env.guard(t, 400, domain.RoleGuard, 2)

	s, err := env.Engine.StartShift(env.Ctx, 300)
	require.NoError(t, err)

	_, err = env.Engine.CreateHandover(env.Ctx, s.ID, 300, 400)
	requireFailure(t, err, engine.ProtectionTypeBlocks)

	ended, err := env.Engine.EndShift(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftCompleted, ended.Status)
	require.NotNil(t, ended.EndTime)

	_, err = env.Engine.EndShift(env.Ctx, s.ID)
	requireFailure(t, err, engine.NotActive)
	_, err = env.Engine.EndShift(env.Ctx, 999)
	requireFailure(t, err, engine.ShiftNotFound)
	env.requireClean(t)
}

func TestEndShiftRequiresTemporarySingle(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	_, err = env.Engine.EndShift(env.Ctx, s.ID)
	requireFailure(t, err, engine.ProtectionTypeBlocks)
}

func TestConcurrentStartShiftOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 5, domain.ProtectionShift)
	env.guard(t, 1, domain.RoleGuard, 5)
	env.guard(t, 2, domain.RoleGuard, 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{1, 2} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = env.Engine.StartShift(env.Ctx, id)
		}(i, id)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		requireFailure(t, err, engine.ObjectOccupied)
	}
	assert.Equal(t, 1, wins)
	shifts, err := env.Engine.ListShifts(env.Ctx, repo.ShiftFilters{ObjectID: 5, Status: domain.ShiftActive})
	require.NoError(t, err)
	assert.Len(t, shifts, 1)
}

func TestStartShiftPreconditions(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)
	env.guard(t, 300, domain.RoleGuard, 1)
	env.guard(t, 400, domain.RoleGuard, 0)
	_, err := env.Engine.Repo.UpsertGuard(env.Ctx, domain.Guard{ID: 500, Active: false}, seedTS)
	require.NoError(t, err)

	_, err = env.Engine.StartShift(env.Ctx, 42)
	requireFailure(t, err, engine.NotActive)
	_, err = env.Engine.StartShift(env.Ctx, 500)
	requireFailure(t, err, engine.NotActive)
	_, err = env.Engine.StartShift(env.Ctx, 400)
	requireFailure(t, err, engine.NoObject)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	_, err = env.Engine.StartShift(env.Ctx, 100)
	requireFailure(t, err, engine.AlreadyActive)

	_, err = env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)
	_, err = env.Engine.StartShift(env.Ctx, 100)
	requireFailure(t, err, engine.PendingHandoverBlocks)
	_, err = env.Engine.StartShift(env.Ctx, 300)
	requireFailure(t, err, engine.ObjectOccupied)
}

func TestCreateHandoverFailures(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.object(t, 2, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)
	env.guard(t, 300, domain.RoleController, 1)
	env.guard(t, 400, domain.RoleGuard, 2)
	_, err := env.Engine.Repo.UpsertGuard(env.Ctx, domain.Guard{ID: 500, Active: false, ObjectID: ptr(int64(1))}, seedTS)
	require.NoError(t, err)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)

	cases := []struct {
		name    string
		shiftID int64
		byID    int64
		toID    int64
		code    engine.FailureCode
	}{
		{"unknown shift", 999, 100, 200, engine.ShiftNotFound},
		{"not owner", s.ID, 200, 100, engine.NotOwner},
		{"same guard", s.ID, 100, 100, engine.SameGuard},
		{"unknown receiver", s.ID, 100, 777, engine.ReceiverInactive},
		{"inactive receiver", s.ID, 100, 500, engine.ReceiverInactive},
		{"controller receiver", s.ID, 100, 300, engine.ReceiverRoleBlocked},
		{"other object", s.ID, 100, 400, engine.DifferentObject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateHandover(env.Ctx, tc.shiftID, tc.byID, tc.toID)
			requireFailure(t, err, tc.code)
		})
	}

	_, err = env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)
	_, err = env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	requireFailure(t, err, engine.NotActive)
}

func TestCancelPendingRestoresShift(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	h, err := env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)

	requireFailure(t, env.Engine.CancelHandover(env.Ctx, h.ID, 200, false), engine.NotSender)
	requireFailure(t, env.Engine.CancelHandover(env.Ctx, 999, 100, false), engine.NotFound)
	require.NoError(t, env.Engine.CancelHandover(env.Ctx, h.ID, 100, false))

	restored, err := env.Engine.GetShift(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftActive, restored.Status)
	assert.Nil(t, restored.EndTime)

	_, err = env.Engine.GetHandover(env.Ctx, h.ID)
	requireFailure(t, err, engine.NotFound)
	env.requireClean(t)
}

func TestAcceptWithNotesThenRejectRestoresPending(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	_, err = env.Engine.AddEvent(env.Ctx, engine.EventOptions{ShiftID: s.ID, AuthorID: 100, Type: domain.EventIncident, Description: "gate left open"})
	require.NoError(t, err)
	h, err := env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)

	h, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "  key missing  ")
	require.NoError(t, err)
	assert.Equal(t, domain.HandoverAcceptedWithNotes, h.Status)
	require.NotNil(t, h.Notes)
	assert.Equal(t, "key missing", *h.Notes)
	receiverShift := *h.ReceiverShiftID

	rep, err := env.Engine.Repo.ReportForHandover(env.Ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.EventsCount)
	assert.Equal(t, "key missing", rep.Notes)
	env.requireClean(t)

	_, err = env.Engine.RejectHandover(env.Ctx, h.ID, 100, true)
	requireFailure(t, err, engine.NotReceiver)
	_, err = env.Engine.RejectHandover(env.Ctx, h.ID, 200, false)
	requireFailure(t, err, engine.ReceiverAlreadyActiveNeedsForce)
	_, err = env.Engine.Repo.ReportForHandover(env.Ctx, h.ID)
	require.NoError(t, err, "failed reject must roll back")

	h, err = env.Engine.RejectHandover(env.Ctx, h.ID, 200, true)
	require.NoError(t, err)
	assert.Equal(t, domain.HandoverPending, h.Status)
	assert.Nil(t, h.AcceptedAt)
	assert.Nil(t, h.Notes)
	assert.Nil(t, h.ReceiverShiftID)

	_, err = env.Engine.GetShift(env.Ctx, receiverShift)
	requireFailure(t, err, engine.ShiftNotFound)
	_, err = env.Engine.Repo.ReportForHandover(env.Ctx, h.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = env.Engine.RejectHandover(env.Ctx, h.ID, 200, true)
	requireFailure(t, err, engine.NotAccepted)
	env.requireClean(t)

	h, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "")
	require.NoError(t, err)
	assert.Equal(t, domain.HandoverAccepted, h.Status)
}

func TestDoubleAcceptCreatesOneShift(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	h, err := env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)

	_, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 100, "")
	requireFailure(t, err, engine.NotReceiver)
	_, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "")
	require.NoError(t, err)
	_, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "")
	requireFailure(t, err, engine.AlreadyResolved)
	_, err = env.Engine.AcceptHandover(env.Ctx, 999, 200, "")
	requireFailure(t, err, engine.NotFound)

	shifts, err := env.Engine.ListShifts(env.Ctx, repo.ShiftFilters{GuardID: 200})
	require.NoError(t, err)
	assert.Len(t, shifts, 1)
}

func TestAcceptRespectsReceiverAssignment(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.object(t, 2, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	h, err := env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)

	env.guard(t, 200, domain.RoleGuard, 2)
	_, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "")
	requireFailure(t, err, engine.DifferentObject)

	env.guard(t, 200, domain.RoleGuard, 1)
	got, err := env.Engine.PendingHandoversFor(env.Ctx, 200)
	require.NoError(t, err)
	require.Len(t, got, 1)
	pending, err := env.Engine.HasPendingHandoverOnObject(env.Ctx, 100, 1)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestForceCancelAcceptedHandover(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	h, err := env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)
	h, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "all quiet")
	require.NoError(t, err)

	requireFailure(t, env.Engine.CancelHandover(env.Ctx, h.ID, 100, false), engine.NotPendingAndNotForce)
	require.NoError(t, env.Engine.CancelHandover(env.Ctx, h.ID, 100, true))

	_, ok, err := env.Engine.ActiveShiftFor(env.Ctx, 200)
	require.NoError(t, err)
	assert.False(t, ok)
	active, ok, err := env.Engine.ActiveShiftForObject(env.Ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s.ID, active.ID)
	env.requireClean(t)
}

func TestDeleteShift(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	_, err = env.Engine.AddEvent(env.Ctx, engine.EventOptions{ShiftID: s.ID, AuthorID: 100, Type: domain.EventPowerOff})
	require.NoError(t, err)
	h, err := env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)

	requireFailure(t, env.Engine.DeleteShift(env.Ctx, s.ID, 1), engine.HandoverUnresolved)

	_, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "noted")
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteShift(env.Ctx, s.ID, 1))

	_, err = env.Engine.GetHandover(env.Ctx, h.ID)
	requireFailure(t, err, engine.NotFound)
	reports, err := env.Engine.ListReports(env.Ctx, repo.ReportFilters{ObjectID: 1})
	require.NoError(t, err)
	assert.Empty(t, reports)
	requireFailure(t, env.Engine.DeleteShift(env.Ctx, s.ID, 1), engine.ShiftNotFound)
	env.requireClean(t)
}

func TestEventLog(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)

	_, err = env.Engine.AddEvent(env.Ctx, engine.EventOptions{ShiftID: s.ID, AuthorID: 200, Type: domain.EventAlarm, Description: "x"})
	requireFailure(t, err, engine.NotOwner)
	_, err = env.Engine.AddEvent(env.Ctx, engine.EventOptions{ShiftID: s.ID, AuthorID: 100, Type: domain.EventVisitor})
	requireFailure(t, err, engine.InvalidInput)

	ev, err := env.Engine.AddEvent(env.Ctx, engine.EventOptions{ShiftID: s.ID, AuthorID: 100, Type: domain.EventPowerOn})
	require.NoError(t, err)
	assert.Contains(t, ev.Description, "Time recorded: ")
	_, err = env.Engine.AddEvent(env.Ctx, engine.EventOptions{ShiftID: s.ID, AuthorID: 200, Type: domain.EventAlarm, Description: "siren", AnyAuthor: true})
	require.NoError(t, err)

	evts, err := env.Engine.ShiftEvents(env.Ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, domain.EventPowerOn, evts[0].Type)

	summary, err := env.Engine.GenerateSummary(env.Ctx, s.ID)
	require.NoError(t, err)
	assert.Contains(t, summary, "Events: 2")
	assert.Contains(t, summary, "Alarm: siren")

	_, err = env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)
	_, err = env.Engine.AddEvent(env.Ctx, engine.EventOptions{ShiftID: s.ID, AuthorID: 100, Type: domain.EventAlarm, Description: "late"})
	requireFailure(t, err, engine.NotActive)
}

func TestOverrides(t *testing.T) {
	env := newTestEnv(t)
	env.object(t, 1, domain.ProtectionShift)
	env.guard(t, 100, domain.RoleGuard, 1)
	env.guard(t, 200, domain.RoleGuard, 1)

	s, err := env.Engine.StartShift(env.Ctx, 100)
	require.NoError(t, err)
	h, err := env.Engine.CreateHandover(env.Ctx, s.ID, 100, 200)
	require.NoError(t, err)
	h, err = env.Engine.AcceptHandover(env.Ctx, h.ID, 200, "")
	require.NoError(t, err)

	active := domain.ShiftActive
	_, err = env.Engine.OverrideShift(env.Ctx, s.ID, engine.ShiftOverride{Status: &active}, 1)
	requireFailure(t, err, engine.InvariantViolation)

	completed := domain.ShiftCompleted
	rs, err := env.Engine.OverrideShift(env.Ctx, *h.ReceiverShiftID, engine.ShiftOverride{Status: &completed}, 1)
	require.NoError(t, err)
	require.NotNil(t, rs.EndTime)

	early := "2024-05-01T00:00:00Z"
	_, err = env.Engine.OverrideShift(env.Ctx, rs.ID, engine.ShiftOverride{EndTime: &early}, 1)
	requireFailure(t, err, engine.InvariantViolation)
	bad := "yesterday"
	_, err = env.Engine.OverrideShift(env.Ctx, rs.ID, engine.ShiftOverride{StartTime: &bad}, 1)
	requireFailure(t, err, engine.InvalidInput)

	pending := domain.HandoverPending
	_, err = env.Engine.OverrideHandover(env.Ctx, h.ID, engine.HandoverOverride{Status: &pending}, 1)
	requireFailure(t, err, engine.InvariantViolation)

	withNotes := domain.HandoverAcceptedWithNotes
	_, err = env.Engine.OverrideHandover(env.Ctx, h.ID, engine.HandoverOverride{Status: &withNotes}, 1)
	requireFailure(t, err, engine.InvariantViolation)

	notes := "found on review"
	h, err = env.Engine.OverrideHandover(env.Ctx, h.ID, engine.HandoverOverride{Status: &withNotes, Notes: &notes}, 1)
	require.NoError(t, err)
	rep, err := env.Engine.Repo.ReportForHandover(env.Ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, notes, rep.Notes)

	accepted := domain.HandoverAccepted
	h, err = env.Engine.OverrideHandover(env.Ctx, h.ID, engine.HandoverOverride{Status: &accepted}, 1)
	require.NoError(t, err)
	assert.Nil(t, h.Notes)
	_, err = env.Engine.Repo.ReportForHandover(env.Ctx, h.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	env.requireClean(t)
}

func ptr[T any](v T) *T { return &v }
