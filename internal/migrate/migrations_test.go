package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"shiftline/internal/db"
	"shiftline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	require.Zero(t, v)

	require.NoError(t, migrate.Migrate(ctx, conn))
	require.NoError(t, migrate.Migrate(ctx, conn))

	latest, err := migrate.Latest()
	require.NoError(t, err)
	v, err = migrate.Version(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, latest, v)

	for _, table := range []string{"guards", "security_objects", "shifts", "shift_events", "shift_handovers", "reports", "api_keys"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestActiveShiftBackstopIndex(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(ctx, conn))

	ts := "2024-01-01T08:00:00.000000Z"
	_, err = conn.ExecContext(ctx, `INSERT INTO security_objects(id,name,created_at,updated_at) VALUES (1,'Gate',?,?)`, ts, ts)
	require.NoError(t, err)
	for _, id := range []int{10, 11} {
		_, err = conn.ExecContext(ctx, `INSERT INTO guards(id,full_name,object_id,created_at,updated_at) VALUES (?,?,1,?,?)`, id, "g", ts, ts)
		require.NoError(t, err)
	}
	_, err = conn.ExecContext(ctx, `INSERT INTO shifts(guard_id,object_id,start_time,status,created_at,updated_at) VALUES (10,1,?,'ACTIVE',?,?)`, ts, ts, ts)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO shifts(guard_id,object_id,start_time,status,created_at,updated_at) VALUES (11,1,?,'ACTIVE',?,?)`, ts, ts, ts)
	require.Error(t, err, "second ACTIVE shift on the same object must be rejected by the store")

	_, err = conn.ExecContext(ctx, `INSERT INTO shifts(guard_id,object_id,start_time,end_time,status,created_at,updated_at) VALUES (11,1,?,NULL,'COMPLETED',?,?)`, ts, ts, ts)
	require.Error(t, err, "non-active shift without end_time must be rejected")
}
