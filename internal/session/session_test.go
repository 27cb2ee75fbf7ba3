package session_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftline/internal/db"
	"shiftline/internal/session"
)

func newRunner(t *testing.T, busyTimeoutMS int) (session.Runner, *[]time.Duration, *bytes.Buffer) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir(), BusyTimeoutMS: busyTimeoutMS})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Exec(`CREATE TABLE items(id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	var delays []time.Duration
	var logs bytes.Buffer
	r := session.New(conn, 3, 500*time.Millisecond, slog.New(slog.NewTextHandler(&logs, nil)))
	r.Sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return r, &delays, &logs
}

func countItems(t *testing.T, r session.Runner) int {
	t.Helper()
	var n int
	require.NoError(t, r.DB.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func TestRunCommits(t *testing.T) {
	r, delays, logs := newRunner(t, 0)
	err := r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items(name) VALUES ('a')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, r))
	assert.Empty(t, *delays)
	assert.Empty(t, logs.String())
}

func TestRunRollsBackOnError(t *testing.T) {
	r, delays, _ := newRunner(t, 0)
	boom := errors.New("boom")
	err := r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items(name) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, countItems(t, r))
	assert.Empty(t, *delays, "non-busy errors are not retried")
}

func TestRunRollsBackOnPanic(t *testing.T) {
	r, _, _ := newRunner(t, 0)
	assert.Panics(t, func() {
		_ = r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO items(name) VALUES ('a')`); err != nil {
				return err
			}
			panic("handler bug")
		})
	})
	assert.Zero(t, countItems(t, r))
}

func TestRunRetriesBusy(t *testing.T) {
	r, delays, logs := newRunner(t, 0)
	calls := 0
	err := r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		calls++
		if _, err := tx.ExecContext(ctx, `INSERT INTO items(name) VALUES (?)`, fmt.Sprint(calls)); err != nil {
			return err
		}
		if calls < 3 {
			return fmt.Errorf("write: %w", session.ErrBusy)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *delays)
	assert.Equal(t, 1, countItems(t, r), "failed attempts must leave nothing behind")

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "level=WARN"), "only retries past the first warn")
	assert.NotContains(t, out, "level=ERROR")
}

func TestRunGivesUp(t *testing.T) {
	r, delays, logs := newRunner(t, 0)
	calls := 0
	err := r.Run(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		calls++
		return session.ErrBusy
	})
	require.ErrorIs(t, err, session.ErrRetriesExhausted)
	require.ErrorIs(t, err, session.ErrBusy)
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2)
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	r, _, _ := newRunner(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	err := r.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		calls++
		return session.ErrBusy
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsBusyClassifiesSQLiteLock(t *testing.T) {
	r, _, _ := newRunner(t, 1)
	ctx := context.Background()

	holder, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = holder.ExecContext(ctx, `INSERT INTO items(name) VALUES ('held')`)
	require.NoError(t, err)

	r.MaxRetries = 1
	err = r.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items(name) VALUES ('blocked')`)
		return err
	})
	require.Error(t, err)
	assert.True(t, session.IsBusy(err), "got %v", err)
	assert.ErrorIs(t, err, session.ErrRetriesExhausted)

	assert.False(t, session.IsBusy(errors.New("disk full")))
	assert.False(t, session.IsBusy(nil))
}
