// Package session runs units of work against the shared store. It is the
// only layer that knows about store contention: callers write their
// transaction body as if it were alone and Run retries it when SQLite
// reports the database busy or locked.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
)

var (
	// ErrBusy marks an error as transient contention; wrap it to request a retry.
	ErrBusy = errors.New("store busy")
	// ErrRetriesExhausted is returned once every attempt hit contention.
	ErrRetriesExhausted = errors.New("store busy, try again later")
)

// Func is the body of a unit of work.
type Func func(ctx context.Context, tx *sql.Tx) error

type Runner struct {
	DB         *sql.DB
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *slog.Logger
	// Sleep waits between attempts; tests replace it to observe the schedule.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(db *sql.DB, maxRetries int, baseDelay time.Duration, logger *slog.Logger) Runner {
	return Runner{DB: db, MaxRetries: maxRetries, BaseDelay: baseDelay, Logger: logger}
}

func (r Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (r Runner) maxRetries() int {
	if r.MaxRetries > 0 {
		return r.MaxRetries
	}
	return DefaultMaxRetries
}

func (r Runner) baseDelay() time.Duration {
	if r.BaseDelay > 0 {
		return r.BaseDelay
	}
	return DefaultBaseDelay
}

func (r Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes fn inside one transaction and commits when it returns nil.
// Busy/locked errors roll back and retry after BaseDelay*attempt, at most
// MaxRetries attempts in total. Any other error rolls back and is returned
// unchanged.
func (r Runner) Run(ctx context.Context, fn Func) error {
	return r.run(ctx, fn, true)
}

// View runs a read-only unit of work under the same retry policy as Run.
// The transaction is always rolled back.
func (r Runner) View(ctx context.Context, fn Func) error {
	return r.run(ctx, fn, false)
}

func (r Runner) run(ctx context.Context, fn Func, commit bool) error {
	max := r.maxRetries()
	for attempt := 1; ; attempt++ {
		err := r.once(ctx, fn, commit)
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt >= max {
			r.logger().Error("store busy, giving up", "attempts", attempt, "error", err)
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		delay := r.baseDelay() * time.Duration(attempt)
		if attempt > 1 {
			r.logger().Warn("store busy, retrying", "attempt", attempt, "delay", delay, "error", err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (r Runner) once(ctx context.Context, fn Func, commit bool) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return err
	}
	if !commit {
		return tx.Rollback()
	}
	return tx.Commit()
}

// IsBusy reports whether err is transient store contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
