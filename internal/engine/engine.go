// Package engine holds the shift and handover state machines. Every
// mutating operation runs as one unit of work through session.Runner and
// publishes its notification only after the unit of work commits.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"shiftline/internal/config"
	"shiftline/internal/domain"
	"shiftline/internal/events"
	"shiftline/internal/notify"
	"shiftline/internal/repo"
	"shiftline/internal/session"
)

// Directory resolves guards and objects inside a unit of work.
type Directory interface {
	GetGuardTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Guard, error)
	GetObjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.SecurityObject, error)
}

// EventReader lists the events logged against a shift, oldest first.
type EventReader interface {
	ShiftEventsTx(ctx context.Context, tx *sql.Tx, shiftID int64) ([]domain.Event, error)
}

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Directory   Directory
	Events      events.Writer
	EventReader EventReader
	Session     session.Runner
	Notifier    notify.Publisher
	Config      *config.Config
	Logger      *slog.Logger
	Now         func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:          db,
		Repo:        r,
		Directory:   r,
		Events:      events.Writer{Location: loc},
		EventReader: events.Reader{DB: db},
		Session:     session.New(db, cfg.Session.MaxRetries, cfg.Session.BaseDelay, logger),
		Notifier:    notify.Discard{},
		Config:      cfg,
		Logger:      logger,
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (e Engine) location() *time.Location {
	if e.Config == nil {
		return time.UTC
	}
	loc, err := e.Config.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

// run executes fn as one unit of work. Failures and exhausted retries pass
// through untouched; anything else is logged and becomes STORE_ERROR.
func (e Engine) run(ctx context.Context, op string, fn session.Func) error {
	return e.storeError(op, e.Session.Run(ctx, fn))
}

func (e Engine) view(ctx context.Context, op string, fn session.Func) error {
	return e.storeError(op, e.Session.View(ctx, fn))
}

func (e Engine) storeError(op string, err error) error {
	if err == nil || IsFailure(err) || errors.Is(err, session.ErrRetriesExhausted) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.logger().Error("unit of work failed", "op", op, "error", err)
	return &Failure{Code: StoreError, Message: op + " failed", Err: err}
}

// publish hands n to the notifier. Called only after commit.
func (e Engine) publish(ctx context.Context, n domain.Notification) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Publish(ctx, n)
}

// supervisors returns the active senior and controller guards.
func (e Engine) supervisors(ctx context.Context) []int64 {
	guards, err := e.Repo.ListGuards(ctx, repo.GuardFilters{ActiveOnly: true})
	if err != nil {
		e.logger().Warn("list supervisors", "error", err)
		return nil
	}
	var ids []int64
	for _, g := range guards {
		if g.Role == domain.RoleSenior || g.Role == domain.RoleController {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// guardOrPlaceholder returns the directory entry or a nameless stand-in.
func (e Engine) guardOrPlaceholder(ctx context.Context, tx *sql.Tx, id int64) (domain.Guard, error) {
	g, err := e.Directory.GetGuardTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Guard{ID: id}, nil
	}
	return g, err
}
