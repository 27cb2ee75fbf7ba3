package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftline/internal/config"
	"shiftline/internal/domain"
	"shiftline/internal/engine/auth"
)

func TestOpenAuthorize(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	a, err := Open(ctx, Options{Workspace: t.TempDir(), LogOutput: &logs})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	now := domain.FormatTime(time.Now())
	_, err = a.Repo.UpsertGuard(ctx, domain.Guard{ID: 1, Role: domain.RoleGuard, Active: true}, now)
	require.NoError(t, err)
	_, err = a.Repo.UpsertGuard(ctx, domain.Guard{ID: 2, Role: domain.RoleAdmin, Active: false}, now)
	require.NoError(t, err)

	g, err := a.Authorize(ctx, 1, auth.PermShiftStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.ID)

	_, err = a.Authorize(ctx, 1, auth.PermShiftDelete)
	assert.ErrorAs(t, err, &auth.ForbiddenError{})

	_, err = a.Authorize(ctx, 2, auth.PermShiftDelete)
	assert.ErrorAs(t, err, &auth.InactiveError{})

	_, err = a.Authorize(ctx, 404, auth.PermShiftRead)
	assert.ErrorIs(t, err, ErrUnknownPrincipal)
}

func TestLoadConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("summary:\n  description_limit: 40\n"), 0o644))

	cfg, err := LoadConfig(Options{Workspace: dir, ConfigPath: path, LogLevel: "DEBUG"})
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Summary.DescriptionLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.Default().Session.MaxRetries, cfg.Session.MaxRetries)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "warn", "json").Info("dropped")
	assert.Empty(t, buf.String())

	NewLogger(&buf, "warn", "json").Warn("kept", "shift_id", 7)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, float64(7), rec["shift_id"])
}
