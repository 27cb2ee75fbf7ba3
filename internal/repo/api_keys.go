package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"shiftline/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed key issued to a front-end acting for a guard.
func (r Repo) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.GuardID == 0 {
		return errors.New("guard_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id, guard_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.GuardID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

func scanAPIKey(row rowScanner) (domain.APIKey, error) {
	var key domain.APIKey
	var name sql.NullString
	if err := row.Scan(&key.ID, &key.GuardID, &name, &key.KeyHash, &key.CreatedAt); err != nil {
		return domain.APIKey{}, notFound(err)
	}
	key.Name = name.String
	return key, nil
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	return scanAPIKey(r.DB.QueryRowContext(ctx, `SELECT id, guard_id, name, key_hash, created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash))
}

// ListAPIKeys returns API keys, optionally filtered by guard.
func (r Repo) ListAPIKeys(ctx context.Context, guardID int64) ([]domain.APIKey, error) {
	query := `SELECT id, guard_id, name, key_hash, created_at FROM api_keys`
	var args []any
	if guardID != 0 {
		query += ` WHERE guard_id=?`
		args = append(args, guardID)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey deletes an API key by ID.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
