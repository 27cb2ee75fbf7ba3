package repo

import (
	"context"
	"database/sql"
	"fmt"

	"shiftline/internal/domain"
)

const guardColumns = `id,full_name,COALESCE(phone,''),role,is_active,object_id,created_at,updated_at`

func scanGuard(row rowScanner) (domain.Guard, error) {
	var g domain.Guard
	var active int
	var objectID sql.NullInt64
	if err := row.Scan(&g.ID, &g.FullName, &g.Phone, &g.Role, &active, &objectID, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return domain.Guard{}, notFound(err)
	}
	g.Active = active != 0
	g.ObjectID = int64Ptr(objectID)
	return g, nil
}

// UpsertGuard inserts or replaces the directory entry for g.ID.
func (r Repo) UpsertGuard(ctx context.Context, g domain.Guard, now string) (domain.Guard, error) {
	if g.ID == 0 {
		return domain.Guard{}, fmt.Errorf("guard id required")
	}
	if g.Role == "" {
		g.Role = domain.RoleGuard
	}
	if !g.Role.Valid() {
		return domain.Guard{}, fmt.Errorf("invalid role %q", g.Role)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO guards(id,full_name,phone,role,is_active,object_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET full_name=excluded.full_name, phone=excluded.phone, role=excluded.role,
  is_active=excluded.is_active, object_id=excluded.object_id, updated_at=excluded.updated_at`,
		g.ID, g.FullName, nullable(g.Phone), g.Role, boolInt(g.Active), nullableInt64Ptr(g.ObjectID), now, now)
	if err != nil {
		return domain.Guard{}, err
	}
	return r.GetGuard(ctx, g.ID)
}

func (r Repo) GetGuard(ctx context.Context, id int64) (domain.Guard, error) {
	return getGuard(ctx, r.DB, id)
}

func (r Repo) GetGuardTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Guard, error) {
	return getGuard(ctx, tx, id)
}

func getGuard(ctx context.Context, q Querier, id int64) (domain.Guard, error) {
	return scanGuard(q.QueryRowContext(ctx, `SELECT `+guardColumns+` FROM guards WHERE id=?`, id))
}

type GuardFilters struct {
	ObjectID   *int64
	Role       domain.Role
	ActiveOnly bool
}

func (r Repo) ListGuards(ctx context.Context, f GuardFilters) ([]domain.Guard, error) {
	var clauses []string
	var args []any
	if f.ObjectID != nil {
		clauses = append(clauses, "object_id=?")
		args = append(args, *f.ObjectID)
	}
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, f.Role)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+guardColumns+` FROM guards`+whereClause(clauses)+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Guard
	for rows.Next() {
		g, err := scanGuard(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

const objectColumns = `id,name,is_active,protection_type,created_at,updated_at`

func scanObject(row rowScanner) (domain.SecurityObject, error) {
	var o domain.SecurityObject
	var active int
	if err := row.Scan(&o.ID, &o.Name, &active, &o.ProtectionType, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.SecurityObject{}, notFound(err)
	}
	o.Active = active != 0
	return o, nil
}

// UpsertObject inserts or replaces the site registry entry for o.ID.
func (r Repo) UpsertObject(ctx context.Context, o domain.SecurityObject, now string) (domain.SecurityObject, error) {
	if o.ID == 0 {
		return domain.SecurityObject{}, fmt.Errorf("object id required")
	}
	if o.Name == "" {
		return domain.SecurityObject{}, fmt.Errorf("object name required")
	}
	if o.ProtectionType == "" {
		o.ProtectionType = domain.ProtectionShift
	}
	if !o.ProtectionType.Valid() {
		return domain.SecurityObject{}, fmt.Errorf("invalid protection type %q", o.ProtectionType)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO security_objects(id,name,is_active,protection_type,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, is_active=excluded.is_active,
  protection_type=excluded.protection_type, updated_at=excluded.updated_at`,
		o.ID, o.Name, boolInt(o.Active), o.ProtectionType, now, now)
	if err != nil {
		return domain.SecurityObject{}, err
	}
	return r.GetObject(ctx, o.ID)
}

func (r Repo) GetObject(ctx context.Context, id int64) (domain.SecurityObject, error) {
	return getObject(ctx, r.DB, id)
}

func (r Repo) GetObjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.SecurityObject, error) {
	return getObject(ctx, tx, id)
}

func getObject(ctx context.Context, q Querier, id int64) (domain.SecurityObject, error) {
	return scanObject(q.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM security_objects WHERE id=?`, id))
}

func (r Repo) ListObjects(ctx context.Context, activeOnly bool) ([]domain.SecurityObject, error) {
	query := `SELECT ` + objectColumns + ` FROM security_objects`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SecurityObject
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}
