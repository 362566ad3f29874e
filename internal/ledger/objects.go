package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sealgate/internal/errs"
)

const objectColumns = "id, type, owner, version, fields"

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// GetObject returns the latest version of an object.
func (s *Store) GetObject(ctx context.Context, id string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Object{}, errs.New(errs.InvalidInput, "object id is required")
	}
	obj, err := getObject(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Object{}, errs.New(errs.NotFound, "object %s not found", id)
	}
	return obj, err
}

// GetOwnedObjectsByType lists objects of exactly typ owned by owner, in
// creation order.
func (s *Store) GetOwnedObjectsByType(ctx context.Context, owner string, typ TypeTag) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errs.New(errs.InvalidInput, "owner is required")
	}
	return listObjects(ctx, s.db, "SELECT "+objectColumns+" FROM objects WHERE owner = ? AND type = ? ORDER BY seq", owner, string(typ))
}

// ListObjectsByType lists every object of typ regardless of owner.
func (s *Store) ListObjectsByType(ctx context.Context, typ TypeTag) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return listObjects(ctx, s.db, "SELECT "+objectColumns+" FROM objects WHERE type = ? ORDER BY seq", string(typ))
}

func getObject(ctx context.Context, q queryer, id string) (Object, error) {
	return scanObject(q.QueryRowContext(ctx, "SELECT "+objectColumns+" FROM objects WHERE id = ?", id))
}

func objectExists(ctx context.Context, q queryer, id string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM objects WHERE id = ? LIMIT 1", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func listObjects(ctx context.Context, q queryer, query string, args ...any) ([]Object, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Object{}
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

func scanObject(row rowScanner) (Object, error) {
	var (
		obj    Object
		typ    string
		fields string
	)
	if err := row.Scan(&obj.ID, &typ, &obj.Owner, &obj.Version, &fields); err != nil {
		return Object{}, err
	}
	obj.Type = TypeTag(typ)
	obj.Fields = []byte(fields)
	return obj, nil
}
