package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tasksTable = "anqueue_tasks"

// uniqueViolation is the Postgres SQLSTATE for a unique-constraint failure.
const uniqueViolation = "23505"

// PostgresAdapter is the relational implementation of Adapter, backed by a
// pgxpool connection pool.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// NewPostgresAdapter wraps an already-configured pool.
func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

// EnsureSchema creates the backing table if it does not exist.
func (a *PostgresAdapter) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+tasksTable+` (
    uid          TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    name         TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'pending',
    data         JSONB,
    error        TEXT NOT NULL DEFAULT '',
    user_id      TEXT NOT NULL DEFAULT '',
    started_at   BIGINT,
    finished_at BIGINT,
    metadata     JSONB
)`)
	if err != nil {
		return fmt.Errorf("ensure task schema: %w", err)
	}
	_, err = a.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_anqueue_tasks_status ON `+tasksTable+` (status)`)
	if err != nil {
		return fmt.Errorf("ensure task index: %w", err)
	}
	return nil
}

func uidFromWhere(where Where) (string, error) {
	v, ok := where["uid"]
	if !ok {
		return "", fmt.Errorf("postgres adapter: where clause must include uid")
	}
	uid, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("postgres adapter: uid must be a string")
	}
	return uid, nil
}

func (a *PostgresAdapter) FindFirst(ctx context.Context, where Where) (*Row, error) {
	uid, err := uidFromWhere(where)
	if err != nil {
		return nil, err
	}
	row := a.pool.QueryRow(ctx, selectColumns()+` FROM `+tasksTable+` WHERE uid = $1`, uid)
	r, err := scanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return r, nil
}

func (a *PostgresAdapter) FindMany(ctx context.Context, where Where) ([]*Row, error) {
	query := selectColumns() + ` FROM ` + tasksTable
	var args []any
	if status, ok := where["status"]; ok {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) Create(ctx context.Context, row *Row) error {
	_, err := a.pool.Exec(ctx, `
INSERT INTO `+tasksTable+` (uid, type, name, description, status, data, error, user_id, started_at, finished_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		row.UID, row.Type, row.Name, row.Description, row.Status,
		marshalOrNil(row.Data), row.Error, row.UserID, row.StartedAt, row.CompletedAt,
		marshalOrNil(row.Metadata))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUniqueConflict
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) Update(ctx context.Context, where Where, patch *Row) error {
	uid, err := uidFromWhere(where)
	if err != nil {
		return err
	}
	tag, err := a.pool.Exec(ctx, `
UPDATE `+tasksTable+`
SET type = $2, name = $3, description = $4, status = $5, data = $6, error = $7,
    user_id = $8, started_at = $9, finished_at = $10, metadata = $11
WHERE uid = $1`,
		uid, patch.Type, patch.Name, patch.Description, patch.Status,
		marshalOrNil(patch.Data), patch.Error, patch.UserID, patch.StartedAt, patch.CompletedAt,
		marshalOrNil(patch.Metadata))
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *PostgresAdapter) Delete(ctx context.Context, where Where) error {
	uid, err := uidFromWhere(where)
	if err != nil {
		return err
	}
	tag, err := a.pool.Exec(ctx, `DELETE FROM `+tasksTable+` WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert tries Create first; on ErrUniqueConflict it falls back to
// Update(where, update) and returns the updated row, per §4.4's
// upsert-with-fallback contract.
func (a *PostgresAdapter) Upsert(ctx context.Context, where Where, update, create *Row) (*Row, error) {
	if err := a.Create(ctx, create); err == nil {
		return create, nil
	} else if !errors.Is(err, ErrUniqueConflict) {
		return nil, err
	}
	if err := a.Update(ctx, where, update); err != nil {
		return nil, err
	}
	return update, nil
}

func selectColumns() string {
	return `SELECT uid, type, name, description, status, data, error, user_id, started_at, finished_at, metadata`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(rs rowScanner) (*Row, error) {
	var r Row
	var dataJSON, metadataJSON []byte
	err := rs.Scan(&r.UID, &r.Type, &r.Name, &r.Description, &r.Status,
		&dataJSON, &r.Error, &r.UserID, &r.StartedAt, &r.CompletedAt, &metadataJSON)
	if err != nil {
		return nil, err
	}
	if dataJSON != nil {
		_ = json.Unmarshal(dataJSON, &r.Data)
	}
	if metadataJSON != nil {
		_ = json.Unmarshal(metadataJSON, &r.Metadata)
	}
	return &r, nil
}

func marshalOrNil(v any) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
