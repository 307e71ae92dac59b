package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

// conn joins the caller's transaction when one is open so that the audit
// write commits or rolls back with the operation it describes.
func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryCols = `id, user_id, table_name, record_id, action, old_values, new_values, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID, &e.UserID, &e.TableName, &e.RecordID, &e.Action,
		&e.OldValues, &e.NewValues, &e.CreatedAt,
	)
	return &e, err
}

func (r *RepoPG) Create(ctx context.Context, e *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (id, user_id, table_name, record_id, action, old_values, new_values, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.TableName, e.RecordID, e.Action, e.OldValues, e.NewValues, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_log WHERE id = $1", entryCols)
	return scanEntry(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *RepoPG) ListByRecord(ctx context.Context, tableName string, recordID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_log WHERE table_name = $1 AND record_id = $2",
		tableName, recordID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM audit_log
		WHERE table_name = $1 AND record_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, entryCols)
	rows, err := r.conn(ctx).Query(ctx, q, tableName, recordID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *RepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if v, ok := params["user_id"]; ok {
		where = append(where, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["table"]; ok {
		where = append(where, fmt.Sprintf("table_name = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["action"]; ok {
		where = append(where, fmt.Sprintf("action = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["from"]; ok {
		where = append(where, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["to"]; ok {
		where = append(where, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, v)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_log" + whereClause
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM audit_log%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		entryCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
