package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// -- consumables --

type ConsumableRepoPG struct {
	pool *pgxpool.Pool
}

func NewConsumableRepoPG(pool *pgxpool.Pool) *ConsumableRepoPG {
	return &ConsumableRepoPG{pool: pool}
}

func (r *ConsumableRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consumable, error) {
	var c Consumable
	err := conn(ctx, r.pool).QueryRow(ctx,
		"SELECT id, name, unit, reorder_level FROM consumables WHERE id = $1", id,
	).Scan(&c.ID, &c.Name, &c.Unit, &c.ReorderLevel)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConsumableRepoPG) List(ctx context.Context) ([]*Consumable, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		"SELECT id, name, unit, reorder_level FROM consumables ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query consumables: %w", err)
	}
	defer rows.Close()

	var out []*Consumable
	for rows.Next() {
		var c Consumable
		if err := rows.Scan(&c.ID, &c.Name, &c.Unit, &c.ReorderLevel); err != nil {
			return nil, fmt.Errorf("scan consumable: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consumables: %w", err)
	}
	return out, nil
}

// -- stock batches --

type BatchRepoPG struct {
	pool *pgxpool.Pool
}

func NewBatchRepoPG(pool *pgxpool.Pool) *BatchRepoPG {
	return &BatchRepoPG{pool: pool}
}

const batchCols = `id, consumable_id, batch_number, supplier, quantity_received,
	quantity_remaining, unit_cost, manufacture_date, expiry_date, location,
	status, received_by, received_at, updated_at`

func scanBatch(row pgx.Row) (*StockBatch, error) {
	var b StockBatch
	err := row.Scan(
		&b.ID, &b.ConsumableID, &b.BatchNumber, &b.Supplier, &b.QuantityReceived,
		&b.QuantityRemaining, &b.UnitCost, &b.ManufactureDate, &b.ExpiryDate, &b.Location,
		&b.Status, &b.ReceivedBy, &b.ReceivedAt, &b.UpdatedAt,
	)
	return &b, err
}

func (r *BatchRepoPG) Create(ctx context.Context, b *StockBatch) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO stock_batches (id, consumable_id, batch_number, supplier, quantity_received,
			quantity_remaining, unit_cost, manufacture_date, expiry_date, location,
			status, received_by, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		b.ID, b.ConsumableID, b.BatchNumber, b.Supplier, b.QuantityReceived,
		b.QuantityRemaining, b.UnitCost, b.ManufactureDate, b.ExpiryDate, b.Location,
		b.Status, b.ReceivedBy, b.ReceivedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock batch: %w", err)
	}
	return nil
}

func (r *BatchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StockBatch, error) {
	q := fmt.Sprintf("SELECT %s FROM stock_batches WHERE id = $1", batchCols)
	return scanBatch(conn(ctx, r.pool).QueryRow(ctx, q, id))
}

func (r *BatchRepoPG) ExistsByNumber(ctx context.Context, consumableID uuid.UUID, batchNumber string) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM stock_batches WHERE consumable_id = $1 AND batch_number = $2)",
		consumableID, batchNumber,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check batch number: %w", err)
	}
	return exists, nil
}

func (r *BatchRepoPG) ListByConsumable(ctx context.Context, consumableID uuid.UUID, limit, offset int) ([]*StockBatch, int, error) {
	var total int
	err := conn(ctx, r.pool).QueryRow(ctx,
		"SELECT COUNT(*) FROM stock_batches WHERE consumable_id = $1", consumableID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count stock batches: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM stock_batches WHERE consumable_id = $1
		ORDER BY expiry_date, received_at LIMIT $2 OFFSET $3`, batchCols)
	rows, err := conn(ctx, r.pool).Query(ctx, q, consumableID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query stock batches: %w", err)
	}
	defer rows.Close()

	batches, err := collectBatches(rows)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// SelectForAllocation implements the FIFO pick. The row lock serializes
// concurrent allocations against the same batch; the expiry predicate keeps
// expired stock ineligible even before a sweep has flipped its status.
func (r *BatchRepoPG) SelectForAllocation(ctx context.Context, consumableID uuid.UUID, quantity int, asOf time.Time) (*StockBatch, error) {
	q := fmt.Sprintf(`SELECT %s FROM stock_batches
		WHERE consumable_id = $1
			AND status = $2
			AND quantity_remaining >= $3
			AND expiry_date > $4
		ORDER BY expiry_date ASC, received_at ASC
		LIMIT 1
		FOR UPDATE`, batchCols)

	b, err := scanBatch(conn(ctx, r.pool).QueryRow(ctx, q, consumableID, StatusActive, quantity, asOf))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoBatch
	}
	if err != nil {
		return nil, fmt.Errorf("select batch for allocation: %w", err)
	}
	return b, nil
}

func (r *BatchRepoPG) Decrement(ctx context.Context, batchID uuid.UUID, quantity int, at time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE stock_batches
		SET quantity_remaining = quantity_remaining - $2, updated_at = $3
		WHERE id = $1 AND quantity_remaining >= $2`,
		batchID, quantity, at,
	)
	if err != nil {
		return 0, fmt.Errorf("decrement batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *BatchRepoPG) MarkExpired(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		UPDATE stock_batches
		SET status = $1, updated_at = $2
		WHERE status = $3 AND expiry_date <= $2
		RETURNING id`,
		StatusExpired, asOf, StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("mark expired batches: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired batch id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired batch ids: %w", err)
	}
	return ids, nil
}

func (r *BatchRepoPG) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*StockBatch, error) {
	q := fmt.Sprintf(`SELECT %s FROM stock_batches
		WHERE status = $1 AND expiry_date <= $2
		ORDER BY expiry_date`, batchCols)
	rows, err := conn(ctx, r.pool).Query(ctx, q, StatusActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expiring batches: %w", err)
	}
	defer rows.Close()

	return collectBatches(rows)
}

func (r *BatchRepoPG) SumRemaining(ctx context.Context, consumableID uuid.UUID) (int, decimal.Decimal, error) {
	var total int
	var value decimal.Decimal
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity_remaining), 0),
			COALESCE(SUM(quantity_remaining * unit_cost), 0)
		FROM stock_batches
		WHERE consumable_id = $1 AND status = $2`,
		consumableID, StatusActive,
	).Scan(&total, &value)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("sum remaining stock: %w", err)
	}
	return total, value, nil
}

func collectBatches(rows pgx.Rows) ([]*StockBatch, error) {
	var batches []*StockBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock batches: %w", err)
	}
	return batches, nil
}

// -- usage records --

type UsageRepoPG struct {
	pool *pgxpool.Pool
}

func NewUsageRepoPG(pool *pgxpool.Pool) *UsageRepoPG {
	return &UsageRepoPG{pool: pool}
}

const usageCols = `id, batch_id, consumable_id, visit_id, quantity_used, used_by, location, notes, recorded_at`

func scanUsage(row pgx.Row) (*UsageRecord, error) {
	var u UsageRecord
	err := row.Scan(
		&u.ID, &u.BatchID, &u.ConsumableID, &u.VisitID, &u.QuantityUsed,
		&u.UsedBy, &u.Location, &u.Notes, &u.RecordedAt,
	)
	return &u, err
}

func (r *UsageRepoPG) Create(ctx context.Context, u *UsageRecord) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO usage_records (id, batch_id, consumable_id, visit_id, quantity_used,
			used_by, location, notes, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.BatchID, u.ConsumableID, u.VisitID, u.QuantityUsed,
		u.UsedBy, u.Location, u.Notes, u.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (r *UsageRepoPG) ListByBatch(ctx context.Context, batchID uuid.UUID, limit, offset int) ([]*UsageRecord, int, error) {
	var total int
	err := conn(ctx, r.pool).QueryRow(ctx,
		"SELECT COUNT(*) FROM usage_records WHERE batch_id = $1", batchID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count usage records: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM usage_records WHERE batch_id = $1
		ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`, usageCols)
	rows, err := conn(ctx, r.pool).Query(ctx, q, batchID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var out []*UsageRecord
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan usage record: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate usage records: %w", err)
	}
	return out, total, nil
}

func (r *UsageRepoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*UsageRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM usage_records WHERE visit_id = $1
		ORDER BY recorded_at`, usageCols)
	rows, err := conn(ctx, r.pool).Query(ctx, q, visitID)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var out []*UsageRecord
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage records: %w", err)
	}
	return out, nil
}
