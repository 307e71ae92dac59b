package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNoBatch is returned by SelectForAllocation when no single eligible
// batch can cover the requested quantity.
var ErrNoBatch = errors.New("no eligible batch")

type ConsumableRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Consumable, error)
	List(ctx context.Context) ([]*Consumable, error)
}

type BatchRepository interface {
	Create(ctx context.Context, b *StockBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*StockBatch, error)
	ExistsByNumber(ctx context.Context, consumableID uuid.UUID, batchNumber string) (bool, error)
	ListByConsumable(ctx context.Context, consumableID uuid.UUID, limit, offset int) ([]*StockBatch, int, error)
	// SelectForAllocation locks and returns the Active, unexpired batch with
	// the earliest expiry date (ties broken by earliest received date) whose
	// remaining quantity covers the request, or ErrNoBatch when none does.
	SelectForAllocation(ctx context.Context, consumableID uuid.UUID, quantity int, asOf time.Time) (*StockBatch, error)
	// Decrement subtracts quantity guarded by a remaining-quantity check and
	// reports how many rows matched. Zero means the guard lost a race.
	Decrement(ctx context.Context, batchID uuid.UUID, quantity int, at time.Time) (int64, error)
	// MarkExpired flips Active batches whose expiry date has passed asOf to
	// Expired and returns their ids.
	MarkExpired(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*StockBatch, error)
	// SumRemaining totals remaining quantity and its value at unit cost
	// across the consumable's Active batches.
	SumRemaining(ctx context.Context, consumableID uuid.UUID) (int, decimal.Decimal, error)
}

type UsageRepository interface {
	Create(ctx context.Context, u *UsageRecord) error
	ListByBatch(ctx context.Context, batchID uuid.UUID, limit, offset int) ([]*UsageRecord, int, error)
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*UsageRecord, error)
}
