package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/audit"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/clock"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/errs"
)

// Service owns the stock ledger. Allocation is first-expiring-first-out and
// draws from a single batch: a request no single batch can cover fails even
// when the sum across batches would suffice.
type Service struct {
	consumables ConsumableRepository
	batches     BatchRepository
	usage       UsageRepository
	audit       audit.Recorder
	runTx       db.Runner
	clk         clock.Clock
}

func NewService(
	consumables ConsumableRepository,
	batches BatchRepository,
	usage UsageRepository,
	recorder audit.Recorder,
	runTx db.Runner,
	clk clock.Clock,
) *Service {
	return &Service{
		consumables: consumables,
		batches:     batches,
		usage:       usage,
		audit:       recorder,
		runTx:       runTx,
		clk:         clk,
	}
}

// ReceiveStock registers a new batch with its full quantity remaining.
func (s *Service) ReceiveStock(ctx context.Context, caller auth.Identity, b *StockBatch) error {
	if b.ConsumableID == uuid.Nil {
		return errs.E(errs.KindValidation, "consumable_id is required")
	}
	if b.BatchNumber == "" {
		return errs.E(errs.KindValidation, "batch_number is required")
	}
	if b.QuantityReceived <= 0 {
		return errs.E(errs.KindValidation, "quantity_received must be greater than 0")
	}
	if b.UnitCost.IsNegative() {
		return errs.E(errs.KindValidation, "unit_cost must not be negative")
	}
	if b.ExpiryDate.IsZero() {
		return errs.E(errs.KindValidation, "expiry_date is required")
	}
	if b.ManufactureDate != nil && !b.ExpiryDate.After(*b.ManufactureDate) {
		return errs.E(errs.KindValidation, "expiry_date must be after manufacture_date")
	}

	return s.runTx(ctx, func(ctx context.Context) error {
		if _, err := s.consumables.GetByID(ctx, b.ConsumableID); err != nil {
			return errs.E(errs.KindNotFound, "consumable %s not found", b.ConsumableID)
		}

		exists, err := s.batches.ExistsByNumber(ctx, b.ConsumableID, b.BatchNumber)
		if err != nil {
			return err
		}
		if exists {
			return errs.E(errs.KindDuplicateBatch,
				"batch %q already exists for consumable %s", b.BatchNumber, b.ConsumableID)
		}

		now := s.clk.Now()
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.QuantityRemaining = b.QuantityReceived
		b.Status = StatusActive
		b.ReceivedBy = caller.UserID
		b.ReceivedAt = now
		b.UpdatedAt = now

		if err := s.batches.Create(ctx, b); err != nil {
			return err
		}
		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "stock_batches",
			RecordID:  b.ID,
			Action:    audit.ActionCreate,
			NewValues: map[string]interface{}{
				"batch_number":      b.BatchNumber,
				"quantity_received": b.QuantityReceived,
				"expiry_date":       b.ExpiryDate,
			},
		})
	})
}

// RecordUsage allocates stock FIFO from a single batch: the eligible batch
// with the earliest expiry (received-at breaking ties) is locked, checked
// and decremented inside one transaction, and a usage record plus audit
// entry commit with it.
func (s *Service) RecordUsage(ctx context.Context, caller auth.Identity, req UsageRequest) (*UsageRecord, error) {
	if req.ConsumableID == uuid.Nil {
		return nil, errs.E(errs.KindValidation, "consumable_id is required")
	}
	if req.Quantity <= 0 {
		return nil, errs.E(errs.KindValidation, "quantity must be greater than 0")
	}

	var rec *UsageRecord
	err := s.runTx(ctx, func(ctx context.Context) error {
		if _, err := s.consumables.GetByID(ctx, req.ConsumableID); err != nil {
			return errs.E(errs.KindNotFound, "consumable %s not found", req.ConsumableID)
		}

		now := s.clk.Now()
		batch, err := s.batches.SelectForAllocation(ctx, req.ConsumableID, req.Quantity, now)
		if errors.Is(err, ErrNoBatch) {
			return errs.E(errs.KindInsufficientStock,
				"no single active batch holds %d units of consumable %s", req.Quantity, req.ConsumableID)
		}
		if err != nil {
			return err
		}

		affected, err := s.batches.Decrement(ctx, batch.ID, req.Quantity, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			// Guard lost to a concurrent allocation after selection.
			return errs.E(errs.KindConcurrencyConflict,
				"batch %s was drawn down concurrently", batch.ID)
		}

		rec = &UsageRecord{
			ID:           uuid.New(),
			BatchID:      batch.ID,
			ConsumableID: req.ConsumableID,
			VisitID:      req.VisitID,
			QuantityUsed: req.Quantity,
			UsedBy:       caller.UserID,
			Location:     req.Location,
			Notes:        req.Notes,
			RecordedAt:   now,
		}
		if err := s.usage.Create(ctx, rec); err != nil {
			return err
		}

		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "stock_batches",
			RecordID:  batch.ID,
			Action:    audit.ActionUpdate,
			OldValues: map[string]interface{}{"quantity_remaining": batch.QuantityRemaining},
			NewValues: map[string]interface{}{"quantity_remaining": batch.QuantityRemaining - req.Quantity},
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ExpirySweep flips every Active batch past its expiry date to Expired.
// Idempotent; safe to run on a schedule or on demand.
func (s *Service) ExpirySweep(ctx context.Context, caller auth.Identity, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.clk.Now()
	}

	var expired []uuid.UUID
	err := s.runTx(ctx, func(ctx context.Context) error {
		var err error
		expired, err = s.batches.MarkExpired(ctx, asOf)
		if err != nil {
			return err
		}
		for _, id := range expired {
			entry := &audit.Entry{
				UserID:    &caller.UserID,
				TableName: "stock_batches",
				RecordID:  id,
				Action:    audit.ActionUpdate,
				OldValues: map[string]interface{}{"status": StatusActive},
				NewValues: map[string]interface{}{"status": StatusExpired},
			}
			if err := s.audit.Record(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

// ExpiryAlerts lists Active batches expiring within daysAhead days, graded
// Critical (30 days or less), Warning (60) or Notice (beyond).
func (s *Service) ExpiryAlerts(ctx context.Context, daysAhead int) ([]*ExpiryAlert, error) {
	if daysAhead <= 0 {
		return nil, errs.E(errs.KindValidation, "days_ahead must be greater than 0")
	}

	now := s.clk.Now()
	cutoff := now.AddDate(0, 0, daysAhead)
	batches, err := s.batches.ListExpiringBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	alerts := make([]*ExpiryAlert, 0, len(batches))
	for _, b := range batches {
		days := int(b.ExpiryDate.Sub(now).Hours() / 24)
		level := AlertNotice
		switch {
		case days <= 30:
			level = AlertCritical
		case days <= 60:
			level = AlertWarning
		}
		alerts = append(alerts, &ExpiryAlert{
			BatchID:           b.ID,
			ConsumableID:      b.ConsumableID,
			BatchNumber:       b.BatchNumber,
			QuantityRemaining: b.QuantityRemaining,
			ExpiryDate:        b.ExpiryDate,
			DaysUntilExpiry:   days,
			Level:             level,
		})
	}
	return alerts, nil
}

// Valuation totals a consumable's remaining stock at cost and flags it when
// it has fallen below the reorder level.
func (s *Service) Valuation(ctx context.Context, consumableID uuid.UUID) (*Valuation, error) {
	c, err := s.consumables.GetByID(ctx, consumableID)
	if err != nil {
		return nil, errs.E(errs.KindNotFound, "consumable %s not found", consumableID)
	}

	total, value, err := s.batches.SumRemaining(ctx, consumableID)
	if err != nil {
		return nil, err
	}
	return &Valuation{
		ConsumableID:   consumableID,
		TotalRemaining: total,
		TotalValue:     value,
		ReorderLevel:   c.ReorderLevel,
		BelowReorder:   total < c.ReorderLevel,
	}, nil
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*StockBatch, error) {
	b, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, errs.E(errs.KindNotFound, "stock batch %s not found", id)
	}
	return b, nil
}

func (s *Service) ListBatches(ctx context.Context, consumableID uuid.UUID, limit, offset int) ([]*StockBatch, int, error) {
	return s.batches.ListByConsumable(ctx, consumableID, limit, offset)
}

func (s *Service) ListConsumables(ctx context.Context) ([]*Consumable, error) {
	return s.consumables.List(ctx)
}

func (s *Service) ListUsageByBatch(ctx context.Context, batchID uuid.UUID, limit, offset int) ([]*UsageRecord, int, error) {
	return s.usage.ListByBatch(ctx, batchID, limit, offset)
}

func (s *Service) ListUsageByVisit(ctx context.Context, visitID uuid.UUID) ([]*UsageRecord, error) {
	return s.usage.ListByVisit(ctx, visitID)
}
