package inventory

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/audit"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/clock"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/errs"
)

type mockConsumableRepo struct {
	consumables map[uuid.UUID]*Consumable
}

func (m *mockConsumableRepo) GetByID(_ context.Context, id uuid.UUID) (*Consumable, error) {
	c, ok := m.consumables[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return c, nil
}

func (m *mockConsumableRepo) List(_ context.Context) ([]*Consumable, error) {
	out := make([]*Consumable, 0, len(m.consumables))
	for _, c := range m.consumables {
		out = append(out, c)
	}
	return out, nil
}

type mockBatchRepo struct {
	batches       map[uuid.UUID]*StockBatch
	forceConflict bool
}

func (m *mockBatchRepo) Create(_ context.Context, b *StockBatch) error {
	m.batches[b.ID] = b
	return nil
}

func (m *mockBatchRepo) GetByID(_ context.Context, id uuid.UUID) (*StockBatch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return b, nil
}

func (m *mockBatchRepo) ExistsByNumber(_ context.Context, consumableID uuid.UUID, batchNumber string) (bool, error) {
	for _, b := range m.batches {
		if b.ConsumableID == consumableID && b.BatchNumber == batchNumber {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockBatchRepo) ListByConsumable(_ context.Context, consumableID uuid.UUID, limit, offset int) ([]*StockBatch, int, error) {
	var out []*StockBatch
	for _, b := range m.batches {
		if b.ConsumableID == consumableID {
			out = append(out, b)
		}
	}
	return out, len(out), nil
}

func (m *mockBatchRepo) SelectForAllocation(_ context.Context, consumableID uuid.UUID, quantity int, asOf time.Time) (*StockBatch, error) {
	var eligible []*StockBatch
	for _, b := range m.batches {
		if b.ConsumableID != consumableID || b.Status != StatusActive {
			continue
		}
		if !b.ExpiryDate.After(asOf) {
			continue
		}
		if b.QuantityRemaining < quantity {
			continue
		}
		eligible = append(eligible, b)
	}
	if len(eligible) == 0 {
		return nil, ErrNoBatch
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].ExpiryDate.Equal(eligible[j].ExpiryDate) {
			return eligible[i].ExpiryDate.Before(eligible[j].ExpiryDate)
		}
		return eligible[i].ReceivedAt.Before(eligible[j].ReceivedAt)
	})
	// Return a copy, the way a row scan would.
	cp := *eligible[0]
	return &cp, nil
}

func (m *mockBatchRepo) Decrement(_ context.Context, batchID uuid.UUID, quantity int, at time.Time) (int64, error) {
	if m.forceConflict {
		return 0, nil
	}
	b, ok := m.batches[batchID]
	if !ok || b.QuantityRemaining < quantity {
		return 0, nil
	}
	b.QuantityRemaining -= quantity
	b.UpdatedAt = at
	return 1, nil
}

func (m *mockBatchRepo) MarkExpired(_ context.Context, asOf time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, b := range m.batches {
		if b.Status == StatusActive && !b.ExpiryDate.After(asOf) {
			b.Status = StatusExpired
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

func (m *mockBatchRepo) ListExpiringBefore(_ context.Context, cutoff time.Time) ([]*StockBatch, error) {
	var out []*StockBatch
	for _, b := range m.batches {
		if b.Status == StatusActive && b.ExpiryDate.Before(cutoff) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBatchRepo) SumRemaining(_ context.Context, consumableID uuid.UUID) (int, decimal.Decimal, error) {
	total := 0
	value := decimal.Zero
	for _, b := range m.batches {
		if b.ConsumableID != consumableID || b.Status != StatusActive {
			continue
		}
		total += b.QuantityRemaining
		value = value.Add(b.UnitCost.Mul(decimal.NewFromInt(int64(b.QuantityRemaining))))
	}
	return total, value, nil
}

type mockUsageRepo struct {
	records []*UsageRecord
}

func (m *mockUsageRepo) Create(_ context.Context, u *UsageRecord) error {
	m.records = append(m.records, u)
	return nil
}

func (m *mockUsageRepo) ListByBatch(_ context.Context, batchID uuid.UUID, limit, offset int) ([]*UsageRecord, int, error) {
	var out []*UsageRecord
	for _, r := range m.records {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *mockUsageRepo) ListByVisit(_ context.Context, visitID uuid.UUID) ([]*UsageRecord, error) {
	var out []*UsageRecord
	for _, r := range m.records {
		if r.VisitID != nil && *r.VisitID == visitID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockRecorder struct {
	entries []*audit.Entry
	failing bool
}

func (m *mockRecorder) Record(_ context.Context, e *audit.Entry) error {
	if m.failing {
		return errors.New("audit insert failed")
	}
	m.entries = append(m.entries, e)
	return nil
}

type inventoryFixture struct {
	svc          *Service
	consumables  *mockConsumableRepo
	batches      *mockBatchRepo
	usage        *mockUsageRepo
	recorder     *mockRecorder
	clk          *clock.Fixed
	consumableID uuid.UUID
	nurse        auth.Identity
}

func newInventoryFixture(t *testing.T) *inventoryFixture {
	t.Helper()

	consumableID := uuid.New()
	f := &inventoryFixture{
		consumables: &mockConsumableRepo{consumables: map[uuid.UUID]*Consumable{
			consumableID: {ID: consumableID, Name: "Gauze Swabs", Unit: "pack", ReorderLevel: 20},
		}},
		batches:      &mockBatchRepo{batches: map[uuid.UUID]*StockBatch{}},
		usage:        &mockUsageRepo{},
		recorder:     &mockRecorder{},
		clk:          clock.NewFixed(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
		consumableID: consumableID,
		nurse:        auth.Identity{UserID: uuid.New(), Role: auth.RoleNurse},
	}
	f.svc = NewService(f.consumables, f.batches, f.usage, f.recorder, db.Passthrough(), f.clk)
	return f
}

func (f *inventoryFixture) addBatch(remaining int, expiry, received time.Time) *StockBatch {
	b := &StockBatch{
		ID:                uuid.New(),
		ConsumableID:      f.consumableID,
		BatchNumber:       uuid.NewString()[:8],
		QuantityReceived:  remaining,
		QuantityRemaining: remaining,
		UnitCost:          decimal.NewFromFloat(2.50),
		ExpiryDate:        expiry,
		Status:            StatusActive,
		ReceivedAt:        received,
	}
	f.batches.batches[b.ID] = b
	return b
}

func TestReceiveStock(t *testing.T) {
	f := newInventoryFixture(t)

	b := &StockBatch{
		ConsumableID:     f.consumableID,
		BatchNumber:      "GS-2025-001",
		QuantityReceived: 100,
		UnitCost:         decimal.NewFromFloat(2.50),
		ExpiryDate:       f.clk.Now().AddDate(1, 0, 0),
	}
	if err := f.svc.ReceiveStock(context.Background(), f.nurse, b); err != nil {
		t.Fatalf("ReceiveStock: %v", err)
	}

	if b.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if b.QuantityRemaining != 100 {
		t.Errorf("quantity_remaining = %d, want 100", b.QuantityRemaining)
	}
	if b.Status != StatusActive {
		t.Errorf("status = %q, want %q", b.Status, StatusActive)
	}
	if b.ReceivedBy != f.nurse.UserID {
		t.Error("received_by not stamped with caller")
	}
	if len(f.recorder.entries) != 1 || f.recorder.entries[0].Action != audit.ActionCreate {
		t.Fatalf("expected one create audit entry, got %d", len(f.recorder.entries))
	}
}

func TestReceiveStock_DuplicateBatchNumber(t *testing.T) {
	f := newInventoryFixture(t)
	existing := f.addBatch(50, f.clk.Now().AddDate(1, 0, 0), f.clk.Now())

	b := &StockBatch{
		ConsumableID:     f.consumableID,
		BatchNumber:      existing.BatchNumber,
		QuantityReceived: 30,
		ExpiryDate:       f.clk.Now().AddDate(1, 0, 0),
	}
	err := f.svc.ReceiveStock(context.Background(), f.nurse, b)
	if errs.KindOf(err) != errs.KindDuplicateBatch {
		t.Fatalf("kind = %v, want DuplicateBatch", errs.KindOf(err))
	}
}

func TestReceiveStock_Validation(t *testing.T) {
	f := newInventoryFixture(t)
	expiry := f.clk.Now().AddDate(1, 0, 0)
	manufactured := expiry.AddDate(0, 1, 0)

	cases := []struct {
		name  string
		batch StockBatch
	}{
		{"missing consumable", StockBatch{BatchNumber: "B1", QuantityReceived: 10, ExpiryDate: expiry}},
		{"missing batch number", StockBatch{ConsumableID: f.consumableID, QuantityReceived: 10, ExpiryDate: expiry}},
		{"zero quantity", StockBatch{ConsumableID: f.consumableID, BatchNumber: "B1", ExpiryDate: expiry}},
		{"negative cost", StockBatch{ConsumableID: f.consumableID, BatchNumber: "B1", QuantityReceived: 10, UnitCost: decimal.NewFromInt(-1), ExpiryDate: expiry}},
		{"missing expiry", StockBatch{ConsumableID: f.consumableID, BatchNumber: "B1", QuantityReceived: 10}},
		{"expiry before manufacture", StockBatch{ConsumableID: f.consumableID, BatchNumber: "B1", QuantityReceived: 10, ExpiryDate: expiry, ManufactureDate: &manufactured}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.batch
			err := f.svc.ReceiveStock(context.Background(), f.nurse, &b)
			if errs.KindOf(err) != errs.KindValidation {
				t.Fatalf("kind = %v, want Validation", errs.KindOf(err))
			}
		})
	}
}

func TestReceiveStock_ConsumableNotFound(t *testing.T) {
	f := newInventoryFixture(t)

	b := &StockBatch{
		ConsumableID:     uuid.New(),
		BatchNumber:      "B1",
		QuantityReceived: 10,
		ExpiryDate:       f.clk.Now().AddDate(1, 0, 0),
	}
	err := f.svc.ReceiveStock(context.Background(), f.nurse, b)
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("kind = %v, want NotFound", errs.KindOf(err))
	}
}

func TestRecordUsage_PicksEarliestExpiry(t *testing.T) {
	f := newInventoryFixture(t)
	now := f.clk.Now()

	// The later-received batch expires sooner and must be drawn first.
	f.addBatch(50, now.AddDate(0, 6, 0), now.AddDate(0, 0, -30))
	soonest := f.addBatch(50, now.AddDate(0, 1, 0), now.AddDate(0, 0, -1))

	rec, err := f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{
		ConsumableID: f.consumableID,
		Quantity:     10,
	})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if rec.BatchID != soonest.ID {
		t.Errorf("allocated from batch %s, want earliest-expiring %s", rec.BatchID, soonest.ID)
	}
	if soonest.QuantityRemaining != 40 {
		t.Errorf("quantity_remaining = %d, want 40", soonest.QuantityRemaining)
	}
	if len(f.recorder.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(f.recorder.entries))
	}
	if got := f.recorder.entries[0].NewValues["quantity_remaining"]; got != 40 {
		t.Errorf("audited quantity_remaining = %v, want 40", got)
	}
}

func TestRecordUsage_ExpiryTieBrokenByReceivedAt(t *testing.T) {
	f := newInventoryFixture(t)
	now := f.clk.Now()
	expiry := now.AddDate(0, 3, 0)

	f.addBatch(50, expiry, now.AddDate(0, 0, -5))
	oldest := f.addBatch(50, expiry, now.AddDate(0, 0, -10))

	rec, err := f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{
		ConsumableID: f.consumableID,
		Quantity:     10,
	})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if rec.BatchID != oldest.ID {
		t.Errorf("allocated from batch %s, want earliest-received %s", rec.BatchID, oldest.ID)
	}
}

func TestRecordUsage_NoSplitAcrossBatches(t *testing.T) {
	f := newInventoryFixture(t)
	now := f.clk.Now()

	// 10 units on hand in total, but no single batch holds 8.
	f.addBatch(5, now.AddDate(0, 1, 0), now.AddDate(0, 0, -10))
	f.addBatch(5, now.AddDate(0, 2, 0), now.AddDate(0, 0, -5))

	_, err := f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{
		ConsumableID: f.consumableID,
		Quantity:     8,
	})
	if errs.KindOf(err) != errs.KindInsufficientStock {
		t.Fatalf("kind = %v, want InsufficientStock", errs.KindOf(err))
	}
	if len(f.usage.records) != 0 {
		t.Error("no usage record should be written on a failed allocation")
	}
}

func TestRecordUsage_SkipsExpiredBatch(t *testing.T) {
	f := newInventoryFixture(t)
	now := f.clk.Now()

	// Expired stock is ineligible even while still marked Active.
	f.addBatch(50, now.AddDate(0, 0, -1), now.AddDate(0, -6, 0))
	fresh := f.addBatch(20, now.AddDate(0, 3, 0), now.AddDate(0, 0, -1))

	rec, err := f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{
		ConsumableID: f.consumableID,
		Quantity:     10,
	})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if rec.BatchID != fresh.ID {
		t.Errorf("allocated from batch %s, want unexpired %s", rec.BatchID, fresh.ID)
	}
}

func TestRecordUsage_InsufficientStock(t *testing.T) {
	f := newInventoryFixture(t)

	_, err := f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{
		ConsumableID: f.consumableID,
		Quantity:     1,
	})
	if errs.KindOf(err) != errs.KindInsufficientStock {
		t.Fatalf("kind = %v, want InsufficientStock", errs.KindOf(err))
	}
}

func TestRecordUsage_ConcurrentDrawdown(t *testing.T) {
	f := newInventoryFixture(t)
	f.addBatch(50, f.clk.Now().AddDate(0, 3, 0), f.clk.Now())
	f.batches.forceConflict = true

	_, err := f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{
		ConsumableID: f.consumableID,
		Quantity:     10,
	})
	if errs.KindOf(err) != errs.KindConcurrencyConflict {
		t.Fatalf("kind = %v, want ConcurrencyConflict", errs.KindOf(err))
	}
}

func TestRecordUsage_Validation(t *testing.T) {
	f := newInventoryFixture(t)

	_, err := f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{Quantity: 1})
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("missing consumable: kind = %v, want Validation", errs.KindOf(err))
	}

	_, err = f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{ConsumableID: f.consumableID})
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("zero quantity: kind = %v, want Validation", errs.KindOf(err))
	}
}

func TestRecordUsage_AuditFailurePropagates(t *testing.T) {
	f := newInventoryFixture(t)
	f.addBatch(50, f.clk.Now().AddDate(0, 3, 0), f.clk.Now())
	f.recorder.failing = true

	_, err := f.svc.RecordUsage(context.Background(), f.nurse, UsageRequest{
		ConsumableID: f.consumableID,
		Quantity:     10,
	})
	if err == nil {
		t.Fatal("expected error when the audit write fails")
	}
}

func TestExpirySweep(t *testing.T) {
	f := newInventoryFixture(t)
	now := f.clk.Now()

	stale := f.addBatch(10, now.AddDate(0, 0, -2), now.AddDate(0, -6, 0))
	f.addBatch(10, now.AddDate(0, 3, 0), now)

	count, err := f.svc.ExpirySweep(context.Background(), f.nurse, time.Time{})
	if err != nil {
		t.Fatalf("ExpirySweep: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired = %d, want 1", count)
	}
	if stale.Status != StatusExpired {
		t.Errorf("status = %q, want %q", stale.Status, StatusExpired)
	}
	if len(f.recorder.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(f.recorder.entries))
	}

	// A second sweep finds nothing left to flip.
	count, err = f.svc.ExpirySweep(context.Background(), f.nurse, time.Time{})
	if err != nil {
		t.Fatalf("second ExpirySweep: %v", err)
	}
	if count != 0 {
		t.Errorf("second sweep expired = %d, want 0", count)
	}
}

func TestExpiryAlerts_Grading(t *testing.T) {
	f := newInventoryFixture(t)
	now := f.clk.Now()

	critical := f.addBatch(10, now.AddDate(0, 0, 10), now)
	warning := f.addBatch(10, now.AddDate(0, 0, 45), now)
	notice := f.addBatch(10, now.AddDate(0, 0, 75), now)
	f.addBatch(10, now.AddDate(0, 0, 120), now) // beyond the window

	alerts, err := f.svc.ExpiryAlerts(context.Background(), 90)
	if err != nil {
		t.Fatalf("ExpiryAlerts: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("alerts = %d, want 3", len(alerts))
	}

	levels := map[uuid.UUID]string{}
	for _, a := range alerts {
		levels[a.BatchID] = a.Level
	}
	if levels[critical.ID] != AlertCritical {
		t.Errorf("10-day batch level = %q, want %q", levels[critical.ID], AlertCritical)
	}
	if levels[warning.ID] != AlertWarning {
		t.Errorf("45-day batch level = %q, want %q", levels[warning.ID], AlertWarning)
	}
	if levels[notice.ID] != AlertNotice {
		t.Errorf("75-day batch level = %q, want %q", levels[notice.ID], AlertNotice)
	}
}

func TestExpiryAlerts_InvalidWindow(t *testing.T) {
	f := newInventoryFixture(t)

	_, err := f.svc.ExpiryAlerts(context.Background(), 0)
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("kind = %v, want Validation", errs.KindOf(err))
	}
}

func TestValuation(t *testing.T) {
	f := newInventoryFixture(t)
	now := f.clk.Now()

	f.addBatch(4, now.AddDate(0, 3, 0), now)
	f.addBatch(6, now.AddDate(0, 6, 0), now)

	v, err := f.svc.Valuation(context.Background(), f.consumableID)
	if err != nil {
		t.Fatalf("Valuation: %v", err)
	}
	if v.TotalRemaining != 10 {
		t.Errorf("total_remaining = %d, want 10", v.TotalRemaining)
	}
	if want := decimal.NewFromFloat(25.0); !v.TotalValue.Equal(want) {
		t.Errorf("total_value = %s, want %s", v.TotalValue, want)
	}
	if !v.BelowReorder {
		t.Error("expected below_reorder with 10 remaining against a reorder level of 20")
	}
}

func TestValuation_UnknownConsumable(t *testing.T) {
	f := newInventoryFixture(t)

	_, err := f.svc.Valuation(context.Background(), uuid.New())
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("kind = %v, want NotFound", errs.KindOf(err))
	}
}
