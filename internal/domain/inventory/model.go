package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Batch statuses.
const (
	StatusActive   = "Active"
	StatusExpired  = "Expired"
	StatusRecalled = "Recalled"
	StatusDisposed = "Disposed"
)

// Consumable is seeded reference data for one supply item.
type Consumable struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Unit         string    `db:"unit" json:"unit"`
	ReorderLevel int       `db:"reorder_level" json:"reorder_level"`
}

// StockBatch is a received lot of one consumable. QuantityRemaining never
// goes below zero and never exceeds QuantityReceived.
type StockBatch struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	ConsumableID      uuid.UUID       `db:"consumable_id" json:"consumable_id"`
	BatchNumber       string          `db:"batch_number" json:"batch_number"`
	Supplier          string          `db:"supplier" json:"supplier,omitempty"`
	QuantityReceived  int             `db:"quantity_received" json:"quantity_received"`
	QuantityRemaining int             `db:"quantity_remaining" json:"quantity_remaining"`
	UnitCost          decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ManufactureDate   *time.Time      `db:"manufacture_date" json:"manufacture_date,omitempty"`
	ExpiryDate        time.Time       `db:"expiry_date" json:"expiry_date"`
	Location          string          `db:"location" json:"location,omitempty"`
	Status            string          `db:"status" json:"status"`
	ReceivedBy        uuid.UUID       `db:"received_by" json:"received_by"`
	ReceivedAt        time.Time       `db:"received_at" json:"received_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// UsageRecord is one successful allocation drawn against a single batch.
type UsageRecord struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	BatchID      uuid.UUID  `db:"batch_id" json:"batch_id"`
	ConsumableID uuid.UUID  `db:"consumable_id" json:"consumable_id"`
	VisitID      *uuid.UUID `db:"visit_id" json:"visit_id,omitempty"`
	QuantityUsed int        `db:"quantity_used" json:"quantity_used"`
	UsedBy       uuid.UUID  `db:"used_by" json:"used_by"`
	Location     string     `db:"location" json:"location,omitempty"`
	Notes        string     `db:"notes" json:"notes,omitempty"`
	RecordedAt   time.Time  `db:"recorded_at" json:"recorded_at"`
}

// UsageRequest carries the parameters of one allocation.
type UsageRequest struct {
	ConsumableID uuid.UUID  `json:"consumable_id"`
	Quantity     int        `json:"quantity"`
	VisitID      *uuid.UUID `json:"visit_id,omitempty"`
	Location     string     `json:"location,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// Expiry alert levels by days until expiry.
const (
	AlertCritical = "Critical" // 30 days or less
	AlertWarning  = "Warning"  // 60 days or less
	AlertNotice   = "Notice"   // beyond 60 days
)

// ExpiryAlert flags an Active batch approaching its expiry date.
type ExpiryAlert struct {
	BatchID           uuid.UUID `json:"batch_id"`
	ConsumableID      uuid.UUID `json:"consumable_id"`
	BatchNumber       string    `json:"batch_number"`
	QuantityRemaining int       `json:"quantity_remaining"`
	ExpiryDate        time.Time `json:"expiry_date"`
	DaysUntilExpiry   int       `json:"days_until_expiry"`
	Level             string    `json:"level"`
}

// Valuation summarizes remaining stock of one consumable at cost.
type Valuation struct {
	ConsumableID   uuid.UUID       `json:"consumable_id"`
	TotalRemaining int             `json:"total_remaining"`
	TotalValue     decimal.Decimal `json:"total_value"`
	ReorderLevel   int             `json:"reorder_level"`
	BelowReorder   bool            `json:"below_reorder"`
}
