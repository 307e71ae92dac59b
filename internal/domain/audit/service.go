package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/clock"
	"github.com/clinic/clinic/internal/platform/errs"
)

// Recorder is the append-only sink the other domains write through. A
// returned error must fail the enclosing operation; audit is never
// best-effort.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

var validActions = map[string]bool{
	ActionCreate: true,
	ActionUpdate: true,
	ActionDelete: true,
}

type Service struct {
	repo Repository
	clk  clock.Clock
}

func NewService(repo Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clk: clk}
}

// Record appends one entry. It runs on the caller's transaction when one is
// open, so a failed insert rolls the whole operation back.
func (s *Service) Record(ctx context.Context, e *Entry) error {
	if e.TableName == "" {
		return fmt.Errorf("audit entry table_name is required")
	}
	if e.RecordID == uuid.Nil {
		return fmt.Errorf("audit entry record_id is required")
	}
	if !validActions[e.Action] {
		return fmt.Errorf("audit entry action must be create, update or delete, got %q", e.Action)
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = s.clk.Now()

	if err := s.repo.Create(ctx, e); err != nil {
		return fmt.Errorf("record audit entry for %s/%s: %w", e.TableName, e.RecordID, err)
	}
	return nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errs.E(errs.KindNotFound, "audit entry %s not found", id)
	}
	return e, nil
}

func (s *Service) ListByRecord(ctx context.Context, tableName string, recordID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.repo.ListByRecord(ctx, tableName, recordID, limit, offset)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
