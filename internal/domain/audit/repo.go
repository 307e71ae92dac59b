package audit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListByRecord(ctx context.Context, tableName string, recordID uuid.UUID, limit, offset int) ([]*Entry, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error)
}
