package visit

import (
	"context"

	"github.com/google/uuid"
)

type VisitRepository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	Update(ctx context.Context, v *Visit) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error)
}

// StageRepository reads seeded workflow stages. List returns them ordered by
// stage_order ascending.
type StageRepository interface {
	List(ctx context.Context) ([]*Stage, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Stage, error)
}

type ProgressRepository interface {
	Create(ctx context.Context, p *Progress) error
	Update(ctx context.Context, p *Progress) error
	GetByVisitAndStage(ctx context.Context, visitID, stageID uuid.UUID) (*Progress, error)
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*ProgressDetail, error)
	DeleteByVisit(ctx context.Context, visitID uuid.UUID) error
	// CountIncompleteBefore counts incomplete progress rows for stages with
	// a lower order than the given one. Used for commit-time order checks.
	CountIncompleteBefore(ctx context.Context, visitID uuid.UUID, stageOrder int) (int, error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *ClinicalNote) error
	ListByVisit(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error)
}
