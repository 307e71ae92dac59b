package visit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/audit"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/clock"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/errs"
)

// Service enforces the staged workflow: stages complete strictly in order,
// each gated on the caller's role, with the order check re-validated inside
// the transaction that commits the completion.
type Service struct {
	visits   VisitRepository
	stages   StageRepository
	progress ProgressRepository
	notes    NoteRepository
	audit    audit.Recorder
	runTx    db.Runner
	clk      clock.Clock
}

func NewService(
	visits VisitRepository,
	stages StageRepository,
	progress ProgressRepository,
	notes NoteRepository,
	recorder audit.Recorder,
	runTx db.Runner,
	clk clock.Clock,
) *Service {
	return &Service{
		visits:   visits,
		stages:   stages,
		progress: progress,
		notes:    notes,
		audit:    recorder,
		runTx:    runTx,
		clk:      clk,
	}
}

// CreateVisit registers a patient check-in and initializes its workflow in
// one transaction.
func (s *Service) CreateVisit(ctx context.Context, caller auth.Identity, v *Visit) error {
	if v.PatientID == uuid.Nil {
		return errs.E(errs.KindValidation, "patient_id is required")
	}

	now := s.clk.Now()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.VisitDate.IsZero() {
		v.VisitDate = now
	}
	v.Completed = false
	v.CompletedAt = nil
	v.CreatedBy = caller.UserID
	v.CreatedAt = now
	v.UpdatedAt = now

	return s.runTx(ctx, func(ctx context.Context) error {
		if err := s.visits.Create(ctx, v); err != nil {
			return err
		}
		if err := s.initializeWorkflow(ctx, v); err != nil {
			return err
		}
		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "patient_visits",
			RecordID:  v.ID,
			Action:    audit.ActionCreate,
			NewValues: map[string]interface{}{
				"patient_id": v.PatientID.String(),
				"visit_date": v.VisitDate,
				"location":   v.Location,
			},
		})
	})
}

// InitializeVisit resets the visit's workflow: all prior progress is
// discarded, one pending row is created per stage, and the pointer returns
// to the lowest-order stage. Idempotent.
func (s *Service) InitializeVisit(ctx context.Context, caller auth.Identity, visitID uuid.UUID) error {
	return s.runTx(ctx, func(ctx context.Context) error {
		v, err := s.visits.GetByID(ctx, visitID)
		if err != nil {
			return errs.E(errs.KindNotFound, "visit %s not found", visitID)
		}

		if err := s.initializeWorkflow(ctx, v); err != nil {
			return err
		}

		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "patient_visits",
			RecordID:  v.ID,
			Action:    audit.ActionUpdate,
			NewValues: map[string]interface{}{"workflow": "initialized"},
		})
	})
}

// initializeWorkflow rebuilds the progress rows for v. Must run inside a
// transaction.
func (s *Service) initializeWorkflow(ctx context.Context, v *Visit) error {
	stages, err := s.stages.List(ctx)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		return fmt.Errorf("no workflow stages seeded")
	}

	if err := s.progress.DeleteByVisit(ctx, v.ID); err != nil {
		return err
	}

	now := s.clk.Now()
	for _, st := range stages {
		p := &Progress{
			ID:        uuid.New(),
			VisitID:   v.ID,
			StageID:   st.ID,
			Completed: false,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.progress.Create(ctx, p); err != nil {
			return err
		}
	}

	first := stages[0].ID
	v.CurrentStageID = &first
	v.Completed = false
	v.CompletedAt = nil
	v.UpdatedAt = now
	return s.visits.Update(ctx, v)
}

// AdvanceStage completes the visit's current stage and moves the pointer
// forward, or finishes the visit after the last stage. The whole effect is
// one transaction; see AdvanceResult for the returned status.
func (s *Service) AdvanceStage(ctx context.Context, caller auth.Identity, visitID, stageID uuid.UUID, notes string, collected map[string]interface{}) (*AdvanceResult, error) {
	// Vitals are validated before anything is touched so a rejected
	// measurement leaves no partial state.
	if _, err := ParseVitals(collected); err != nil {
		return nil, err
	}

	var result *AdvanceResult
	err := s.runTx(ctx, func(ctx context.Context) error {
		v, err := s.visits.GetByID(ctx, visitID)
		if err != nil {
			return errs.E(errs.KindNotFound, "visit %s not found", visitID)
		}
		stage, err := s.stages.GetByID(ctx, stageID)
		if err != nil {
			return errs.E(errs.KindNotFound, "workflow stage %s not found", stageID)
		}

		if !caller.Can(stage.RequiredRole) {
			return errs.E(errs.KindForbidden,
				"stage %q requires role %s", stage.Name, stage.RequiredRole)
		}

		if v.Completed {
			return errs.E(errs.KindValidation, "visit %s is already completed", visitID)
		}
		if v.CurrentStageID == nil || *v.CurrentStageID != stageID {
			return errs.E(errs.KindStageOrderViolation,
				"stage %q is not the visit's current stage", stage.Name)
		}

		p, err := s.progress.GetByVisitAndStage(ctx, visitID, stageID)
		if err != nil {
			return errs.E(errs.KindNotFound, "workflow not initialized for visit %s", visitID)
		}
		if p.Completed {
			return errs.E(errs.KindStageOrderViolation, "stage %q is already completed", stage.Name)
		}

		// Re-validated here, under the transaction, so two concurrent
		// advances on non-adjacent stages cannot both commit.
		pending, err := s.progress.CountIncompleteBefore(ctx, visitID, stage.StageOrder)
		if err != nil {
			return err
		}
		if pending > 0 {
			return errs.E(errs.KindStageOrderViolation,
				"%d earlier stage(s) incomplete before %q", pending, stage.Name)
		}

		now := s.clk.Now()
		if p.StartedAt == nil {
			p.StartedAt = &now
		}
		p.AssignedTo = &caller.UserID
		p.Completed = true
		p.CompletedAt = &now
		p.Notes = notes
		p.CollectedData = collected
		p.UpdatedAt = now
		if err := s.progress.Update(ctx, p); err != nil {
			return err
		}

		next, err := s.nextStage(ctx, stage.StageOrder)
		if err != nil {
			return err
		}

		if next != nil {
			v.CurrentStageID = &next.ID
			np, err := s.progress.GetByVisitAndStage(ctx, visitID, next.ID)
			if err != nil {
				return errs.E(errs.KindNotFound, "workflow not initialized for visit %s", visitID)
			}
			if np.StartedAt == nil {
				np.StartedAt = &now
				np.UpdatedAt = now
				if err := s.progress.Update(ctx, np); err != nil {
					return err
				}
			}
			result = &AdvanceResult{
				Status:      fmt.Sprintf("advanced-to:%s", next.ID),
				NextStageID: &next.ID,
			}
		} else {
			v.CurrentStageID = nil
			v.Completed = true
			v.CompletedAt = &now
			result = &AdvanceResult{Status: "completed"}
		}

		v.UpdatedAt = now
		if err := s.visits.Update(ctx, v); err != nil {
			return err
		}

		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "visit_stage_progress",
			RecordID:  p.ID,
			Action:    audit.ActionUpdate,
			OldValues: map[string]interface{}{"completed": false},
			NewValues: map[string]interface{}{
				"completed":    true,
				"stage":        stage.Name,
				"visit_status": result.Status,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) nextStage(ctx context.Context, afterOrder int) (*Stage, error) {
	stages, err := s.stages.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range stages {
		if st.StageOrder > afterOrder {
			return st, nil
		}
	}
	return nil, nil
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, errs.E(errs.KindNotFound, "visit %s not found", id)
	}
	return v, nil
}

func (s *Service) ListVisitsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.visits.ListByPatient(ctx, patientID, limit, offset)
}

// ListProgress returns the visit's progress rows joined with stage metadata,
// ordered by stage order.
func (s *Service) ListProgress(ctx context.Context, visitID uuid.UUID) ([]*ProgressDetail, error) {
	if _, err := s.visits.GetByID(ctx, visitID); err != nil {
		return nil, errs.E(errs.KindNotFound, "visit %s not found", visitID)
	}
	return s.progress.ListByVisit(ctx, visitID)
}

// AddNote attaches a clinical note to a visit. Notes are regulated records;
// the audit write shares the note's transaction.
func (s *Service) AddNote(ctx context.Context, caller auth.Identity, n *ClinicalNote) error {
	if err := n.Validate(); err != nil {
		return errs.E(errs.KindValidation, "%s", err.Error())
	}

	return s.runTx(ctx, func(ctx context.Context) error {
		if _, err := s.visits.GetByID(ctx, n.VisitID); err != nil {
			return errs.E(errs.KindNotFound, "visit %s not found", n.VisitID)
		}

		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		n.CreatedBy = caller.UserID
		n.CreatedAt = s.clk.Now()

		if err := s.notes.Create(ctx, n); err != nil {
			return err
		}
		return s.audit.Record(ctx, &audit.Entry{
			UserID:    &caller.UserID,
			TableName: "clinical_notes",
			RecordID:  n.ID,
			Action:    audit.ActionCreate,
			NewValues: map[string]interface{}{
				"visit_id":  n.VisitID.String(),
				"note_type": n.NoteType,
			},
		})
	})
}

func (s *Service) ListNotes(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error) {
	if _, err := s.visits.GetByID(ctx, visitID); err != nil {
		return nil, 0, errs.E(errs.KindNotFound, "visit %s not found", visitID)
	}
	return s.notes.ListByVisit(ctx, visitID, limit, offset)
}
