package visit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Visit is one patient encounter moving through the staged workflow.
// CurrentStageID is nil once every stage is complete.
type Visit struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	VisitDate      time.Time  `db:"visit_date" json:"visit_date"`
	Location       string     `db:"location" json:"location,omitempty"`
	ChiefComplaint string     `db:"chief_complaint" json:"chief_complaint,omitempty"`
	CurrentStageID *uuid.UUID `db:"current_stage_id" json:"current_stage_id,omitempty"`
	Completed      bool       `db:"completed" json:"completed"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedBy      uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Stage is seeded reference data: one mandatory workflow step. StageOrder is
// strictly increasing and unique; RequiredRole gates who may complete it.
type Stage struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	StageOrder   int       `db:"stage_order" json:"stage_order"`
	RequiredRole string    `db:"required_role" json:"required_role"`
}

// Progress is one (visit, stage) pair. Completed only ever transitions
// false to true.
type Progress struct {
	ID            uuid.UUID              `db:"id" json:"id"`
	VisitID       uuid.UUID              `db:"visit_id" json:"visit_id"`
	StageID       uuid.UUID              `db:"stage_id" json:"stage_id"`
	AssignedTo    *uuid.UUID             `db:"assigned_to" json:"assigned_to,omitempty"`
	StartedAt     *time.Time             `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
	Notes         string                 `db:"notes" json:"notes,omitempty"`
	CollectedData map[string]interface{} `db:"collected_data" json:"collected_data,omitempty"`
	Completed     bool                   `db:"completed" json:"completed"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `db:"updated_at" json:"updated_at"`
}

// ProgressDetail joins a progress row with its stage metadata for listings.
type ProgressDetail struct {
	Progress
	StageName    string `db:"stage_name" json:"stage_name"`
	StageOrder   int    `db:"stage_order" json:"stage_order"`
	RequiredRole string `db:"required_role" json:"required_role"`
}

// AdvanceResult reports the outcome of completing a stage. Status is either
// "advanced-to:<stageId>" or "completed".
type AdvanceResult struct {
	Status      string     `json:"status"`
	NextStageID *uuid.UUID `json:"next_stage_id,omitempty"`
}

// Clinical note types.
const (
	NoteAssessment = "Assessment"
	NoteDiagnosis  = "Diagnosis"
	NoteTreatment  = "Treatment"
	NoteReferral   = "Referral"
	NoteCounseling = "Counseling"
	NoteClosure    = "Closure"
)

var validNoteTypes = map[string]bool{
	NoteAssessment: true,
	NoteDiagnosis:  true,
	NoteTreatment:  true,
	NoteReferral:   true,
	NoteCounseling: true,
	NoteClosure:    true,
}

// ClinicalNote is a typed note attached to a visit.
type ClinicalNote struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	VisitID          uuid.UUID  `db:"visit_id" json:"visit_id"`
	NoteType         string     `db:"note_type" json:"note_type"`
	Content          string     `db:"content" json:"content"`
	ICD10Codes       []string   `db:"icd10_codes" json:"icd10_codes,omitempty"`
	Medications      []string   `db:"medications" json:"medications,omitempty"`
	FollowUpRequired bool       `db:"follow_up_required" json:"follow_up_required"`
	FollowUpDate     *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	CreatedBy        uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

func (n *ClinicalNote) Validate() error {
	if n.VisitID == uuid.Nil {
		return fmt.Errorf("visit_id is required")
	}
	if !validNoteTypes[n.NoteType] {
		return fmt.Errorf("note_type must be one of Assessment, Diagnosis, Treatment, Referral, Counseling or Closure, got %q", n.NoteType)
	}
	if n.Content == "" {
		return fmt.Errorf("content is required")
	}
	if n.FollowUpRequired && n.FollowUpDate == nil {
		return fmt.Errorf("follow_up_date is required when follow_up_required is set")
	}
	return nil
}
