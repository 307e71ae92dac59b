package visit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// -- visits --

type VisitRepoPG struct {
	pool *pgxpool.Pool
}

func NewVisitRepoPG(pool *pgxpool.Pool) *VisitRepoPG {
	return &VisitRepoPG{pool: pool}
}

const visitCols = `id, patient_id, visit_date, location, chief_complaint,
	current_stage_id, completed, completed_at, created_by, created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(
		&v.ID, &v.PatientID, &v.VisitDate, &v.Location, &v.ChiefComplaint,
		&v.CurrentStageID, &v.Completed, &v.CompletedAt, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt,
	)
	return &v, err
}

func (r *VisitRepoPG) Create(ctx context.Context, v *Visit) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patient_visits (id, patient_id, visit_date, location, chief_complaint,
			current_stage_id, completed, completed_at, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.PatientID, v.VisitDate, v.Location, v.ChiefComplaint,
		v.CurrentStageID, v.Completed, v.CompletedAt, v.CreatedBy, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *VisitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	q := fmt.Sprintf("SELECT %s FROM patient_visits WHERE id = $1", visitCols)
	return scanVisit(conn(ctx, r.pool).QueryRow(ctx, q, id))
}

func (r *VisitRepoPG) Update(ctx context.Context, v *Visit) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE patient_visits
		SET location = $2, chief_complaint = $3, current_stage_id = $4,
			completed = $5, completed_at = $6, updated_at = $7
		WHERE id = $1`,
		v.ID, v.Location, v.ChiefComplaint, v.CurrentStageID,
		v.Completed, v.CompletedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	return nil
}

func (r *VisitRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var total int
	err := conn(ctx, r.pool).QueryRow(ctx,
		"SELECT COUNT(*) FROM patient_visits WHERE patient_id = $1", patientID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM patient_visits WHERE patient_id = $1
		ORDER BY visit_date DESC, created_at DESC LIMIT $2 OFFSET $3`, visitCols)
	rows, err := conn(ctx, r.pool).Query(ctx, q, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan visit: %w", err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate visits: %w", err)
	}
	return visits, total, nil
}

// -- workflow stages --

type StageRepoPG struct {
	pool *pgxpool.Pool
}

func NewStageRepoPG(pool *pgxpool.Pool) *StageRepoPG {
	return &StageRepoPG{pool: pool}
}

func (r *StageRepoPG) List(ctx context.Context) ([]*Stage, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		"SELECT id, name, stage_order, required_role FROM workflow_stages ORDER BY stage_order")
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var stages []*Stage
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.Name, &s.StageOrder, &s.RequiredRole); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	return stages, nil
}

func (r *StageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Stage, error) {
	var s Stage
	err := conn(ctx, r.pool).QueryRow(ctx,
		"SELECT id, name, stage_order, required_role FROM workflow_stages WHERE id = $1", id,
	).Scan(&s.ID, &s.Name, &s.StageOrder, &s.RequiredRole)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// -- stage progress --

type ProgressRepoPG struct {
	pool *pgxpool.Pool
}

func NewProgressRepoPG(pool *pgxpool.Pool) *ProgressRepoPG {
	return &ProgressRepoPG{pool: pool}
}

const progressCols = `id, visit_id, stage_id, assigned_to, started_at, completed_at,
	notes, collected_data, completed, created_at, updated_at`

func (r *ProgressRepoPG) Create(ctx context.Context, p *Progress) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO visit_stage_progress (id, visit_id, stage_id, assigned_to, started_at,
			completed_at, notes, collected_data, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.VisitID, p.StageID, p.AssignedTo, p.StartedAt,
		p.CompletedAt, p.Notes, p.CollectedData, p.Completed, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage progress: %w", err)
	}
	return nil
}

func (r *ProgressRepoPG) Update(ctx context.Context, p *Progress) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE visit_stage_progress
		SET assigned_to = $2, started_at = $3, completed_at = $4,
			notes = $5, collected_data = $6, completed = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.AssignedTo, p.StartedAt, p.CompletedAt,
		p.Notes, p.CollectedData, p.Completed, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update stage progress: %w", err)
	}
	return nil
}

func (r *ProgressRepoPG) GetByVisitAndStage(ctx context.Context, visitID, stageID uuid.UUID) (*Progress, error) {
	q := fmt.Sprintf(`SELECT %s FROM visit_stage_progress
		WHERE visit_id = $1 AND stage_id = $2 FOR UPDATE`, progressCols)
	var p Progress
	err := conn(ctx, r.pool).QueryRow(ctx, q, visitID, stageID).Scan(
		&p.ID, &p.VisitID, &p.StageID, &p.AssignedTo, &p.StartedAt, &p.CompletedAt,
		&p.Notes, &p.CollectedData, &p.Completed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProgressRepoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*ProgressDetail, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT p.id, p.visit_id, p.stage_id, p.assigned_to, p.started_at, p.completed_at,
			p.notes, p.collected_data, p.completed, p.created_at, p.updated_at,
			s.name, s.stage_order, s.required_role
		FROM visit_stage_progress p
		JOIN workflow_stages s ON s.id = p.stage_id
		WHERE p.visit_id = $1
		ORDER BY s.stage_order`, visitID)
	if err != nil {
		return nil, fmt.Errorf("query stage progress: %w", err)
	}
	defer rows.Close()

	var details []*ProgressDetail
	for rows.Next() {
		var d ProgressDetail
		err := rows.Scan(
			&d.ID, &d.VisitID, &d.StageID, &d.AssignedTo, &d.StartedAt, &d.CompletedAt,
			&d.Notes, &d.CollectedData, &d.Completed, &d.CreatedAt, &d.UpdatedAt,
			&d.StageName, &d.StageOrder, &d.RequiredRole,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stage progress: %w", err)
		}
		details = append(details, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage progress: %w", err)
	}
	return details, nil
}

func (r *ProgressRepoPG) DeleteByVisit(ctx context.Context, visitID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		"DELETE FROM visit_stage_progress WHERE visit_id = $1", visitID)
	if err != nil {
		return fmt.Errorf("delete stage progress: %w", err)
	}
	return nil
}

func (r *ProgressRepoPG) CountIncompleteBefore(ctx context.Context, visitID uuid.UUID, stageOrder int) (int, error) {
	var count int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM visit_stage_progress p
		JOIN workflow_stages s ON s.id = p.stage_id
		WHERE p.visit_id = $1 AND s.stage_order < $2 AND NOT p.completed`,
		visitID, stageOrder,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count incomplete predecessors: %w", err)
	}
	return count, nil
}

// -- clinical notes --

type NoteRepoPG struct {
	pool *pgxpool.Pool
}

func NewNoteRepoPG(pool *pgxpool.Pool) *NoteRepoPG {
	return &NoteRepoPG{pool: pool}
}

func (r *NoteRepoPG) Create(ctx context.Context, n *ClinicalNote) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO clinical_notes (id, visit_id, note_type, content, icd10_codes,
			medications, follow_up_required, follow_up_date, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.VisitID, n.NoteType, n.Content, n.ICD10Codes,
		n.Medications, n.FollowUpRequired, n.FollowUpDate, n.CreatedBy, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert clinical note: %w", err)
	}
	return nil
}

func (r *NoteRepoPG) ListByVisit(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error) {
	var total int
	err := conn(ctx, r.pool).QueryRow(ctx,
		"SELECT COUNT(*) FROM clinical_notes WHERE visit_id = $1", visitID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count clinical notes: %w", err)
	}

	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, visit_id, note_type, content, icd10_codes, medications,
			follow_up_required, follow_up_date, created_by, created_at
		FROM clinical_notes
		WHERE visit_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, visitID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query clinical notes: %w", err)
	}
	defer rows.Close()

	var notes []*ClinicalNote
	for rows.Next() {
		var n ClinicalNote
		err := rows.Scan(
			&n.ID, &n.VisitID, &n.NoteType, &n.Content, &n.ICD10Codes, &n.Medications,
			&n.FollowUpRequired, &n.FollowUpDate, &n.CreatedBy, &n.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan clinical note: %w", err)
		}
		notes = append(notes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate clinical notes: %w", err)
	}
	return notes, total, nil
}
