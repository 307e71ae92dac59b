package visit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/audit"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/clock"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/errs"
)

type mockVisitRepo struct {
	visits map[uuid.UUID]*Visit
}

func (m *mockVisitRepo) Create(ctx context.Context, v *Visit) error {
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m *mockVisitRepo) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	cp := *v
	return &cp, nil
}

func (m *mockVisitRepo) Update(ctx context.Context, v *Visit) error {
	if _, ok := m.visits[v.ID]; !ok {
		return errors.New("no rows")
	}
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m *mockVisitRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var out []*Visit
	for _, v := range m.visits {
		if v.PatientID == patientID {
			out = append(out, v)
		}
	}
	return out, len(out), nil
}

type mockStageRepo struct {
	stages []*Stage
}

func (m *mockStageRepo) List(ctx context.Context) ([]*Stage, error) {
	out := make([]*Stage, len(m.stages))
	copy(out, m.stages)
	sort.Slice(out, func(i, j int) bool { return out[i].StageOrder < out[j].StageOrder })
	return out, nil
}

func (m *mockStageRepo) GetByID(ctx context.Context, id uuid.UUID) (*Stage, error) {
	for _, s := range m.stages {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, errors.New("no rows")
}

type progressKey struct {
	visit uuid.UUID
	stage uuid.UUID
}

type mockProgressRepo struct {
	rows   map[progressKey]*Progress
	stages *mockStageRepo
}

func (m *mockProgressRepo) Create(ctx context.Context, p *Progress) error {
	cp := *p
	m.rows[progressKey{p.VisitID, p.StageID}] = &cp
	return nil
}

func (m *mockProgressRepo) Update(ctx context.Context, p *Progress) error {
	key := progressKey{p.VisitID, p.StageID}
	if _, ok := m.rows[key]; !ok {
		return errors.New("no rows")
	}
	cp := *p
	m.rows[key] = &cp
	return nil
}

func (m *mockProgressRepo) GetByVisitAndStage(ctx context.Context, visitID, stageID uuid.UUID) (*Progress, error) {
	p, ok := m.rows[progressKey{visitID, stageID}]
	if !ok {
		return nil, errors.New("no rows")
	}
	cp := *p
	return &cp, nil
}

func (m *mockProgressRepo) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*ProgressDetail, error) {
	var out []*ProgressDetail
	for _, p := range m.rows {
		if p.VisitID != visitID {
			continue
		}
		st, err := m.stages.GetByID(ctx, p.StageID)
		if err != nil {
			return nil, err
		}
		out = append(out, &ProgressDetail{
			Progress: *p, StageName: st.Name, StageOrder: st.StageOrder, RequiredRole: st.RequiredRole,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageOrder < out[j].StageOrder })
	return out, nil
}

func (m *mockProgressRepo) DeleteByVisit(ctx context.Context, visitID uuid.UUID) error {
	for key := range m.rows {
		if key.visit == visitID {
			delete(m.rows, key)
		}
	}
	return nil
}

func (m *mockProgressRepo) CountIncompleteBefore(ctx context.Context, visitID uuid.UUID, stageOrder int) (int, error) {
	count := 0
	for _, p := range m.rows {
		if p.VisitID != visitID || p.Completed {
			continue
		}
		st, err := m.stages.GetByID(ctx, p.StageID)
		if err != nil {
			return 0, err
		}
		if st.StageOrder < stageOrder {
			count++
		}
	}
	return count, nil
}

type mockNoteRepo struct {
	notes []*ClinicalNote
}

func (m *mockNoteRepo) Create(ctx context.Context, n *ClinicalNote) error {
	cp := *n
	m.notes = append(m.notes, &cp)
	return nil
}

func (m *mockNoteRepo) ListByVisit(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]*ClinicalNote, int, error) {
	var out []*ClinicalNote
	for _, n := range m.notes {
		if n.VisitID == visitID {
			out = append(out, n)
		}
	}
	return out, len(out), nil
}

type mockRecorder struct {
	entries []*audit.Entry
	failing bool
}

func (m *mockRecorder) Record(ctx context.Context, e *audit.Entry) error {
	if m.failing {
		return errors.New("audit insert failed")
	}
	m.entries = append(m.entries, e)
	return nil
}

type fixture struct {
	svc      *Service
	visits   *mockVisitRepo
	stages   *mockStageRepo
	progress *mockProgressRepo
	notes    *mockNoteRepo
	recorder *mockRecorder
	clk      *clock.Fixed
}

var stageIDs = struct {
	registration, nursing, consultation, counseling, closure uuid.UUID
}{
	uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New(),
}

func newFixture() *fixture {
	stages := &mockStageRepo{stages: []*Stage{
		{ID: stageIDs.registration, Name: "Registration", StageOrder: 1, RequiredRole: auth.RoleClerk},
		{ID: stageIDs.nursing, Name: "Nursing Assessment", StageOrder: 2, RequiredRole: auth.RoleNurse},
		{ID: stageIDs.consultation, Name: "Doctor Consultation", StageOrder: 3, RequiredRole: auth.RoleDoctor},
		{ID: stageIDs.counseling, Name: "Counseling Session", StageOrder: 4, RequiredRole: auth.RoleSocialWorker},
		{ID: stageIDs.closure, Name: "File Closure", StageOrder: 5, RequiredRole: auth.RoleDoctor},
	}}
	f := &fixture{
		visits:   &mockVisitRepo{visits: make(map[uuid.UUID]*Visit)},
		stages:   stages,
		progress: &mockProgressRepo{rows: make(map[progressKey]*Progress), stages: stages},
		notes:    &mockNoteRepo{},
		recorder: &mockRecorder{},
		clk:      clock.NewFixed(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)),
	}
	f.svc = NewService(f.visits, f.stages, f.progress, f.notes, f.recorder, db.Passthrough(), f.clk)
	return f
}

func caller(role string) auth.Identity {
	return auth.Identity{UserID: uuid.New(), Role: role}
}

func (f *fixture) createVisit(t *testing.T) *Visit {
	t.Helper()
	v := &Visit{PatientID: uuid.New(), Location: "Mobile Clinic, Gauteng"}
	if err := f.svc.CreateVisit(context.Background(), caller(auth.RoleClerk), v); err != nil {
		t.Fatalf("CreateVisit() error: %v", err)
	}
	return v
}

func TestCreateVisit_PatientRequired(t *testing.T) {
	f := newFixture()
	err := f.svc.CreateVisit(context.Background(), caller(auth.RoleClerk), &Visit{})
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateVisit_InitializesWorkflow(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)

	stored := f.visits.visits[v.ID]
	if stored.CurrentStageID == nil || *stored.CurrentStageID != stageIDs.registration {
		t.Errorf("current stage should be Registration")
	}
	if len(f.progress.rows) != 5 {
		t.Errorf("expected 5 progress rows, got %d", len(f.progress.rows))
	}
	for _, p := range f.progress.rows {
		if p.Completed {
			t.Errorf("fresh progress rows must be pending")
		}
	}
	if len(f.recorder.entries) != 1 {
		t.Errorf("expected 1 audit entry, got %d", len(f.recorder.entries))
	}
}

func TestInitializeVisit_NotFound(t *testing.T) {
	f := newFixture()
	err := f.svc.InitializeVisit(context.Background(), caller(auth.RoleClerk), uuid.New())
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInitializeVisit_Idempotent(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)

	// Complete the first stage, then re-initialize.
	if _, err := f.svc.AdvanceStage(context.Background(), caller(auth.RoleClerk), v.ID, stageIDs.registration, "", nil); err != nil {
		t.Fatalf("AdvanceStage() error: %v", err)
	}
	if err := f.svc.InitializeVisit(context.Background(), caller(auth.RoleClerk), v.ID); err != nil {
		t.Fatalf("InitializeVisit() error: %v", err)
	}

	if len(f.progress.rows) != 5 {
		t.Fatalf("expected 5 progress rows after re-init, got %d", len(f.progress.rows))
	}
	for _, p := range f.progress.rows {
		if p.Completed {
			t.Errorf("re-init must discard prior completions")
		}
	}
	stored := f.visits.visits[v.ID]
	if stored.CurrentStageID == nil || *stored.CurrentStageID != stageIDs.registration {
		t.Errorf("pointer should return to the first stage")
	}
}

func TestAdvanceStage_FullLifecycle(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)
	ctx := context.Background()

	res, err := f.svc.AdvanceStage(ctx, caller(auth.RoleClerk), v.ID, stageIDs.registration, "checked in", nil)
	if err != nil {
		t.Fatalf("advance Registration: %v", err)
	}
	if res.Status != "advanced-to:"+stageIDs.nursing.String() {
		t.Errorf("unexpected status %q", res.Status)
	}
	stored := f.visits.visits[v.ID]
	if stored.CurrentStageID == nil || *stored.CurrentStageID != stageIDs.nursing {
		t.Fatalf("pointer should be at Nursing Assessment")
	}
	nursingRow := f.progress.rows[progressKey{v.ID, stageIDs.nursing}]
	if nursingRow.StartedAt == nil {
		t.Errorf("next stage should be stamped started")
	}

	vitals := map[string]interface{}{
		"vital_signs": map[string]interface{}{
			"systolic_bp": 120.0, "diastolic_bp": 80.0, "heart_rate": 72.0, "temperature": 36.6,
		},
	}
	if _, err := f.svc.AdvanceStage(ctx, caller(auth.RoleNurse), v.ID, stageIDs.nursing, "vitals taken", vitals); err != nil {
		t.Fatalf("advance Nursing Assessment: %v", err)
	}
	if _, err := f.svc.AdvanceStage(ctx, caller(auth.RoleDoctor), v.ID, stageIDs.consultation, "", nil); err != nil {
		t.Fatalf("advance Doctor Consultation: %v", err)
	}
	if _, err := f.svc.AdvanceStage(ctx, caller(auth.RoleSocialWorker), v.ID, stageIDs.counseling, "", nil); err != nil {
		t.Fatalf("advance Counseling Session: %v", err)
	}

	res, err = f.svc.AdvanceStage(ctx, caller(auth.RoleDoctor), v.ID, stageIDs.closure, "file closed", nil)
	if err != nil {
		t.Fatalf("advance File Closure: %v", err)
	}
	if res.Status != "completed" {
		t.Errorf("expected completed status, got %q", res.Status)
	}

	stored = f.visits.visits[v.ID]
	if !stored.Completed || stored.CompletedAt == nil {
		t.Errorf("visit should be completed")
	}
	if stored.CurrentStageID != nil {
		t.Errorf("pointer should be cleared on completion")
	}
}

func TestAdvanceStage_CompletedPrefixInvariant(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)
	ctx := context.Background()

	if _, err := f.svc.AdvanceStage(ctx, caller(auth.RoleClerk), v.ID, stageIDs.registration, "", nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := f.svc.AdvanceStage(ctx, caller(auth.RoleNurse), v.ID, stageIDs.nursing, "", nil); err != nil {
		t.Fatalf("advance: %v", err)
	}

	details, err := f.svc.ListProgress(ctx, v.ID)
	if err != nil {
		t.Fatalf("ListProgress() error: %v", err)
	}
	sawIncomplete := false
	for _, d := range details {
		if !d.Completed {
			sawIncomplete = true
		} else if sawIncomplete {
			t.Fatalf("completed stages must form a prefix of the stage order")
		}
	}
}

func TestAdvanceStage_RoleMismatch(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)

	_, err := f.svc.AdvanceStage(context.Background(), caller(auth.RoleNurse), v.ID, stageIDs.registration, "", nil)
	if errs.KindOf(err) != errs.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if f.progress.rows[progressKey{v.ID, stageIDs.registration}].Completed {
		t.Errorf("rejected advance must leave progress unchanged")
	}
}

func TestAdvanceStage_AdministratorBypass(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)

	if _, err := f.svc.AdvanceStage(context.Background(), caller(auth.RoleAdministrator), v.ID, stageIDs.registration, "", nil); err != nil {
		t.Fatalf("administrator should bypass stage role gating: %v", err)
	}
}

func TestAdvanceStage_OutOfOrder(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)

	_, err := f.svc.AdvanceStage(context.Background(), caller(auth.RoleDoctor), v.ID, stageIDs.consultation, "", nil)
	if errs.KindOf(err) != errs.KindStageOrderViolation {
		t.Fatalf("expected stage order violation, got %v", err)
	}
	for _, p := range f.progress.rows {
		if p.Completed {
			t.Errorf("failed advance must leave all progress rows unchanged")
		}
	}
}

func TestAdvanceStage_IncompletePredecessorRecheck(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)

	// Force the pointer past an incomplete stage to simulate a racing
	// writer; the commit-time predecessor count must still reject.
	stored := f.visits.visits[v.ID]
	stored.CurrentStageID = &stageIDs.consultation

	_, err := f.svc.AdvanceStage(context.Background(), caller(auth.RoleDoctor), v.ID, stageIDs.consultation, "", nil)
	if errs.KindOf(err) != errs.KindStageOrderViolation {
		t.Fatalf("expected stage order violation from commit-time re-check, got %v", err)
	}
}

func TestAdvanceStage_AlreadyCompletedStage(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)
	ctx := context.Background()

	if _, err := f.svc.AdvanceStage(ctx, caller(auth.RoleClerk), v.ID, stageIDs.registration, "", nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	_, err := f.svc.AdvanceStage(ctx, caller(auth.RoleClerk), v.ID, stageIDs.registration, "", nil)
	if errs.KindOf(err) != errs.KindStageOrderViolation {
		t.Fatalf("expected stage order violation on repeat completion, got %v", err)
	}
}

func TestAdvanceStage_OutOfRangeVitals(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)
	ctx := context.Background()

	if _, err := f.svc.AdvanceStage(ctx, caller(auth.RoleClerk), v.ID, stageIDs.registration, "", nil); err != nil {
		t.Fatalf("advance: %v", err)
	}

	bad := map[string]interface{}{
		"vital_signs": map[string]interface{}{"heart_rate": 450.0},
	}
	_, err := f.svc.AdvanceStage(ctx, caller(auth.RoleNurse), v.ID, stageIDs.nursing, "", bad)
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error for out-of-range vitals, got %v", err)
	}
	if f.progress.rows[progressKey{v.ID, stageIDs.nursing}].Completed {
		t.Errorf("rejected vitals must not complete the stage")
	}
}

func TestAdvanceStage_UnknownVisit(t *testing.T) {
	f := newFixture()
	_, err := f.svc.AdvanceStage(context.Background(), caller(auth.RoleClerk), uuid.New(), stageIDs.registration, "", nil)
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdvanceStage_AuditFailurePropagates(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)
	f.recorder.failing = true

	_, err := f.svc.AdvanceStage(context.Background(), caller(auth.RoleClerk), v.ID, stageIDs.registration, "", nil)
	if err == nil || !strings.Contains(err.Error(), "audit") {
		t.Fatalf("audit failure must fail the operation, got %v", err)
	}
}

func TestAddNote(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)
	doctor := caller(auth.RoleDoctor)

	n := &ClinicalNote{
		VisitID:     v.ID,
		NoteType:    NoteDiagnosis,
		Content:     "Hypertension, stage 1",
		ICD10Codes:  []string{"I10"},
		Medications: []string{"amlodipine 5mg"},
	}
	if err := f.svc.AddNote(context.Background(), doctor, n); err != nil {
		t.Fatalf("AddNote() error: %v", err)
	}
	if n.CreatedBy != doctor.UserID {
		t.Errorf("note author should be the caller")
	}
	if len(f.notes.notes) != 1 {
		t.Errorf("expected 1 stored note")
	}
}

func TestAddNote_InvalidType(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)

	err := f.svc.AddNote(context.Background(), caller(auth.RoleDoctor), &ClinicalNote{
		VisitID:  v.ID,
		NoteType: "Memo",
		Content:  "x",
	})
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddNote_FollowUpDateRequired(t *testing.T) {
	f := newFixture()
	v := f.createVisit(t)

	err := f.svc.AddNote(context.Background(), caller(auth.RoleDoctor), &ClinicalNote{
		VisitID:          v.ID,
		NoteType:         NoteReferral,
		Content:          "refer to cardiology",
		FollowUpRequired: true,
	})
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
