package exam

import (
	"context"
	"errors"
	"testing"
)

var (
	rootAdmin  = Principal{ID: "root", Role: RoleSuperAdmin}
	admin1     = Principal{ID: "adm-1", Role: RoleSchoolAdmin, SchoolID: "school-1"}
	teacher1   = Principal{ID: "tch-1", Role: RoleTeacher, SchoolID: "school-1"}
	teacher2   = Principal{ID: "tch-2", Role: RoleTeacher, SchoolID: "school-2"}
	student1   = Principal{ID: "stu-1", Role: RoleStudent, SchoolID: "school-1"}
	classmate1 = Principal{ID: "stu-9", Role: RoleStudent, SchoolID: "school-1"}
	student2   = Principal{ID: "stu-2", Role: RoleStudent, SchoolID: "school-2"}
)

func newGateFixture(t *testing.T) (*fixture, *Gate) {
	t.Helper()
	f := newFixture(t)
	return f, NewGate(f.svc, f.store)
}

func TestGateCreateExamPinsSchool(t *testing.T) {
	f, g := newGateFixture(t)
	ctx := context.Background()
	tmpl := func() Exam {
		e := f.twoMCQExam(t, nil)
		e.ID = ""
		return e
	}

	e := tmpl()
	e.SchoolID = ""
	created, err := g.CreateExam(ctx, teacher1, e)
	if err != nil {
		t.Fatalf("teacher create: %v", err)
	}
	if created.SchoolID != teacher1.SchoolID {
		t.Fatalf("exam not pinned to creator's school: %s", created.SchoolID)
	}

	e = tmpl()
	e.SchoolID = "school-2"
	if _, err := g.CreateExam(ctx, teacher1, e); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cross-tenant create: want ErrForbidden, got %v", err)
	}

	e = tmpl()
	e.SchoolID = "school-2"
	if _, err := g.CreateExam(ctx, rootAdmin, e); err != nil {
		t.Fatalf("super admin create anywhere: %v", err)
	}

	if _, err := g.CreateExam(ctx, student1, tmpl()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("student create: want ErrForbidden, got %v", err)
	}
}

func TestGateGetExamVisibility(t *testing.T) {
	f, g := newGateFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, nil) // school-1

	cases := []struct {
		name    string
		p       Principal
		wantErr error
	}{
		{"super admin", rootAdmin, nil},
		{"same-school admin", admin1, nil},
		{"same-school teacher", teacher1, nil},
		{"same-school student", student1, nil},
		{"other-school teacher", teacher2, ErrForbidden},
		{"other-school student", student2, ErrNotFound},
	}
	for _, tc := range cases {
		got, err := g.GetExam(ctx, tc.p, e.ID)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		keys := got.Questions[0].AnswerKey != nil
		wantKeys := tc.p.Role != RoleStudent
		if keys != wantKeys {
			t.Errorf("%s: answer keys visible=%v, want %v", tc.name, keys, wantKeys)
		}
	}

	// Staff still see the keys after a student's stripped fetch.
	got, err := g.GetExam(ctx, teacher1, e.ID)
	if err != nil {
		t.Fatalf("teacher refetch: %v", err)
	}
	if got.Questions[0].AnswerKey == nil {
		t.Fatal("student fetch erased the stored answer keys")
	}
}

func TestGateAttemptScoping(t *testing.T) {
	f, g := newGateFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, nil)

	if _, err := g.StartAttempt(ctx, teacher1, e.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("teacher starting attempt: want ErrForbidden, got %v", err)
	}
	if _, err := g.StartAttempt(ctx, student2, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant student start: want ErrNotFound, got %v", err)
	}
	a, err := g.StartAttempt(ctx, student1, e.ID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	// Classmates share the school but must not see each other's attempts.
	if _, err := g.GetAttemptStatus(ctx, classmate1, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("classmate view: want ErrNotFound, got %v", err)
	}
	if _, err := g.RecordAnswer(ctx, classmate1, a.ID, "q1", selected("a")); !errors.Is(err, ErrNotFound) {
		t.Errorf("classmate save: want ErrNotFound, got %v", err)
	}
	if _, err := g.GetAttemptStatus(ctx, teacher2, a.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("other-school teacher view: want ErrForbidden, got %v", err)
	}
	if _, err := g.GetAttemptStatus(ctx, teacher1, a.ID); err != nil {
		t.Errorf("same-school teacher view: %v", err)
	}
	if _, err := g.RecordAnswer(ctx, student1, a.ID, "q1", selected("a")); err != nil {
		t.Errorf("owner save: %v", err)
	}
}

func TestGateSubmitTriggers(t *testing.T) {
	f, g := newGateFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, func(e *Exam) { e.MaxAttempts = 2 })

	a, err := g.StartAttempt(ctx, student1, e.ID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	done, err := g.Submit(ctx, student1, a.ID)
	if err != nil {
		t.Fatalf("student submit: %v", err)
	}
	if done.Status != StatusGraded {
		t.Fatalf("student submit status: %s", done.Status)
	}

	// Staff force-close lands the attempt in the same submitted lane.
	b, err := g.StartAttempt(ctx, student1, e.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if _, err := g.Submit(ctx, teacher2, b.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cross-tenant force close: want ErrForbidden, got %v", err)
	}
	if _, err := g.Submit(ctx, teacher1, b.ID); err != nil {
		t.Fatalf("teacher force close: %v", err)
	}
	if got := f.eventCount("attempt."+StatusSubmitted, b.ID); got != 1 {
		t.Errorf("force close events: got %d, want 1", got)
	}
}

func TestGateResultAndGrading(t *testing.T) {
	f, g := newGateFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, func(e *Exam) {
		e.Questions = append(e.Questions, Question{ID: "q3", Type: "essay", Points: 4})
	})
	a, err := g.StartAttempt(ctx, student1, e.ID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if _, err := g.Submit(ctx, student1, a.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := g.GetResult(ctx, student1, a.ID); err != nil {
		t.Errorf("owner result: %v", err)
	}
	if _, err := g.GetResult(ctx, classmate1, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("classmate result: want ErrNotFound, got %v", err)
	}
	if _, err := g.SubmitManualGrade(ctx, student1, a.ID, "q3", 2); !errors.Is(err, ErrForbidden) {
		t.Errorf("student grading: want ErrForbidden, got %v", err)
	}
	if _, err := g.SubmitManualGrade(ctx, teacher2, a.ID, "q3", 2); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-tenant grading: want ErrForbidden, got %v", err)
	}
	res, err := g.SubmitManualGrade(ctx, teacher1, a.ID, "q3", 2)
	if err != nil {
		t.Fatalf("teacher grading: %v", err)
	}
	if res.SubjectiveScore != 2 {
		t.Errorf("subjective score: got %.1f, want 2", res.SubjectiveScore)
	}
}

func TestGateResetAttempts(t *testing.T) {
	f, g := newGateFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, nil)
	if _, err := g.StartAttempt(ctx, student1, e.ID); err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	if _, err := g.ResetAttempts(ctx, student1, e.ID, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("student reset: want ErrForbidden, got %v", err)
	}
	if _, err := g.ResetAttempts(ctx, teacher2, e.ID, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-tenant reset: want ErrForbidden, got %v", err)
	}
	n, err := g.ResetAttempts(ctx, admin1, e.ID, "")
	if err != nil {
		t.Fatalf("admin reset: %v", err)
	}
	if n != 1 {
		t.Errorf("reset count: got %d, want 1", n)
	}
}

func TestGateListAttemptsForcesScope(t *testing.T) {
	f, g := newGateFixture(t)
	ctx := context.Background()
	e1 := f.twoMCQExam(t, nil)
	e2 := f.twoMCQExam(t, func(e *Exam) { e.SchoolID = "school-2" })

	if _, err := g.StartAttempt(ctx, student1, e1.ID); err != nil {
		t.Fatalf("start in school-1: %v", err)
	}
	if _, err := g.StartAttempt(ctx, classmate1, e1.ID); err != nil {
		t.Fatalf("classmate start: %v", err)
	}
	if _, err := g.StartAttempt(ctx, student2, e2.ID); err != nil {
		t.Fatalf("start in school-2: %v", err)
	}

	// A student sees only their own attempts, whatever filters they pass.
	got, err := g.ListAttempts(ctx, student1, AttemptListOpts{StudentID: classmate1.ID})
	if err != nil {
		t.Fatalf("student list: %v", err)
	}
	if len(got) != 1 || got[0].StudentID != student1.ID {
		t.Fatalf("student list leaked: %+v", got)
	}

	// Staff see their whole school but nothing beyond it.
	got, err = g.ListAttempts(ctx, teacher1, AttemptListOpts{})
	if err != nil {
		t.Fatalf("teacher list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("teacher list size: got %d, want 2", len(got))
	}
	for _, a := range got {
		if a.SchoolID != teacher1.SchoolID {
			t.Fatalf("teacher list crossed tenants: %+v", a)
		}
	}

	got, err = g.ListAttempts(ctx, rootAdmin, AttemptListOpts{})
	if err != nil {
		t.Fatalf("super admin list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("super admin list size: got %d, want 3", len(got))
	}
}
