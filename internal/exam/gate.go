package exam

import (
	"context"
	"encoding/json"
	"fmt"
)

// Principal is the identity tuple supplied by the auth collaborator. The
// gate trusts it as-is.
type Principal struct {
	ID       string
	Role     string
	SchoolID string
}

func (p Principal) staff() bool {
	return p.Role == RoleSchoolAdmin || p.Role == RoleTeacher
}

// Gate applies tenant isolation and role scoping in front of every Service
// operation, so no endpoint can forget the filter. Visibility rules:
//
//   - super_admin: unrestricted
//   - school_admin / teacher: records of their own school; anything else is
//     ErrForbidden (same-tenant staff may learn a record exists)
//   - student: own attempts only; everything else is ErrNotFound so a probe
//     never confirms existence outside the student's scope
type Gate struct {
	svc   *Service
	store Store
}

func NewGate(svc *Service, store Store) *Gate {
	return &Gate{svc: svc, store: store}
}

// CreateExam is staff-only; non-super callers are pinned to their own school.
func (g *Gate) CreateExam(ctx context.Context, p Principal, e Exam) (Exam, error) {
	switch {
	case p.Role == RoleSuperAdmin:
	case p.staff():
		if e.SchoolID == "" {
			e.SchoolID = p.SchoolID
		}
		if e.SchoolID != p.SchoolID {
			return Exam{}, ErrForbidden
		}
	default:
		return Exam{}, ErrForbidden
	}
	return g.svc.CreateExam(ctx, e)
}

// GetExam hides answer keys from students and hides other tenants' exams
// entirely.
func (g *Gate) GetExam(ctx context.Context, p Principal, examID string) (Exam, error) {
	e, err := g.store.GetExam(ctx, examID)
	if err != nil {
		return Exam{}, err
	}
	switch {
	case p.Role == RoleSuperAdmin:
		return e, nil
	case p.staff():
		if e.SchoolID != p.SchoolID {
			return Exam{}, ErrForbidden
		}
		return e, nil
	case p.Role == RoleStudent:
		if e.SchoolID != p.SchoolID {
			return Exam{}, ErrNotFound
		}
		e.Questions = stripKeys(e.Questions)
		return e, nil
	}
	return Exam{}, ErrForbidden
}

func (g *Gate) StartAttempt(ctx context.Context, p Principal, examID string) (Attempt, error) {
	if p.Role != RoleStudent {
		return Attempt{}, ErrForbidden
	}
	e, err := g.store.GetExam(ctx, examID)
	if err != nil {
		return Attempt{}, err
	}
	if e.SchoolID != p.SchoolID {
		return Attempt{}, ErrNotFound
	}
	return g.svc.StartAttempt(ctx, examID, p.ID)
}

func (g *Gate) RecordAnswer(ctx context.Context, p Principal, attemptID, questionID string, response json.RawMessage) (Attempt, error) {
	if p.Role != RoleStudent {
		return Attempt{}, ErrForbidden
	}
	if _, err := g.scopeAttempt(ctx, p, attemptID); err != nil {
		return Attempt{}, err
	}
	return g.svc.RecordAnswer(ctx, attemptID, questionID, response)
}

// Submit maps the caller to a trigger: students submit their own attempt as
// user, staff may force-close a same-tenant attempt as admin_reset.
func (g *Gate) Submit(ctx context.Context, p Principal, attemptID string) (Attempt, error) {
	if _, err := g.scopeAttempt(ctx, p, attemptID); err != nil {
		return Attempt{}, err
	}
	trigger := TriggerUser
	if p.Role != RoleStudent {
		trigger = TriggerAdmin
	}
	return g.svc.Submit(ctx, attemptID, trigger)
}

func (g *Gate) GetAttemptStatus(ctx context.Context, p Principal, attemptID string) (Attempt, error) {
	if _, err := g.scopeAttempt(ctx, p, attemptID); err != nil {
		return Attempt{}, err
	}
	return g.svc.GetAttemptStatus(ctx, attemptID)
}

func (g *Gate) GetResult(ctx context.Context, p Principal, attemptID string) (Result, error) {
	if _, err := g.scopeAttempt(ctx, p, attemptID); err != nil {
		return Result{}, err
	}
	return g.svc.GetResult(ctx, attemptID)
}

func (g *Gate) SubmitManualGrade(ctx context.Context, p Principal, attemptID, questionID string, points float64) (Result, error) {
	if p.Role != RoleSuperAdmin && !p.staff() {
		return Result{}, ErrForbidden
	}
	if _, err := g.scopeAttempt(ctx, p, attemptID); err != nil {
		return Result{}, err
	}
	return g.svc.SubmitManualGrade(ctx, attemptID, questionID, points, p.ID)
}

func (g *Gate) ResetAttempts(ctx context.Context, p Principal, examID, studentID string) (int, error) {
	if p.Role != RoleSuperAdmin && !p.staff() {
		return 0, ErrForbidden
	}
	if p.Role != RoleSuperAdmin {
		e, err := g.store.GetExam(ctx, examID)
		if err != nil {
			return 0, err
		}
		if e.SchoolID != p.SchoolID {
			return 0, ErrForbidden
		}
	}
	return g.svc.ResetAttempts(ctx, examID, studentID)
}

// ListAttempts forces the tenancy filter into the query itself.
func (g *Gate) ListAttempts(ctx context.Context, p Principal, opts AttemptListOpts) ([]Attempt, error) {
	switch {
	case p.Role == RoleSuperAdmin:
	case p.staff():
		opts.SchoolID = p.SchoolID
	case p.Role == RoleStudent:
		opts.SchoolID = p.SchoolID
		opts.StudentID = p.ID
	default:
		return nil, ErrForbidden
	}
	return g.svc.ListAttempts(ctx, opts)
}

// scopeAttempt loads an attempt and applies the visibility rules above.
func (g *Gate) scopeAttempt(ctx context.Context, p Principal, attemptID string) (Attempt, error) {
	a, err := g.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	switch {
	case p.Role == RoleSuperAdmin:
		return a, nil
	case p.staff():
		if a.SchoolID != p.SchoolID {
			return Attempt{}, ErrForbidden
		}
		return a, nil
	case p.Role == RoleStudent:
		if a.SchoolID != p.SchoolID || a.StudentID != p.ID {
			return Attempt{}, ErrNotFound
		}
		return a, nil
	}
	return Attempt{}, fmt.Errorf("%w: unknown role %q", ErrForbidden, p.Role)
}
