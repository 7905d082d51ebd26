package exam

import "context"

// Store is the persistence collaborator: CRUD plus conditional-update
// primitives. The engine issues no raw queries, only these operations, so
// any backend honoring their semantics works (postgres, sqlite, or the
// in-memory store used in tests).
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	// GetExam returns the exam with its questions and answer keys.
	GetExam(ctx context.Context, id string) (Exam, error)
	DeleteExam(ctx context.Context, id string) error

	// CreateAttempt inserts a new attempt. It fails with ErrConflict if an
	// in_progress attempt already exists for the same (student, exam);
	// this is the primitive that upholds the one-active-attempt invariant
	// under concurrent starts.
	CreateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	// ActiveAttempt returns the in_progress attempt for (examID, studentID),
	// or ErrNotFound.
	ActiveAttempt(ctx context.Context, examID, studentID string) (Attempt, error)
	CountAttempts(ctx context.Context, examID, studentID string) (int, error)
	// UpdateAttemptCAS persists a only if the stored version still equals
	// expect; otherwise ErrConflict. a.Version must already be expect+1.
	UpdateAttemptCAS(ctx context.Context, a Attempt, expect int64) error
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	// ListInProgress feeds scheduler rehydration after a restart.
	ListInProgress(ctx context.Context) ([]Attempt, error)
	// DeleteAttempts removes attempts plus their answers, manual grades and
	// results for an exam, optionally narrowed to one student. Returns the
	// number of attempts removed.
	DeleteAttempts(ctx context.Context, examID, studentID string) (int, error)

	// UpsertAnswer stores at most one answer per (attempt, question);
	// later writes overwrite.
	UpsertAnswer(ctx context.Context, ans Answer) error
	ListAnswers(ctx context.Context, attemptID string) ([]Answer, error)

	PutResult(ctx context.Context, r Result) error
	GetResult(ctx context.Context, attemptID string) (Result, error)

	PutManualGrade(ctx context.Context, g ManualGrade) error
	ListManualGrades(ctx context.Context, attemptID string) (map[string]ManualGrade, error)

	// AppendEvent records an audit event. Best effort: callers log and move
	// on if it fails.
	AppendEvent(ctx context.Context, e Event) error
}
