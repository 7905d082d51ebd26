package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/edulab/cbt-engine/internal/grading"
	"github.com/edulab/cbt-engine/internal/notify"
)

// casRetries bounds how often a mutating operation re-reads after losing a
// conditional write before giving up with ErrConflict.
const casRetries = 3

// Service is the attempt state machine plus the grading aggregator. All
// mutations go through the store's CAS primitive; first committed write
// wins and the loser converges on the committed state.
type Service struct {
	store    Store
	grader   grading.Grader
	notifier notify.Notifier
	now      func() time.Time
	onStart  func(Attempt) // scheduler hook, may be nil
}

type ServiceOption func(*Service)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		grader:   grading.NewDefaultGrader(),
		notifier: notify.LogNotifier{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnAttemptStarted registers a callback fired after each successful
// StartAttempt, used to feed the expiry scheduler.
func (s *Service) OnAttemptStarted(fn func(Attempt)) { s.onStart = fn }

// CreateExam validates and stores an exam definition. Questions are
// immutable once an attempt references them, so publishing is all-or-nothing.
func (s *Service) CreateExam(ctx context.Context, e Exam) (Exam, error) {
	if e.Title == "" || e.SchoolID == "" {
		return Exam{}, fmt.Errorf("%w: title and school_id required", ErrValidation)
	}
	if !e.StartAt.Before(e.EndAt) {
		return Exam{}, fmt.Errorf("%w: start_at must precede end_at", ErrValidation)
	}
	if e.DurationMin <= 0 {
		return Exam{}, fmt.Errorf("%w: duration_min must be positive", ErrValidation)
	}
	if e.MaxAttempts < 1 {
		return Exam{}, fmt.Errorf("%w: max_attempts must be at least 1", ErrValidation)
	}
	var sum float64
	for i := range e.Questions {
		q := &e.Questions[i]
		if q.Points <= 0 {
			return Exam{}, fmt.Errorf("%w: question %s points must be positive", ErrValidation, q.ID)
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.ExamID = e.ID
		sum += q.Points
	}
	if e.TotalMarks == 0 {
		e.TotalMarks = sum
	} else if e.TotalMarks != sum {
		return Exam{}, fmt.Errorf("%w: total_marks %.2f does not match question points %.2f", ErrValidation, e.TotalMarks, sum)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.store.PutExam(ctx, e); err != nil {
		return Exam{}, fmt.Errorf("put exam: %w", err)
	}
	return e, nil
}

// GetExam returns the exam stripped of answer keys unless withKeys is set.
func (s *Service) GetExam(ctx context.Context, id string, withKeys bool) (Exam, error) {
	e, err := s.store.GetExam(ctx, id)
	if err != nil {
		return Exam{}, err
	}
	if !withKeys {
		e.Questions = stripKeys(e.Questions)
	}
	return e, nil
}

// stripKeys copies the questions before removing answer keys. The slice
// returned by the store may share its backing array with stored state, so
// stripping in place would wipe the keys for everyone.
func stripKeys(qs []Question) []Question {
	out := append([]Question(nil), qs...)
	for i := range out {
		out[i].AnswerKey = nil
	}
	return out
}

// StartAttempt opens a timed attempt. It is idempotent for a student who
// already has one in progress: that attempt is returned so a page reload
// resumes instead of erroring.
func (s *Service) StartAttempt(ctx context.Context, examID, studentID string) (Attempt, error) {
	if examID == "" || studentID == "" {
		return Attempt{}, fmt.Errorf("%w: exam_id and student_id required", ErrValidation)
	}
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return Attempt{}, err
	}
	now := s.now()
	if !e.Window(now) {
		return Attempt{}, ErrWindowClosed
	}

	if active, err := s.store.ActiveAttempt(ctx, examID, studentID); err == nil {
		if now.After(active.Deadline) {
			// Overdue leftover: expire it, then fall through to the limit check.
			if _, err := s.Submit(ctx, active.ID, TriggerTimeout); err != nil {
				return Attempt{}, fmt.Errorf("expire stale attempt: %w", err)
			}
		} else {
			return active, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Attempt{}, fmt.Errorf("find active attempt: %w", err)
	}

	prior, err := s.store.CountAttempts(ctx, examID, studentID)
	if err != nil {
		return Attempt{}, fmt.Errorf("count attempts: %w", err)
	}
	if prior >= e.MaxAttempts {
		return Attempt{}, ErrAttemptLimit
	}

	deadline := now.Add(time.Duration(e.DurationMin) * time.Minute)
	if deadline.After(e.EndAt) {
		deadline = e.EndAt
	}
	a := Attempt{
		ID:             uuid.NewString(),
		ExamID:         examID,
		StudentID:      studentID,
		SchoolID:       e.SchoolID,
		Number:         prior + 1,
		Status:         StatusInProgress,
		StartedAt:      now,
		Deadline:       deadline,
		LastActivityAt: now,
		Version:        1,
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a concurrent start for the same student; return the winner.
			if active, aerr := s.store.ActiveAttempt(ctx, examID, studentID); aerr == nil {
				return active, nil
			}
			return Attempt{}, ErrConflict
		}
		return Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	s.appendEvent(ctx, "attempt.started", a)
	if s.onStart != nil {
		s.onStart(a)
	}
	return a, nil
}

// RecordAnswer upserts the student's response for one question. Last
// committed write per question wins, ordered by server receipt.
func (s *Service) RecordAnswer(ctx context.Context, attemptID, questionID string, response json.RawMessage) (Attempt, error) {
	if attemptID == "" || questionID == "" {
		return Attempt{}, fmt.Errorf("%w: attempt_id and question_id required", ErrValidation)
	}
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Terminal() {
		return Attempt{}, ErrAttemptNotActive
	}
	now := s.now()
	if now.After(a.Deadline) {
		if _, err := s.Submit(ctx, attemptID, TriggerTimeout); err != nil {
			log.Printf("lazy expire attempt %s: %v", attemptID, err)
		}
		return Attempt{}, ErrAttemptNotActive
	}

	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return Attempt{}, fmt.Errorf("load exam: %w", err)
	}
	if !questionInExam(e, questionID) {
		return Attempt{}, fmt.Errorf("%w: question not in exam", ErrValidation)
	}

	if err := s.store.UpsertAnswer(ctx, Answer{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Response:   response,
		AnsweredAt: now,
	}); err != nil {
		return Attempt{}, fmt.Errorf("upsert answer: %w", err)
	}

	// Last-activity is idle diagnostics, not expiry; a lost CAS here is fine
	// as long as the attempt is still in progress.
	for i := 0; i < casRetries; i++ {
		updated := a
		updated.LastActivityAt = now
		updated.Version = a.Version + 1
		err := s.store.UpdateAttemptCAS(ctx, updated, a.Version)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Attempt{}, fmt.Errorf("touch attempt: %w", err)
		}
		if a, err = s.store.GetAttempt(ctx, attemptID); err != nil {
			return Attempt{}, err
		}
		if a.Terminal() {
			break
		}
	}
	return a, nil
}

// Submit drives in_progress to submitted (user/admin) or expired (timeout).
// Submitting an already-terminal attempt is a no-op returning the terminal
// state, which absorbs the race between a client submit and a server-side
// expiry: whichever transition commits first wins.
func (s *Service) Submit(ctx context.Context, attemptID, trigger string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	for i := 0; i < casRetries; i++ {
		if a.Terminal() {
			return a, nil
		}
		now := s.now()
		if trigger == TriggerTimeout && now.Before(a.Deadline) {
			// Early timer fire: nothing to do yet.
			return a, nil
		}
		target := StatusSubmitted
		if trigger == TriggerTimeout {
			target = StatusExpired
		}
		updated := a
		updated.Status = target
		updated.SubmittedAt = &now
		updated.Version = a.Version + 1
		err := s.store.UpdateAttemptCAS(ctx, updated, a.Version)
		if err == nil {
			s.appendEvent(ctx, "attempt."+target, updated)
			return s.finishGrading(ctx, updated)
		}
		if !errors.Is(err, ErrConflict) {
			return Attempt{}, fmt.Errorf("submit attempt: %w", err)
		}
		// Lost the write; converge on whatever committed.
		if a, err = s.store.GetAttempt(ctx, attemptID); err != nil {
			return Attempt{}, err
		}
	}
	return a, ErrConflict
}

// finishGrading aggregates the freshly terminal attempt and fires the
// result notification when the exam shows results immediately.
func (s *Service) finishGrading(ctx context.Context, a Attempt) (Attempt, error) {
	graded, res, err := s.aggregate(ctx, a)
	if err != nil {
		return Attempt{}, fmt.Errorf("aggregate: %w", err)
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err == nil && e.ShowResultsImmediately {
		// Fire and forget: a notification failure never rolls back grading.
		if nerr := s.notifier.ResultReady(ctx, notify.ResultNotice{
			AttemptID: graded.ID,
			ExamID:    graded.ExamID,
			StudentID: graded.StudentID,
			Score:     res.Score,
			Passed:    res.Passed,
		}); nerr != nil {
			log.Printf("notify result for attempt %s: %v", graded.ID, nerr)
		}
	}
	return graded, nil
}

// GetAttemptStatus returns the attempt, lazily expiring it when its
// deadline has passed without a submit.
func (s *Service) GetAttemptStatus(ctx context.Context, attemptID string) (Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status == StatusInProgress && s.now().After(a.Deadline) {
		return s.Submit(ctx, attemptID, TriggerTimeout)
	}
	return a, nil
}

// GetResult returns the graded result for a terminal attempt.
func (s *Service) GetResult(ctx context.Context, attemptID string) (Result, error) {
	a, err := s.GetAttemptStatus(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	if !a.Terminal() {
		return Result{}, fmt.Errorf("%w: attempt still in progress", ErrConflict)
	}
	r, err := s.store.GetResult(ctx, attemptID)
	if errors.Is(err, ErrNotFound) {
		// Terminal but ungraded (e.g. a crash between transition and
		// aggregation): grade now.
		if _, r, err = s.aggregate(ctx, a); err != nil {
			return Result{}, fmt.Errorf("aggregate: %w", err)
		}
		return r, nil
	}
	return r, err
}

// SubmitManualGrade records a teacher's score for a subjective question and
// recomputes the whole result rather than patching a delta.
func (s *Service) SubmitManualGrade(ctx context.Context, attemptID, questionID string, points float64, gradedBy string) (Result, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	if !a.Terminal() {
		return Result{}, fmt.Errorf("%w: attempt not yet submitted", ErrConflict)
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return Result{}, fmt.Errorf("load exam: %w", err)
	}
	var q *Question
	for i := range e.Questions {
		if e.Questions[i].ID == questionID {
			q = &e.Questions[i]
			break
		}
	}
	if q == nil {
		return Result{}, fmt.Errorf("%w: question not in exam", ErrValidation)
	}
	if grading.IsObjective(q.Type) {
		return Result{}, fmt.Errorf("%w: question %s is auto-graded", ErrValidation, questionID)
	}
	if points < 0 || points > q.Points {
		return Result{}, fmt.Errorf("%w: points must be within [0, %.2f]", ErrValidation, q.Points)
	}
	if err := s.store.PutManualGrade(ctx, ManualGrade{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Points:     points,
		GradedBy:   gradedBy,
		GradedAt:   s.now(),
	}); err != nil {
		return Result{}, fmt.Errorf("put manual grade: %w", err)
	}
	s.appendEvent(ctx, "attempt.manual_graded", a)
	_, r, err := s.aggregate(ctx, a)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate: %w", err)
	}
	return r, nil
}

// ResetAttempts deletes the attempts, answers and results for an exam,
// optionally narrowed to one student. Irreversible; confirmation is the
// caller's job. Safe to re-run: a second reset removes nothing.
func (s *Service) ResetAttempts(ctx context.Context, examID, studentID string) (int, error) {
	if _, err := s.store.GetExam(ctx, examID); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteAttempts(ctx, examID, studentID)
	if err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}
	s.appendEvent(ctx, "attempts.reset", Attempt{ID: examID, ExamID: examID, StudentID: studentID})
	return n, nil
}

// ListAttempts is the dashboard listing; tenancy filters are applied by the
// gate before it reaches here.
func (s *Service) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 50
	}
	return s.store.ListAttempts(ctx, opts)
}

func (s *Service) appendEvent(ctx context.Context, typ string, a Attempt) {
	data, _ := json.Marshal(map[string]string{
		"exam_id":    a.ExamID,
		"student_id": a.StudentID,
		"status":     a.Status,
	})
	if err := s.store.AppendEvent(ctx, Event{
		Type:      typ,
		Key:       a.ID,
		DataJSON:  string(data),
		CreatedAt: s.now(),
	}); err != nil {
		log.Printf("append event %s for %s: %v", typ, a.ID, err)
	}
}

func questionInExam(e Exam, questionID string) bool {
	for i := range e.Questions {
		if e.Questions[i].ID == questionID {
			return true
		}
	}
	return false
}
