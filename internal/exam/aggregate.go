package exam

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/edulab/cbt-engine/internal/grading"
)

// aggregate turns a terminal attempt's answers into a Result and moves the
// attempt to graded. It is a pure function of (exam, answers, manual
// grades): re-running it on unchanged inputs rewrites the same Result,
// GradedAt aside. Manual grading re-invokes it wholesale instead of
// patching deltas, so totals can never drift.
func (s *Service) aggregate(ctx context.Context, a Attempt) (Attempt, Result, error) {
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return Attempt{}, Result{}, fmt.Errorf("load exam: %w", err)
	}
	answers, err := s.store.ListAnswers(ctx, a.ID)
	if err != nil {
		return Attempt{}, Result{}, fmt.Errorf("load answers: %w", err)
	}
	byQuestion := make(map[string]Answer, len(answers))
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = ans
	}
	manual, err := s.store.ListManualGrades(ctx, a.ID)
	if err != nil {
		return Attempt{}, Result{}, fmt.Errorf("load manual grades: %w", err)
	}

	res := Result{
		AttemptID: a.ID,
		Breakdown: make([]QuestionResult, 0, len(e.Questions)),
	}
	var total float64
	for _, q := range e.Questions {
		var response []byte
		if ans, ok := byQuestion[q.ID]; ok {
			response = ans.Response
		}
		out := s.grader.Grade(grading.Q{Type: q.Type, Points: q.Points, AnswerKey: q.AnswerKey}, response, e.NegativeMarking)

		qr := QuestionResult{QuestionID: q.ID, PointsAwarded: out.Points, IsCorrect: out.IsCorrect}
		switch {
		// Manual grades apply to every subjective question, answered or
		// not; only ungraded answered ones are pending.
		case out.NeedsManual || !grading.IsObjective(q.Type):
			if g, ok := manual[q.ID]; ok {
				pts := g.Points
				qr.PointsAwarded = &pts
				res.SubjectiveScore += pts
				total += pts
			} else if out.NeedsManual {
				qr.NeedsManual = true
				res.PendingManual++
			}
		case out.Points != nil:
			res.ObjectiveScore += *out.Points
			total += *out.Points
		}
		if !out.Answered {
			res.Unanswered++
		}
		res.Breakdown = append(res.Breakdown, qr)
	}

	// Negative marking may drag the sum below zero; the floor applies to
	// the total only, never per question.
	if total < 0 {
		total = 0
	}
	res.Score = total
	if e.TotalMarks > 0 {
		res.Percentage = 100 * total / e.TotalMarks
	}
	if e.PassingMarks != nil {
		passed := total >= *e.PassingMarks
		res.Passed = &passed
	}

	// Keep the result id stable across regrades.
	if prev, err := s.store.GetResult(ctx, a.ID); err == nil {
		res.ID = prev.ID
	} else if errors.Is(err, ErrNotFound) {
		res.ID = uuid.NewString()
	} else {
		return Attempt{}, Result{}, fmt.Errorf("load prior result: %w", err)
	}
	res.GradedAt = s.now()

	if err := s.store.PutResult(ctx, res); err != nil {
		return Attempt{}, Result{}, fmt.Errorf("put result: %w", err)
	}

	graded, err := s.markGraded(ctx, a.ID)
	if err != nil {
		return Attempt{}, Result{}, err
	}
	return graded, res, nil
}

func (s *Service) markGraded(ctx context.Context, attemptID string) (Attempt, error) {
	for i := 0; i < casRetries; i++ {
		a, err := s.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return Attempt{}, err
		}
		if a.Status == StatusGraded {
			return a, nil
		}
		updated := a
		updated.Status = StatusGraded
		updated.Version = a.Version + 1
		err = s.store.UpdateAttemptCAS(ctx, updated, a.Version)
		if err == nil {
			s.appendEvent(ctx, "attempt.graded", updated)
			return updated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Attempt{}, fmt.Errorf("mark graded: %w", err)
		}
	}
	return Attempt{}, ErrConflict
}
