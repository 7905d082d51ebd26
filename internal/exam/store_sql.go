package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore implements Store on database/sql, works against sqlite (modernc)
// and postgres (pgx stdlib). Timestamps are stored as unix seconds, question
// and breakdown payloads as JSON text, matching the embedded schema in
// internal/db.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(dbh *sql.DB) *SQLStore { return &SQLStore{db: dbh} }

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	qj, err := json.Marshal(e.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	var passing sql.NullFloat64
	if e.PassingMarks != nil {
		passing = sql.NullFloat64{Float64: *e.PassingMarks, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exams (id, school_id, title, start_at, end_at, duration_min, total_marks,
			passing_marks, max_attempts, shuffle, negative_marking, show_results, questions_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			school_id=EXCLUDED.school_id, title=EXCLUDED.title, start_at=EXCLUDED.start_at,
			end_at=EXCLUDED.end_at, duration_min=EXCLUDED.duration_min, total_marks=EXCLUDED.total_marks,
			passing_marks=EXCLUDED.passing_marks, max_attempts=EXCLUDED.max_attempts,
			shuffle=EXCLUDED.shuffle, negative_marking=EXCLUDED.negative_marking,
			show_results=EXCLUDED.show_results, questions_json=EXCLUDED.questions_json`,
		e.ID, e.SchoolID, e.Title, e.StartAt.Unix(), e.EndAt.Unix(), e.DurationMin, e.TotalMarks,
		passing, e.MaxAttempts, e.Shuffle, e.NegativeMarking, e.ShowResultsImmediately,
		string(qj), e.CreatedAt.Unix())
	return err
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, school_id, title, start_at, end_at, duration_min, total_marks,
			passing_marks, max_attempts, shuffle, negative_marking, show_results, questions_json, created_at
		FROM exams WHERE id=$1`, id)
	var (
		e                         Exam
		startAt, endAt, createdAt int64
		passing                   sql.NullFloat64
		qjson                     string
	)
	err := row.Scan(&e.ID, &e.SchoolID, &e.Title, &startAt, &endAt, &e.DurationMin, &e.TotalMarks,
		&passing, &e.MaxAttempts, &e.Shuffle, &e.NegativeMarking, &e.ShowResultsImmediately, &qjson, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, ErrNotFound
		}
		return Exam{}, fmt.Errorf("load exam: %w", err)
	}
	e.StartAt = time.Unix(startAt, 0)
	e.EndAt = time.Unix(endAt, 0)
	e.CreatedAt = time.Unix(createdAt, 0)
	if passing.Valid {
		v := passing.Float64
		e.PassingMarks = &v
	}
	if err := json.Unmarshal([]byte(qjson), &e.Questions); err != nil {
		return Exam{}, fmt.Errorf("decode questions: %w", err)
	}
	return e, nil
}

func (s *SQLStore) DeleteExam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exams WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (id, exam_id, student_id, school_id, number, status,
			started_at, deadline, submitted_at, last_activity_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,$9,$10)`,
		a.ID, a.ExamID, a.StudentID, a.SchoolID, a.Number, a.Status,
		a.StartedAt.Unix(), a.Deadline.Unix(), a.LastActivityAt.Unix(), a.Version)
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	return s.scanAttempt(s.db.QueryRowContext(ctx, attemptSelect+` WHERE id=$1`, id))
}

func (s *SQLStore) ActiveAttempt(ctx context.Context, examID, studentID string) (Attempt, error) {
	return s.scanAttempt(s.db.QueryRowContext(ctx,
		attemptSelect+` WHERE exam_id=$1 AND student_id=$2 AND status='in_progress'`, examID, studentID))
}

func (s *SQLStore) CountAttempts(ctx context.Context, examID, studentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE exam_id=$1 AND student_id=$2`, examID, studentID).Scan(&n)
	return n, err
}

func (s *SQLStore) UpdateAttemptCAS(ctx context.Context, a Attempt, expect int64) error {
	var submitted sql.NullInt64
	if a.SubmittedAt != nil {
		submitted = sql.NullInt64{Int64: a.SubmittedAt.Unix(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE attempts SET status=$1, submitted_at=$2, last_activity_at=$3, version=$4
		WHERE id=$5 AND version=$6`,
		a.Status, submitted, a.LastActivityAt.Unix(), a.Version, a.ID, expect)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a lost race from a missing row.
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE id=$1`, a.ID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	add := func(cond, val string) {
		if val != "" {
			args = append(args, val)
			where = append(where, fmt.Sprintf(cond, len(args)))
		}
	}
	add("exam_id=$%d", opts.ExamID)
	add("student_id=$%d", opts.StudentID)
	add("school_id=$%d", opts.SchoolID)
	add("status=$%d", opts.Status)

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, opts.Offset)
	q := attemptSelect + ` WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectAttempts(rows)
}

func (s *SQLStore) ListInProgress(ctx context.Context) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, attemptSelect+` WHERE status='in_progress'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectAttempts(rows)
}

func (s *SQLStore) DeleteAttempts(ctx context.Context, examID, studentID string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if studentID == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM attempts WHERE exam_id=$1`, examID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM attempts WHERE exam_id=$1 AND student_id=$2`, examID, studentID)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) UpsertAnswer(ctx context.Context, ans Answer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO answers (attempt_id, question_id, response_json, answered_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			response_json=EXCLUDED.response_json, answered_at=EXCLUDED.answered_at`,
		ans.AttemptID, ans.QuestionID, string(ans.Response), ans.AnsweredAt.Unix())
	return err
}

func (s *SQLStore) ListAnswers(ctx context.Context, attemptID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt_id, question_id, response_json, answered_at
		FROM answers WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Answer
	for rows.Next() {
		var (
			a          Answer
			rjson      string
			answeredAt int64
		)
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &rjson, &answeredAt); err != nil {
			return nil, err
		}
		a.Response = json.RawMessage(rjson)
		a.AnsweredAt = time.Unix(answeredAt, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) PutResult(ctx context.Context, r Result) error {
	bj, err := json.Marshal(r.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	var passed sql.NullBool
	if r.Passed != nil {
		passed = sql.NullBool{Bool: *r.Passed, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (attempt_id, id, score, percentage, passed, objective_score,
			subjective_score, unanswered, pending_manual, breakdown_json, graded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (attempt_id) DO UPDATE SET
			score=EXCLUDED.score, percentage=EXCLUDED.percentage, passed=EXCLUDED.passed,
			objective_score=EXCLUDED.objective_score, subjective_score=EXCLUDED.subjective_score,
			unanswered=EXCLUDED.unanswered, pending_manual=EXCLUDED.pending_manual,
			breakdown_json=EXCLUDED.breakdown_json, graded_at=EXCLUDED.graded_at`,
		r.AttemptID, r.ID, r.Score, r.Percentage, passed, r.ObjectiveScore,
		r.SubjectiveScore, r.Unanswered, r.PendingManual, string(bj), r.GradedAt.Unix())
	return err
}

func (s *SQLStore) GetResult(ctx context.Context, attemptID string) (Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT attempt_id, id, score, percentage, passed, objective_score,
			subjective_score, unanswered, pending_manual, breakdown_json, graded_at
		FROM results WHERE attempt_id=$1`, attemptID)
	var (
		r        Result
		passed   sql.NullBool
		bjson    string
		gradedAt int64
	)
	err := row.Scan(&r.AttemptID, &r.ID, &r.Score, &r.Percentage, &passed, &r.ObjectiveScore,
		&r.SubjectiveScore, &r.Unanswered, &r.PendingManual, &bjson, &gradedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, ErrNotFound
		}
		return Result{}, fmt.Errorf("load result: %w", err)
	}
	if passed.Valid {
		v := passed.Bool
		r.Passed = &v
	}
	r.GradedAt = time.Unix(gradedAt, 0)
	if err := json.Unmarshal([]byte(bjson), &r.Breakdown); err != nil {
		return Result{}, fmt.Errorf("decode breakdown: %w", err)
	}
	return r, nil
}

func (s *SQLStore) PutManualGrade(ctx context.Context, g ManualGrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manual_grades (attempt_id, question_id, points, graded_by, graded_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			points=EXCLUDED.points, graded_by=EXCLUDED.graded_by, graded_at=EXCLUDED.graded_at`,
		g.AttemptID, g.QuestionID, g.Points, g.GradedBy, g.GradedAt.Unix())
	return err
}

func (s *SQLStore) ListManualGrades(ctx context.Context, attemptID string) (map[string]ManualGrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt_id, question_id, points, graded_by, graded_at
		FROM manual_grades WHERE attempt_id=$1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]ManualGrade{}
	for rows.Next() {
		var (
			g        ManualGrade
			gradedAt int64
		)
		if err := rows.Scan(&g.AttemptID, &g.QuestionID, &g.Points, &g.GradedBy, &gradedAt); err != nil {
			return nil, err
		}
		g.GradedAt = time.Unix(gradedAt, 0)
		out[g.QuestionID] = g
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES ($1,$2,$3,$4)`,
		e.Type, e.Key, e.DataJSON, e.CreatedAt.Unix())
	return err
}

// --- row plumbing ---

const attemptSelect = `
	SELECT id, exam_id, student_id, school_id, number, status,
		started_at, deadline, submitted_at, last_activity_at, version
	FROM attempts`

type rowScanner interface{ Scan(dest ...interface{}) error }

func (s *SQLStore) scanAttempt(row rowScanner) (Attempt, error) {
	var (
		a                               Attempt
		startedAt, deadline, lastActive int64
		submittedAt                     sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.SchoolID, &a.Number, &a.Status,
		&startedAt, &deadline, &submittedAt, &lastActive, &a.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrNotFound
		}
		return Attempt{}, fmt.Errorf("load attempt: %w", err)
	}
	a.StartedAt = time.Unix(startedAt, 0)
	a.Deadline = time.Unix(deadline, 0)
	a.LastActivityAt = time.Unix(lastActive, 0)
	if submittedAt.Valid {
		t := time.Unix(submittedAt.Int64, 0)
		a.SubmittedAt = &t
	}
	return a, nil
}

func (s *SQLStore) collectAttempts(rows *sql.Rows) ([]Attempt, error) {
	var out []Attempt
	for rows.Next() {
		a, err := s.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || // sqlite
		strings.Contains(msg, "duplicate key") // postgres
}
