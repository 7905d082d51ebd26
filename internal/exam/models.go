package exam

import (
	"encoding/json"
	"time"
)

// Attempt statuses.
const (
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"
	StatusExpired    = "expired"
	StatusGraded     = "graded"
)

// Submit triggers.
const (
	TriggerUser    = "user"
	TriggerTimeout = "timeout"
	TriggerAdmin   = "admin_reset"
)

// Roles supplied by the identity provider.
const (
	RoleSuperAdmin  = "super_admin"
	RoleSchoolAdmin = "school_admin"
	RoleTeacher     = "teacher"
	RoleStudent     = "student"
)

type Option struct {
	Key  string `json:"key"`
	Text string `json:"text,omitempty"`
}

type Question struct {
	ID         string   `json:"id"`
	ExamID     string   `json:"exam_id,omitempty"`
	Type       string   `json:"type"`
	Prompt     string   `json:"prompt,omitempty"`
	Options    []Option `json:"options,omitempty"`
	AnswerKey  []string `json:"answer_key,omitempty"` // option keys or accepted keywords
	Points     float64  `json:"points"`
	Difficulty string   `json:"difficulty,omitempty"` // informational only
}

type Exam struct {
	ID                     string     `json:"id"`
	SchoolID               string     `json:"school_id"`
	Title                  string     `json:"title"`
	StartAt                time.Time  `json:"start_at"`
	EndAt                  time.Time  `json:"end_at"` // window is [start_at, end_at)
	DurationMin            int        `json:"duration_min"`
	TotalMarks             float64    `json:"total_marks"`
	PassingMarks           *float64   `json:"passing_marks,omitempty"`
	MaxAttempts            int        `json:"max_attempts"`
	Shuffle                bool       `json:"shuffle"`
	NegativeMarking        bool       `json:"negative_marking"`
	ShowResultsImmediately bool       `json:"show_results_immediately"`
	Questions              []Question `json:"questions,omitempty"`
	CreatedAt              time.Time  `json:"created_at,omitempty"`
}

// Window reports whether t falls inside the exam's open window.
func (e Exam) Window(t time.Time) bool {
	return !t.Before(e.StartAt) && t.Before(e.EndAt)
}

type Attempt struct {
	ID             string     `json:"id"`
	ExamID         string     `json:"exam_id"`
	StudentID      string     `json:"student_id"`
	SchoolID       string     `json:"school_id"`
	Number         int        `json:"number"` // 1-based per (student, exam)
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	Deadline       time.Time  `json:"deadline"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	Version        int64      `json:"version"` // monotonic, CAS token
}

// Terminal reports whether the attempt has left in_progress for good.
func (a Attempt) Terminal() bool {
	return a.Status == StatusSubmitted || a.Status == StatusExpired || a.Status == StatusGraded
}

// RemainingSecs is the client-facing countdown. Zero once terminal or past
// the deadline.
func (a Attempt) RemainingSecs(now time.Time) int64 {
	if a.Status != StatusInProgress {
		return 0
	}
	left := a.Deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left.Seconds())
}

type Answer struct {
	AttemptID  string          `json:"attempt_id"`
	QuestionID string          `json:"question_id"`
	Response   json.RawMessage `json:"response"`
	AnsweredAt time.Time       `json:"answered_at"`
}

// QuestionResult is one row of a result's per-question breakdown, in exam
// question order.
type QuestionResult struct {
	QuestionID    string   `json:"question_id"`
	PointsAwarded *float64 `json:"points_awarded"` // nil while manual grading pends
	IsCorrect     *bool    `json:"is_correct"`     // nil for unanswered and subjective
	NeedsManual   bool     `json:"needs_manual,omitempty"`
}

type Result struct {
	ID              string           `json:"id"`
	AttemptID       string           `json:"attempt_id"`
	Score           float64          `json:"score"`
	Percentage      float64          `json:"percentage"`
	Passed          *bool            `json:"passed,omitempty"` // nil when the exam has no passing marks
	ObjectiveScore  float64          `json:"objective_score"`
	SubjectiveScore float64          `json:"subjective_score"`
	Unanswered      int              `json:"unanswered"`
	PendingManual   int              `json:"pending_manual"`
	Breakdown       []QuestionResult `json:"breakdown"`
	GradedAt        time.Time        `json:"graded_at"`
}

// ManualGrade is a teacher's score for one subjective question.
type ManualGrade struct {
	AttemptID  string    `json:"attempt_id"`
	QuestionID string    `json:"question_id"`
	Points     float64   `json:"points"`
	GradedBy   string    `json:"graded_by"`
	GradedAt   time.Time `json:"graded_at"`
}

// AttemptListOpts filters attempt listings for dashboards.
type AttemptListOpts struct {
	ExamID    string
	StudentID string
	SchoolID  string
	Status    string
	Limit     int
	Offset    int
}

// Event is one append-only audit record of an attempt transition.
type Event struct {
	Type      string    `json:"type"` // e.g. attempt.started, attempt.submitted
	Key       string    `json:"key"`  // natural key: attempt id
	DataJSON  string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}
