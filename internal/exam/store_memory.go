package exam

import (
	"context"
	"sort"
	"sync"
)

// memoryStore keeps everything in maps under one mutex. It honors the same
// conflict semantics as the SQL store, which is what the concurrency tests
// lean on.
type memoryStore struct {
	mu       sync.Mutex
	exams    map[string]Exam
	attempts map[string]Attempt
	answers  map[string]map[string]Answer      // attemptID -> questionID -> answer
	results  map[string]Result                 // attemptID -> result
	manual   map[string]map[string]ManualGrade // attemptID -> questionID -> grade
	events   []Event
}

func NewInMemoryStore() Store {
	return &memoryStore{
		exams:    map[string]Exam{},
		attempts: map[string]Attempt{},
		answers:  map[string]map[string]Answer{},
		results:  map[string]Result{},
		manual:   map[string]map[string]ManualGrade{},
	}
}

func (m *memoryStore) PutExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	return nil
}

func (m *memoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, ErrNotFound
	}
	// Hand out a copy of the questions so callers cannot write through to
	// stored state.
	e.Questions = append([]Question(nil), e.Questions...)
	return e, nil
}

func (m *memoryStore) DeleteExam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[id]; !ok {
		return ErrNotFound
	}
	delete(m.exams, id)
	return nil
}

func (m *memoryStore) CreateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.attempts {
		if ex.ExamID == a.ExamID && ex.StudentID == a.StudentID && ex.Status == StatusInProgress {
			return ErrConflict
		}
	}
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	return a, nil
}

func (m *memoryStore) ActiveAttempt(_ context.Context, examID, studentID string) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ExamID == examID && a.StudentID == studentID && a.Status == StatusInProgress {
			return a, nil
		}
	}
	return Attempt{}, ErrNotFound
}

func (m *memoryStore) CountAttempts(_ context.Context, examID, studentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.ExamID == examID && a.StudentID == studentID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) UpdateAttemptCAS(_ context.Context, a Attempt, expect int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.attempts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expect {
		return ErrConflict
	}
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.attempts {
		if opts.ExamID != "" && a.ExamID != opts.ExamID {
			continue
		}
		if opts.StudentID != "" && a.StudentID != opts.StudentID {
			continue
		}
		if opts.SchoolID != "" && a.SchoolID != opts.SchoolID {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memoryStore) ListInProgress(_ context.Context) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.Status == StatusInProgress {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteAttempts(_ context.Context, examID, studentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, a := range m.attempts {
		if a.ExamID != examID {
			continue
		}
		if studentID != "" && a.StudentID != studentID {
			continue
		}
		delete(m.attempts, id)
		delete(m.answers, id)
		delete(m.results, id)
		delete(m.manual, id)
		n++
	}
	return n, nil
}

func (m *memoryStore) UpsertAnswer(_ context.Context, ans Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byQ, ok := m.answers[ans.AttemptID]
	if !ok {
		byQ = map[string]Answer{}
		m.answers[ans.AttemptID] = byQ
	}
	byQ[ans.QuestionID] = ans
	return nil
}

func (m *memoryStore) ListAnswers(_ context.Context, attemptID string) ([]Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byQ := m.answers[attemptID]
	out := make([]Answer, 0, len(byQ))
	for _, a := range byQ {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *memoryStore) PutResult(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.AttemptID] = r
	return nil
}

func (m *memoryStore) GetResult(_ context.Context, attemptID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[attemptID]
	if !ok {
		return Result{}, ErrNotFound
	}
	return r, nil
}

func (m *memoryStore) PutManualGrade(_ context.Context, g ManualGrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byQ, ok := m.manual[g.AttemptID]
	if !ok {
		byQ = map[string]ManualGrade{}
		m.manual[g.AttemptID] = byQ
	}
	byQ[g.QuestionID] = g
	return nil
}

func (m *memoryStore) ListManualGrades(_ context.Context, attemptID string) (map[string]ManualGrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ManualGrade, len(m.manual[attemptID]))
	for q, g := range m.manual[attemptID] {
		out[q] = g
	}
	return out, nil
}

func (m *memoryStore) AppendEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}
