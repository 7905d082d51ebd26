package grading

import (
	"encoding/json"
	"testing"
)

func TestGradeChoice(t *testing.T) {
	g := NewDefaultGrader()
	q := Q{Type: TypeMCQ, Points: 2, AnswerKey: []string{"b"}}

	tests := []struct {
		name      string
		payload   string
		negative  bool
		answered  bool
		points    *float64
		isCorrect *bool
	}{
		{name: "correct", payload: `{"selected":"b"}`, answered: true, points: floatPtr(2), isCorrect: boolPtr(true)},
		{name: "correct array form", payload: `{"selected":["b"]}`, answered: true, points: floatPtr(2), isCorrect: boolPtr(true)},
		{name: "wrong no penalty", payload: `{"selected":"a"}`, answered: true, points: floatPtr(0), isCorrect: boolPtr(false)},
		{name: "wrong with penalty", payload: `{"selected":"a"}`, negative: true, answered: true, points: floatPtr(-0.5), isCorrect: boolPtr(false)},
		{name: "unanswered empty string", payload: `{"selected":""}`, points: floatPtr(0)},
		{name: "unanswered missing key", payload: `{}`, points: floatPtr(0)},
		{name: "unanswered nil payload", payload: ``, points: floatPtr(0)},
		{name: "unanswered with penalty on", payload: ``, negative: true, points: floatPtr(0)},
		{name: "malformed json treated unanswered", payload: `{"selected":`, negative: true, points: floatPtr(0)},
		{name: "malformed multi select treated unanswered", payload: `{"selected":["a","b"]}`, negative: true, points: floatPtr(0)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := g.Grade(q, json.RawMessage(tc.payload), tc.negative)
			assertOutcome(t, got, tc.answered, tc.points, tc.isCorrect)
			if got.NeedsManual {
				t.Fatalf("objective question flagged for manual grading")
			}
		})
	}
}

func TestGradeText(t *testing.T) {
	g := NewDefaultGrader()
	q := Q{Type: TypeShortAnswer, Points: 3, AnswerKey: []string{"Photosynthesis", "photo synthesis"}}

	tests := []struct {
		name      string
		payload   string
		negative  bool
		answered  bool
		points    *float64
		isCorrect *bool
	}{
		{name: "exact", payload: `{"text":"Photosynthesis"}`, answered: true, points: floatPtr(3), isCorrect: boolPtr(true)},
		{name: "case and whitespace insensitive", payload: `{"text":"  photosynthesis "}`, answered: true, points: floatPtr(3), isCorrect: boolPtr(true)},
		{name: "second keyword", payload: `{"text":"PHOTO  SYNTHESIS"}`, answered: true, points: floatPtr(3), isCorrect: boolPtr(true)},
		{name: "wrong", payload: `{"text":"respiration"}`, answered: true, points: floatPtr(0), isCorrect: boolPtr(false)},
		{name: "wrong with penalty", payload: `{"text":"respiration"}`, negative: true, answered: true, points: floatPtr(-0.75), isCorrect: boolPtr(false)},
		{name: "blank is unanswered", payload: `{"text":"   "}`, points: floatPtr(0)},
		{name: "missing is unanswered", payload: `{}`, points: floatPtr(0)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := g.Grade(q, json.RawMessage(tc.payload), tc.negative)
			assertOutcome(t, got, tc.answered, tc.points, tc.isCorrect)
		})
	}
}

func TestGradeSubjective(t *testing.T) {
	g := NewDefaultGrader()

	essay := Q{Type: TypeEssay, Points: 10}
	got := g.Grade(essay, json.RawMessage(`{"text":"my answer"}`), true)
	if !got.NeedsManual {
		t.Fatalf("essay should need manual grading")
	}
	if got.Points != nil || got.IsCorrect != nil {
		t.Fatalf("essay should have nil points and correctness until graded")
	}
	if !got.Answered {
		t.Fatalf("essay with text should count as answered")
	}

	got = g.Grade(essay, nil, false)
	if got.Answered || got.NeedsManual {
		t.Fatalf("blank essay should be unanswered and skip manual review, got %+v", got)
	}

	matching := Q{Type: TypeMatching, Points: 4}
	got = g.Grade(matching, json.RawMessage(`{"pairs":{"1":"a"}}`), false)
	if !got.NeedsManual || got.Points != nil {
		t.Fatalf("matching should be pending manual grade, got %+v", got)
	}
}

func TestGradeUnknownTypeRoutesToManual(t *testing.T) {
	g := NewDefaultGrader()
	got := g.Grade(Q{Type: "diagram", Points: 5}, json.RawMessage(`{"blob":"x"}`), false)
	if !got.NeedsManual {
		t.Fatalf("unknown type should route to manual review")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Hello,   World! ", "hello world"},
		{"O'Brien", "obrien"},
		{"", ""},
		{"ÉCOLE", "école"},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func assertOutcome(t *testing.T, got Outcome, answered bool, points *float64, isCorrect *bool) {
	t.Helper()
	if got.Answered != answered {
		t.Fatalf("answered = %v, want %v", got.Answered, answered)
	}
	switch {
	case points == nil && got.Points != nil:
		t.Fatalf("points = %v, want nil", *got.Points)
	case points != nil && got.Points == nil:
		t.Fatalf("points = nil, want %v", *points)
	case points != nil && *got.Points != *points:
		t.Fatalf("points = %v, want %v", *got.Points, *points)
	}
	switch {
	case isCorrect == nil && got.IsCorrect != nil:
		t.Fatalf("isCorrect = %v, want nil", *got.IsCorrect)
	case isCorrect != nil && got.IsCorrect == nil:
		t.Fatalf("isCorrect = nil, want %v", *isCorrect)
	case isCorrect != nil && *got.IsCorrect != *isCorrect:
		t.Fatalf("isCorrect = %v, want %v", *got.IsCorrect, *isCorrect)
	}
}
