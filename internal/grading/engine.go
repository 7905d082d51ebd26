package grading

import (
	"encoding/json"
	"strings"
)

// Question types.
const (
	TypeMCQ         = "mcq"
	TypeTrueFalse   = "true_false"
	TypeShortAnswer = "short_answer"
	TypeFillBlank   = "fill_blank"
	TypeEssay       = "essay"
	TypeMatching    = "matching"
)

// NegativeDivisor is the fraction of a question's points deducted for a
// wrong objective answer when the exam has negative marking on (points/4).
const NegativeDivisor = 4.0

// Q is the minimal view of a question needed for grading.
type Q struct {
	Type      string
	Points    float64
	AnswerKey []string
}

// Outcome is the result of grading a single question response.
// Points is nil while a subjective question awaits manual grading;
// IsCorrect is nil for unanswered and subjective questions.
type Outcome struct {
	MaxPoints   float64
	Points      *float64
	IsCorrect   *bool
	Answered    bool
	NeedsManual bool
}

// Strategy grades one question type.
type Strategy interface {
	Grade(q Q, response json.RawMessage, negativeMarking bool) Outcome
}

// Grader routes by question type to the matching Strategy.
type Grader interface {
	Grade(q Q, response json.RawMessage, negativeMarking bool) Outcome
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(q Q, response json.RawMessage, negativeMarking bool) Outcome {
	s, ok := g.strategies[q.Type]
	if !ok {
		// Unknown type: route to manual review rather than failing the attempt.
		return Outcome{MaxPoints: q.Points, NeedsManual: true, Answered: !isEmptyPayload(response)}
	}
	return s.Grade(q, response, negativeMarking)
}

// NewDefaultGrader installs the built-in strategies.
func NewDefaultGrader() Grader {
	return &defaultGrader{
		strategies: map[string]Strategy{
			TypeMCQ:         choiceStrategy{},
			TypeTrueFalse:   choiceStrategy{},
			TypeShortAnswer: textStrategy{},
			TypeFillBlank:   textStrategy{},
			TypeEssay:       subjectiveStrategy{},
			TypeMatching:    subjectiveStrategy{},
		},
	}
}

// IsObjective reports whether the question type is auto-gradable.
func IsObjective(qType string) bool {
	switch qType {
	case TypeMCQ, TypeTrueFalse, TypeShortAnswer, TypeFillBlank:
		return true
	}
	return false
}

// --- strategies ---

// choiceStrategy grades mcq and true_false by exact option-key identity.
type choiceStrategy struct{}

func (choiceStrategy) Grade(q Q, response json.RawMessage, negativeMarking bool) Outcome {
	selected, answered := parseSelection(response)
	if !answered {
		return unansweredObjective(q)
	}
	out := Outcome{MaxPoints: q.Points, Answered: true}
	for _, k := range q.AnswerKey {
		if selected == k {
			out.IsCorrect = boolPtr(true)
			out.Points = floatPtr(q.Points)
			return out
		}
	}
	out.IsCorrect = boolPtr(false)
	out.Points = floatPtr(wrongPoints(q.Points, negativeMarking))
	return out
}

// textStrategy grades short_answer and fill_blank against a keyword set,
// trimmed and case-insensitive.
type textStrategy struct{}

func (textStrategy) Grade(q Q, response json.RawMessage, negativeMarking bool) Outcome {
	text, answered := parseText(response)
	if !answered {
		return unansweredObjective(q)
	}
	out := Outcome{MaxPoints: q.Points, Answered: true}
	norm := Normalize(text)
	for _, k := range q.AnswerKey {
		if Normalize(k) == norm {
			out.IsCorrect = boolPtr(true)
			out.Points = floatPtr(q.Points)
			return out
		}
	}
	out.IsCorrect = boolPtr(false)
	out.Points = floatPtr(wrongPoints(q.Points, negativeMarking))
	return out
}

// subjectiveStrategy defers essay and matching to manual grading.
type subjectiveStrategy struct{}

func (subjectiveStrategy) Grade(q Q, response json.RawMessage, _ bool) Outcome {
	answered := !isEmptyPayload(response)
	return Outcome{MaxPoints: q.Points, Answered: answered, NeedsManual: answered}
}

// --- helpers ---

// unansweredObjective awards zero regardless of negative marking:
// skipping must never cost more than guessing.
func unansweredObjective(q Q) Outcome {
	return Outcome{MaxPoints: q.Points, Points: floatPtr(0)}
}

func wrongPoints(points float64, negativeMarking bool) float64 {
	if negativeMarking {
		return -points / NegativeDivisor
	}
	return 0
}

// parseSelection extracts a single selected option key from a response
// payload, either {"selected":"a"} or {"selected":["a"]}. A malformed
// payload is recovered as unanswered so one corrupt answer never blocks
// grading of the rest of the attempt.
func parseSelection(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	v, ok := obj["selected"]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var arr []string
	if err := json.Unmarshal(v, &arr); err == nil && len(arr) == 1 {
		s = strings.TrimSpace(arr[0])
		return s, s != ""
	}
	return "", false
}

// parseText extracts free text from {"text":"..."} payloads.
func parseText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	v, ok := obj["text"]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func isEmptyPayload(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "{}" || s == "null"
}

func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }
