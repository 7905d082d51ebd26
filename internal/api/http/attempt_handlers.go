package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edulab/cbt-engine/internal/exam"
)

type startAttemptReq struct {
	ExamID string `json:"exam_id" validate:"required"`
}

type recordAnswerReq struct {
	QuestionID string          `json:"question_id" validate:"required"`
	Response   json.RawMessage `json:"response"`
}

// POST /attempts
func StartAttemptHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var req startAttemptReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, err)
			return
		}
		a, err := gate.StartAttempt(r.Context(), p, req.ExamID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// POST /attempts/{attemptID}/answers
func RecordAnswerHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var req recordAnswerReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, err)
			return
		}
		a, err := gate.RecordAnswer(r.Context(), p, chi.URLParam(r, "attemptID"), req.QuestionID, req.Response)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// POST /attempts/{attemptID}/submit
func SubmitAttemptHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		attemptID := chi.URLParam(r, "attemptID")
		a, err := gate.Submit(r.Context(), p, attemptID)
		if errors.Is(err, exam.ErrConflict) {
			// The race loser reconciles to whatever committed; the client
			// sees a successful submission either way.
			if a, err = gate.GetAttemptStatus(r.Context(), p, attemptID); err == nil {
				writeJSON(w, a)
				return
			}
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

type attemptStatusResp struct {
	exam.Attempt
	RemainingSecs int64 `json:"remaining_secs"`
}

// GET /attempts/{attemptID}
func GetAttemptStatusHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		a, err := gate.GetAttemptStatus(r.Context(), p, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, attemptStatusResp{Attempt: a, RemainingSecs: a.RemainingSecs(time.Now())})
	}
}

// GET /attempts?exam_id=&student_id=&status=&limit=&offset=
func ListAttemptsHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		q := r.URL.Query()
		list, err := gate.ListAttempts(r.Context(), p, exam.AttemptListOpts{
			ExamID:    strings.TrimSpace(q.Get("exam_id")),
			StudentID: strings.TrimSpace(q.Get("student_id")),
			Status:    strings.TrimSpace(q.Get("status")),
			Limit:     parseIntDefault(q.Get("limit"), 50),
			Offset:    parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, list)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
