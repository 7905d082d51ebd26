package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edulab/cbt-engine/internal/exam"
)

type manualGradeReq struct {
	QuestionID string  `json:"question_id" validate:"required"`
	Points     float64 `json:"points" validate:"gte=0"`
}

type resetAttemptsReq struct {
	StudentID string `json:"student_id"` // empty resets the whole exam
	Confirm   bool   `json:"confirm" validate:"required"`
}

// GET /attempts/{attemptID}/result
func GetResultHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		res, err := gate.GetResult(r.Context(), p, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

// POST /attempts/{attemptID}/grades
func SubmitManualGradeHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var req manualGradeReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, err)
			return
		}
		res, err := gate.SubmitManualGrade(r.Context(), p, chi.URLParam(r, "attemptID"), req.QuestionID, req.Points)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

// POST /exams/{examID}/reset. Irreversible; requires an explicit confirm
// flag from the upstream UI.
func ResetAttemptsHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var req resetAttemptsReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, err)
			return
		}
		n, err := gate.ResetAttempts(r.Context(), p, chi.URLParam(r, "examID"), req.StudentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]int{"deleted": n})
	}
}
