package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/edulab/cbt-engine/internal/auth/middleware"
	"github.com/edulab/cbt-engine/internal/exam"
)

// caller builds the principal the gate scopes by. The JWT middleware has
// already verified the token; a missing identity here is a wiring bug.
func caller(r *http.Request) (exam.Principal, bool) {
	id, ok := authmw.IdentityFromContext(r.Context())
	if !ok {
		return exam.Principal{}, false
	}
	return exam.Principal{ID: id.Sub, Role: id.Role, SchoolID: id.SchoolID}, true
}

// POST /exams
func CreateExamHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var e exam.Exam
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		created, err := gate.CreateExam(r.Context(), p, e)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, created)
	}
}

// GET /exams/{examID}
func GetExamHandler(gate *exam.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := caller(r)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		e, err := gate.GetExam(r.Context(), p, chi.URLParam(r, "examID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, e)
	}
}
