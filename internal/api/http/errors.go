package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/edulab/cbt-engine/internal/exam"
)

// validate is shared across handlers; it caches struct metadata.
var validate = validator.New()

// writeError maps the engine's error taxonomy to HTTP in one place.
func writeError(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve), errors.Is(err, exam.ErrValidation):
		httpError(w, err, http.StatusBadRequest)
	case errors.Is(err, exam.ErrNotFound):
		httpError(w, err, http.StatusNotFound)
	case errors.Is(err, exam.ErrForbidden):
		httpError(w, err, http.StatusForbidden)
	case errors.Is(err, exam.ErrConflict):
		httpError(w, err, http.StatusConflict)
	case errors.Is(err, exam.ErrWindowClosed),
		errors.Is(err, exam.ErrAttemptLimit),
		errors.Is(err, exam.ErrAttemptNotActive):
		httpError(w, err, http.StatusUnprocessableEntity)
	default:
		httpError(w, err, http.StatusInternalServerError)
	}
}

func httpError(w http.ResponseWriter, err error, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
