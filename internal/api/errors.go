package api

import (
	"encoding/json"
	"net/http"

	"github.com/moogar0880/problems"
)

func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(problemType).
		WithDetail(detail)

	w.Header().Set("Content-Type", problems.ProblemMediaType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(problem)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, "validation_error", detail)
}

func notFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusNotFound, "not_found", detail)
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusUnauthorized, "unauthorized", detail)
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	writeProblem(w, r, http.StatusInternalServerError, "internal_error", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
