package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/comfygrid/comfygrid/graphapi"
	"github.com/comfygrid/comfygrid/internal/db"
	"github.com/comfygrid/comfygrid/internal/tasks"
)

type submitGenerationRequest struct {
	UserID        string                 `json:"userId" validate:"required"`
	Name          string                 `json:"name"`
	Workflow      json.RawMessage        `json:"workflow" validate:"required"`
	Args          map[string]interface{} `json:"args"`
	ExcludeModels []string               `json:"excludeModels"`
	ReplyTo       string                 `json:"replyTo" validate:"omitempty,url"`
}

// execPayload is the frame pushed onto the winning device's event stream.
type execPayload struct {
	GenerationID string             `json:"generationId"`
	Prompt       graphapi.ApiPrompt `json:"prompt"`
}

type generationAccepted struct {
	GenerationID string `json:"generationId"`
	DeviceID     string `json:"deviceId"`
	Status       string `json:"status"`
}

// submitGeneration runs the whole submit pipeline: parse the workflow against
// the node registry, merge the caller's arguments, compile to an API prompt,
// persist the generation and its job, assign a device and wait briefly for
// the result.  A wait timeout is a 202, not a failure; the result then goes
// out through the reply-to address.
func (s *Server) submitGeneration(w http.ResponseWriter, r *http.Request) {
	var req submitGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "malformed request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	graph, err := graphapi.NewGraphFromJSONString(string(req.Workflow))
	if err != nil {
		badRequest(w, r, fmt.Sprintf("workflow does not parse: %v", err))
		return
	}

	reg, err := s.registry.Get(r.Context(), s.runtime)
	if err != nil {
		internalError(w, r, fmt.Errorf("node registry unavailable: %w", err))
		return
	}

	name := req.Name
	if name == "" {
		name = "workflow"
	}
	info, err := graphapi.ParseWorkflow(graph, name, reg)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	merged, report, err := graphapi.MergeArguments(graph, req.Args, info)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if len(report.Missing) > 0 {
		badRequest(w, r, "arguments not applied: "+strings.Join(report.Missing, ", "))
		return
	}
	if len(report.Extra) > 0 {
		slog.Debug("ignoring unknown arguments", "args", report.Extra)
	}

	prompt, compileErrs := graphapi.CompilePrompt(merged, reg)
	if len(compileErrs) > 0 {
		msgs := make([]string, 0, len(compileErrs))
		for _, ce := range compileErrs {
			msgs = append(msgs, ce.Error())
		}
		badRequest(w, r, "workflow does not compile: "+strings.Join(msgs, "; "))
		return
	}

	promptJSON, err := json.Marshal(prompt)
	if err != nil {
		internalError(w, r, err)
		return
	}

	generationID := uuid.NewString()
	jobID := uuid.NewString()

	gen := &db.GenerationRow{
		ID:       generationID,
		UserID:   req.UserID,
		Workflow: name,
		Prompt:   promptJSON,
		Status:   "pending",
	}
	if err := s.store.CreateGeneration(r.Context(), gen); err != nil {
		internalError(w, r, err)
		return
	}
	job := &db.JobRow{ID: jobID, GenerationID: generationID, RetryLimit: 3}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		internalError(w, r, err)
		return
	}

	candidates := s.pool.FindCapable(info.CustomNodes, info.Assets, req.ExcludeModels)
	if len(candidates) == 0 {
		writeProblem(w, r, http.StatusServiceUnavailable, "no_capable_device",
			"no registered device carries the required nodes and assets")
		return
	}

	payload := execPayload{GenerationID: generationID, Prompt: prompt}
	deviceID, err := s.tasks.Assign(r.Context(), generationID, jobID, req.ReplyTo, payload, candidates, job.RetryLimit)
	if errors.Is(err, tasks.ErrNoCapableDevice) {
		writeProblem(w, r, http.StatusServiceUnavailable, "no_capable_device",
			"no capable device accepted the task")
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	if err := s.store.AssignGeneration(r.Context(), generationID, deviceID); err != nil {
		internalError(w, r, err)
		return
	}

	result, err := s.tasks.Wait(r.Context(), generationID)
	if errors.Is(err, tasks.ErrWaitTimeout) {
		writeJSON(w, http.StatusAccepted, generationAccepted{
			GenerationID: generationID,
			DeviceID:     deviceID,
			Status:       "running",
		})
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type generationView struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	DeviceID    string          `json:"deviceId,omitempty"`
	Workflow    string          `json:"workflow"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   string          `json:"createdAt"`
	CompletedAt string          `json:"completedAt,omitempty"`
}

func (s *Server) getGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "generationID")
	row, err := s.store.GetGeneration(r.Context(), id)
	if err != nil {
		notFound(w, r, err.Error())
		return
	}

	view := generationView{
		ID:        row.ID,
		UserID:    row.UserID,
		DeviceID:  row.DeviceID,
		Workflow:  row.Workflow,
		Status:    row.Status,
		Result:    row.Result,
		CreatedAt: row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if row.CompletedAt.Valid {
		view.CompletedAt = row.CompletedAt.Time.UTC().Format("2006-01-02T15:04:05Z")
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) cancelGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "generationID")
	if err := s.tasks.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, tasks.ErrUnknownTask) {
			notFound(w, r, "no in-flight generation with that id")
			return
		}
		badRequest(w, r, err.Error())
		return
	}
	if err := s.store.FinishGeneration(r.Context(), id, nil, "cancelled"); err != nil {
		slog.Warn("persist cancellation failed", "generation", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type callbackRequest struct {
	Phase   string          `json:"phase" validate:"required,oneof=started executed completed failed"`
	BaseURL string          `json:"baseUrl" validate:"omitempty,url"`
	History json.RawMessage `json:"history,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// generationCallback is the device-to-server half of the task lifecycle: the
// executing device reports started, executed and the terminal outcome.  The
// completed phase carries the runtime's execution history, which is parsed
// into the canonical result before the task is finalized.
func (s *Server) generationCallback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "generationID")
	deviceID := deviceFromContext(r.Context())

	pt := s.tasks.Pending(id)
	if pt == nil {
		notFound(w, r, "no in-flight generation with that id")
		return
	}
	if pt.Task.DeviceID != deviceID {
		unauthorized(w, r, "generation is not assigned to this device")
		return
	}

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "malformed request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	switch req.Phase {
	case "started":
		if err := s.tasks.OnStarted(r.Context(), id); err != nil {
			badRequest(w, r, err.Error())
			return
		}

	case "executed":
		if err := s.tasks.OnExecuted(r.Context(), id); err != nil {
			badRequest(w, r, err.Error())
			return
		}

	case "completed":
		baseURL := req.BaseURL
		if baseURL == "" {
			baseURL = s.runtime.BaseURL()
		}
		parsed, err := graphapi.ParseResult(req.History, baseURL)
		if err != nil {
			badRequest(w, r, fmt.Sprintf("history does not parse: %v", err))
			return
		}
		resultJSON, err := json.Marshal(parsed)
		if err != nil {
			internalError(w, r, err)
			return
		}
		if err := s.tasks.Complete(r.Context(), id, resultJSON); err != nil {
			badRequest(w, r, err.Error())
			return
		}
		if err := s.store.FinishGeneration(r.Context(), id, resultJSON, "completed"); err != nil {
			slog.Warn("persist result failed", "generation", id, "error", err)
		}

	case "failed":
		if err := s.tasks.Fail(r.Context(), id, req.Error); err != nil {
			badRequest(w, r, err.Error())
			return
		}
		if err := s.store.FinishGeneration(r.Context(), id, nil, "failed"); err != nil {
			slog.Warn("persist failure failed", "generation", id, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
