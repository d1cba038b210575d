package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/agents"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/pipeline"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/render"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/store"
)

const maxBodyBytes = 1 << 20

// TriggerRequest is the body of POST /v1/validations.
type TriggerRequest struct {
	InputText        string                  `json:"input_text" validate:"required,min=10,max=20000"`
	EntityID         string                  `json:"entity_id,omitempty" validate:"max=200"`
	InterviewContext *model.InterviewContext `json:"interview_context,omitempty"`
}

// TriggerResponse is returned with 202 Accepted.
type TriggerResponse struct {
	SessionID string              `json:"session_id"`
	Status    model.SessionStatus `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports != nil {
		if err := s.deps.Reports.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.InputText = strings.TrimSpace(req.InputText)
	req.EntityID = strings.TrimSpace(req.EntityID)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	id, err := s.deps.Pipeline.Start(r.Context(),
		agents.Input{Text: req.InputText, Interview: req.InterviewContext},
		pipeline.RunOptions{EntityID: req.EntityID},
	)
	if err != nil {
		zap.L().Error("server: start session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start validation")
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{SessionID: id, Status: model.SessionStatusRunning})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, ok := s.status(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// status loads the status view for the {id} route param, writing the
// error response when it fails.
func (s *Server) status(w http.ResponseWriter, r *http.Request) (*model.StatusView, bool) {
	id := chi.URLParam(r, "id")
	view, err := s.deps.Sessions.Status(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		zap.L().Error("server: status failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load session")
		return nil, false
	}
	return view, true
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format, err := render.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	report, err := s.deps.Reports.GetReport(r.Context(), id)
	if err != nil {
		zap.L().Error("server: get report failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load report")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "report not available")
		return
	}

	out, err := render.Render(report, format)
	if err != nil {
		zap.L().Error("server: render report failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not render report")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="validation-%s.%s"`, id, format.Extension()))
	w.WriteHeader(http.StatusOK)
	w.Write(out) //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		f := ve[0]
		switch f.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", jsonName(f.Field()))
		case "min":
			return fmt.Sprintf("%s must be at least %s characters", jsonName(f.Field()), f.Param())
		case "max":
			return fmt.Sprintf("%s must be at most %s characters", jsonName(f.Field()), f.Param())
		}
		return fmt.Sprintf("validation error: %s - %s", jsonName(f.Field()), f.Tag())
	}
	return "validation error: invalid request"
}

func jsonName(field string) string {
	switch field {
	case "InputText":
		return "input_text"
	case "EntityID":
		return "entity_id"
	default:
		return field
	}
}
