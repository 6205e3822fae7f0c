package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
	"github.com/JakeFAU/dossier-crawler/internal/profile"
)

const maxSearchBody = 64 << 10

type searchRequest struct {
	FirstName    string `json:"first_name" validate:"required,max=100"`
	LastName     string `json:"last_name" validate:"required,max=100"`
	Company      string `json:"company" validate:"max=200"`
	ForceRefresh bool   `json:"force_refresh"`
	RunID        string `json:"run_id" validate:"omitempty,uuid"`
}

func (r searchRequest) subject() dossier.Subject {
	return dossier.Subject{
		FirstName:    strings.TrimSpace(r.FirstName),
		LastName:     strings.TrimSpace(r.LastName),
		Organization: strings.TrimSpace(r.Company),
	}
}

type pipelineErrorResponse struct {
	Error string                   `json:"error"`
	Stage string                   `json:"stage"`
	Stats dossier.AcquisitionStats `json:"stats"`
}

// search handles POST /api/v1/search. The lookup runs synchronously; callers
// that want to poll progress pass their own run_id (see POST /api/v1/runs).
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile service unavailable")
		return
	}
	var req searchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSearchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	subject := req.subject()
	logger := s.logger.With(
		zap.String("request_id", requestID(r.Context())),
		zap.String("subject", subject.FullName()),
	)
	res, err := s.profiles.Lookup(r.Context(), subject, req.ForceRefresh, req.RunID)
	if err != nil {
		status, body := searchFailure(err)
		if status >= http.StatusInternalServerError {
			logger.Warn("search failed", zap.Int("status", status), zap.Error(err))
		}
		writeJSON(w, status, body)
		return
	}
	logger.Debug("search served", zap.Bool("cached", res.Cached), zap.String("run_id", res.RunID))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) newRun(w http.ResponseWriter, _ *http.Request) {
	if s.profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile service unavailable")
		return
	}
	runID, err := s.profiles.NewRunID()
	if err != nil {
		s.logger.Error("mint run id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create run id")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"run_id": runID})
}

func searchFailure(err error) (int, any) {
	var pipeErr *dossier.PipelineError
	switch {
	case errors.Is(err, profile.ErrInvalidSubject):
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	case errors.As(err, &pipeErr):
		return http.StatusBadGateway, pipelineErrorResponse{
			Error: pipeErr.Error(),
			Stage: pipeErr.Stage,
			Stats: pipeErr.Stats,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, map[string]string{"error": "acquisition timed out"}
	default:
		return http.StatusInternalServerError, map[string]string{"error": "search failed"}
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		ve := verrs[0]
		return fmt.Sprintf("validation error: %s - %s", jsonFieldName(ve.Field()), ve.Tag())
	}
	return "validation error: invalid request"
}

func jsonFieldName(field string) string {
	switch field {
	case "FirstName":
		return "first_name"
	case "LastName":
		return "last_name"
	case "Company":
		return "company"
	case "RunID":
		return "run_id"
	default:
		return field
	}
}
