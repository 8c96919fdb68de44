// File: internal/server/handlers.go
package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusgroup/api/schemas"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
	// strict rejects request fields the API does not know.
	strict = jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		DisallowUnknownFields:  true,
	}.Froze()
)

// SubmitResponse acknowledges an accepted focus group.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SingleRequest is the body of a one-persona analysis.
type SingleRequest struct {
	URL     string          `json:"url"`
	Persona schemas.Persona `json:"persona"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req schemas.FocusGroupRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.submit(w, req)
}

// handleAnalyzeSingle wraps one persona into a focus group of one.
func (s *Server) handleAnalyzeSingle(w http.ResponseWriter, r *http.Request) {
	var single SingleRequest
	if !s.decode(w, r, &single) {
		return
	}
	s.submit(w, schemas.FocusGroupRequest{URL: single.URL, Personas: []schemas.Persona{single.Persona}})
}

// decode reads a bounded JSON body into v, answering the request itself and
// returning false when it cannot.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if s.isClosing() {
		s.respondWithError(w, http.StatusServiceUnavailable, "server is shutting down")
		return false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondWithError(w, http.StatusRequestEntityTooLarge, "request body is too large")
			return false
		}
		s.respondWithError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := strict.Unmarshal(body, v); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) submit(w http.ResponseWriter, req schemas.FocusGroupRequest) {
	taskID, err := s.runner.Submit(req)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.start(taskID, req)

	w.Header().Set("Location", "/status/"+taskID)
	s.respond(w, http.StatusAccepted, SubmitResponse{TaskID: taskID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	status, ok := s.status.Get(taskID)
	if !ok {
		s.respondWithError(w, http.StatusNotFound, "task not found")
		return
	}
	s.respond(w, http.StatusOK, status)
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.respond(w, statusCode, ErrorResponse{Error: message})
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
