package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/foxzi/relaykeys/internal/fault"
)

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).String(),
	})
}

// Version is the API version reported by /health.
const Version = "0.2.0"

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// sendFault maps a domain error to its HTTP status. Internal details
// are logged but never echoed to the client.
func (s *Server) sendFault(w http.ResponseWriter, r *http.Request, err error) {
	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		s.sendError(w, http.StatusBadRequest, verr.Error())
		return
	}

	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.Validation:
		status = http.StatusBadRequest
	case fault.Unauthorized:
		status = http.StatusUnauthorized
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.Conflict:
		status = http.StatusConflict
	case fault.PreconditionFailed:
		status = http.StatusPreconditionFailed
	case fault.Unavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.sendError(w, status, "internal error")
		return
	}
	s.sendError(w, status, err.Error())
}

// decode parses and validates a JSON request body.
func (s *Server) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.New(fault.Validation, "invalid request body")
	}
	return s.validate.Struct(v)
}

// decodeOptional decodes the body into v when one is present; an empty
// body leaves v at its zero value. The body is drained rather than
// checked via Content-Length, which chunked requests report as -1.
func (s *Server) decodeOptional(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fault.New(fault.Validation, "invalid request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fault.New(fault.Validation, "invalid request body")
	}
	return s.validate.Struct(v)
}
