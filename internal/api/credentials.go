package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/relaykeys/internal/credential"
	"github.com/foxzi/relaykeys/internal/metrics"
)

// CredentialCreateRequest is the request body for POST /credentials
type CredentialCreateRequest struct {
	Name        string `json:"name" validate:"required,max=50"`
	Description string `json:"description" validate:"max=200"`
}

// CredentialSettingsRequest is the request body for PUT /credentials/{id}/settings
type CredentialSettingsRequest struct {
	AllowedDomains []string `json:"allowed_domains"`
	DailyQuota     int      `json:"daily_quota" validate:"min=0"`
	HourlyQuota    int      `json:"hourly_quota" validate:"min=0"`
	MaxRecipients  int      `json:"max_recipients" validate:"min=1"`
}

// CredentialStatusRequest is the request body for PUT /credentials/{id}/status
type CredentialStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active disabled"`
}

// CredentialResponse is a credential without its secret material. The
// password hash never leaves the service.
type CredentialResponse struct {
	ID          string              `json:"id"`
	AccountID   string              `json:"account_id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Username    string              `json:"username"`
	Settings    credential.Settings `json:"settings"`
	Status      string              `json:"status"`
	UsageCount  int64               `json:"usage_count"`
	LastUsed    *time.Time          `json:"last_used,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// CredentialCreateResponse carries the plaintext password exactly once,
// in the creation and reset responses.
type CredentialCreateResponse struct {
	CredentialResponse
	Password string `json:"password"`
}

// CredentialListResponse is the response for GET /credentials
type CredentialListResponse struct {
	Credentials []*CredentialResponse `json:"credentials"`
	Total       int                   `json:"total"`
}

func credentialToResponse(c *credential.Credential) *CredentialResponse {
	return &CredentialResponse{
		ID:          c.ID,
		AccountID:   c.AccountID,
		Name:        c.Name,
		Description: c.Description,
		Username:    c.Username,
		Settings:    c.Settings,
		Status:      string(c.Status),
		UsageCount:  c.UsageCount,
		LastUsed:    c.LastUsed,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// handleCredentialCreate handles POST /api/v1/credentials
func (s *Server) handleCredentialCreate(w http.ResponseWriter, r *http.Request) {
	var req CredentialCreateRequest
	if err := s.decode(r, &req); err != nil {
		metrics.IncCredentialOp("create", "error")
		s.sendFault(w, r, err)
		return
	}

	cred, password, err := s.credentials.Create(r.Context(), accountID(r), req.Name, req.Description)
	if err != nil {
		metrics.IncCredentialOp("create", "error")
		s.sendFault(w, r, err)
		return
	}

	metrics.IncCredentialOp("create", "ok")
	s.sendJSON(w, http.StatusCreated, CredentialCreateResponse{
		CredentialResponse: *credentialToResponse(cred),
		Password:           password,
	})
}

// handleCredentialList handles GET /api/v1/credentials
func (s *Server) handleCredentialList(w http.ResponseWriter, r *http.Request) {
	creds, err := s.credentials.List(r.Context(), accountID(r))
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	resp := CredentialListResponse{Credentials: make([]*CredentialResponse, len(creds))}
	for i, c := range creds {
		resp.Credentials[i] = credentialToResponse(c)
	}
	resp.Total = len(creds)
	s.sendJSON(w, http.StatusOK, resp)
}

// handleCredentialGet handles GET /api/v1/credentials/{id}
func (s *Server) handleCredentialGet(w http.ResponseWriter, r *http.Request) {
	cred, err := s.credentials.Get(r.Context(), accountID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendFault(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, credentialToResponse(cred))
}

// handleCredentialDelete handles DELETE /api/v1/credentials/{id}
func (s *Server) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.credentials.Delete(r.Context(), accountID(r), chi.URLParam(r, "id")); err != nil {
		metrics.IncCredentialOp("delete", "error")
		s.sendFault(w, r, err)
		return
	}
	metrics.IncCredentialOp("delete", "ok")
	w.WriteHeader(http.StatusNoContent)
}

// handleCredentialResetPassword handles POST /api/v1/credentials/{id}/reset-password
func (s *Server) handleCredentialResetPassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	password, err := s.credentials.ResetPassword(r.Context(), accountID(r), id)
	if err != nil {
		metrics.IncCredentialOp("reset_password", "error")
		s.sendFault(w, r, err)
		return
	}

	cred, err := s.credentials.Get(r.Context(), accountID(r), id)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	metrics.IncCredentialOp("reset_password", "ok")
	s.sendJSON(w, http.StatusOK, CredentialCreateResponse{
		CredentialResponse: *credentialToResponse(cred),
		Password:           password,
	})
}

// handleCredentialSettings handles PUT /api/v1/credentials/{id}/settings
func (s *Server) handleCredentialSettings(w http.ResponseWriter, r *http.Request) {
	var req CredentialSettingsRequest
	if err := s.decode(r, &req); err != nil {
		s.sendFault(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	settings := credential.Settings{
		AllowedDomains: req.AllowedDomains,
		DailyQuota:     req.DailyQuota,
		HourlyQuota:    req.HourlyQuota,
		MaxRecipients:  req.MaxRecipients,
	}
	if err := s.credentials.UpdateSettings(r.Context(), accountID(r), id, settings); err != nil {
		metrics.IncCredentialOp("update_settings", "error")
		s.sendFault(w, r, err)
		return
	}

	cred, err := s.credentials.Get(r.Context(), accountID(r), id)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}
	metrics.IncCredentialOp("update_settings", "ok")
	s.sendJSON(w, http.StatusOK, credentialToResponse(cred))
}

// handleCredentialStatus handles PUT /api/v1/credentials/{id}/status
func (s *Server) handleCredentialStatus(w http.ResponseWriter, r *http.Request) {
	var req CredentialStatusRequest
	if err := s.decode(r, &req); err != nil {
		s.sendFault(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.credentials.SetStatus(r.Context(), accountID(r), id, credential.Status(req.Status)); err != nil {
		metrics.IncCredentialOp("set_status", "error")
		s.sendFault(w, r, err)
		return
	}

	cred, err := s.credentials.Get(r.Context(), accountID(r), id)
	if err != nil {
		s.sendFault(w, r, err)
		return
	}
	metrics.IncCredentialOp("set_status", "ok")
	s.sendJSON(w, http.StatusOK, credentialToResponse(cred))
}
