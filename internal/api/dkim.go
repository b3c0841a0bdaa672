package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/relaykeys/internal/dkimkey"
	"github.com/foxzi/relaykeys/internal/lifecycle"
	"github.com/foxzi/relaykeys/internal/metrics"
)

// DKIMCreateRequest is the request body for POST /dkim
type DKIMCreateRequest struct {
	Domain   string `json:"domain" validate:"required"`
	Selector string `json:"selector"`
	KeySize  int    `json:"key_size" validate:"omitempty,oneof=1024 2048"`
}

// DKIMRotateRequest is the request body for POST /dkim/{id}/rotate
type DKIMRotateRequest struct {
	Selector string `json:"selector"`
	KeySize  int    `json:"key_size" validate:"omitempty,oneof=1024 2048"`
}

// DKIMKeyResponse is a key pair without its private half. The private
// key never leaves the service.
type DKIMKeyResponse struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	Domain       string     `json:"domain"`
	Selector     string     `json:"selector"`
	KeySize      int        `json:"key_size"`
	Algorithm    string     `json:"algorithm"`
	PublicKey    string     `json:"public_key"`
	Status       string     `json:"status"`
	DNSVerified  bool       `json:"dns_verified"`
	LastVerified *time.Time `json:"last_verified,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DKIMKeyWithRecordResponse bundles a key with the DNS record the
// caller must publish, returned on creation and rotation.
type DKIMKeyWithRecordResponse struct {
	DKIMKeyResponse
	DNSRecord *dkimkey.DNSRecord `json:"dns_record"`
}

// DKIMListResponse is the response for GET /dkim
type DKIMListResponse struct {
	Keys  []*DKIMKeyResponse `json:"keys"`
	Total int                `json:"total"`
}

func dkimKeyToResponse(k *dkimkey.KeyPair) *DKIMKeyResponse {
	return &DKIMKeyResponse{
		ID:           k.ID,
		AccountID:    k.AccountID,
		Domain:       k.Domain,
		Selector:     k.Selector,
		KeySize:      k.KeySize,
		Algorithm:    k.Algorithm,
		PublicKey:    k.PublicKey,
		Status:       string(k.Status),
		DNSVerified:  k.DNSVerified,
		LastVerified: k.LastVerified,
		ExpiresAt:    k.ExpiresAt,
		CreatedAt:    k.CreatedAt,
		UpdatedAt:    k.UpdatedAt,
	}
}

// handleDKIMCreate handles POST /api/v1/dkim
func (s *Server) handleDKIMCreate(w http.ResponseWriter, r *http.Request) {
	var req DKIMCreateRequest
	if err := s.decode(r, &req); err != nil {
		metrics.IncDKIMKeyOp("create", "error")
		s.sendFault(w, r, err)
		return
	}
	if req.KeySize == 0 {
		req.KeySize = 2048
	}

	key, err := s.keys.Create(r.Context(), accountID(r), req.Domain, req.Selector, req.KeySize)
	if err != nil {
		metrics.IncDKIMKeyOp("create", "error")
		s.sendFault(w, r, err)
		return
	}

	record, err := key.DNSRecord()
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	metrics.IncDKIMKeyOp("create", "ok")
	s.sendJSON(w, http.StatusCreated, DKIMKeyWithRecordResponse{
		DKIMKeyResponse: *dkimKeyToResponse(key),
		DNSRecord:       record,
	})
}

// handleDKIMList handles GET /api/v1/dkim
func (s *Server) handleDKIMList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context(), accountID(r))
	if err != nil {
		s.sendFault(w, r, err)
		return
	}

	resp := DKIMListResponse{Keys: make([]*DKIMKeyResponse, len(keys))}
	for i, k := range keys {
		resp.Keys[i] = dkimKeyToResponse(k)
	}
	resp.Total = len(keys)
	s.sendJSON(w, http.StatusOK, resp)
}

// handleDKIMGet handles GET /api/v1/dkim/{id}
func (s *Server) handleDKIMGet(w http.ResponseWriter, r *http.Request) {
	key, err := s.keys.Get(r.Context(), accountID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendFault(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, dkimKeyToResponse(key))
}

// handleDKIMDelete handles DELETE /api/v1/dkim/{id}?confirm=true
func (s *Server) handleDKIMDelete(w http.ResponseWriter, r *http.Request) {
	confirm := r.URL.Query().Get("confirm") == "true"
	if err := s.keys.Delete(r.Context(), accountID(r), chi.URLParam(r, "id"), confirm); err != nil {
		metrics.IncDKIMKeyOp("delete", "error")
		s.sendFault(w, r, err)
		return
	}
	metrics.IncDKIMKeyOp("delete", "ok")
	w.WriteHeader(http.StatusNoContent)
}

// handleDKIMDNSRecord handles GET /api/v1/dkim/{id}/dns-record
func (s *Server) handleDKIMDNSRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.keys.GetDNSRecord(r.Context(), accountID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.sendFault(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, record)
}

// handleDKIMVerify handles POST /api/v1/dkim/{id}/verify
func (s *Server) handleDKIMVerify(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Verify(r.Context(), accountID(r), chi.URLParam(r, "id"))
	if err != nil {
		metrics.IncVerification("error")
		s.sendFault(w, r, err)
		return
	}

	if result.Valid {
		metrics.IncVerification("valid")
	} else {
		metrics.IncVerification("invalid")
	}
	s.sendJSON(w, http.StatusOK, result)
}

// handleDKIMRotate handles POST /api/v1/dkim/{id}/rotate
func (s *Server) handleDKIMRotate(w http.ResponseWriter, r *http.Request) {
	var req DKIMRotateRequest
	// The body is optional: rotation without it keeps selector and size.
	if err := s.decodeOptional(r, &req); err != nil {
		s.sendFault(w, r, err)
		return
	}

	key, record, err := s.orchestrator.Rotate(r.Context(), accountID(r), chi.URLParam(r, "id"), lifecycle.RotateOptions{
		Selector: req.Selector,
		KeySize:  req.KeySize,
	})
	if err != nil {
		metrics.IncDKIMKeyOp("rotate", "error")
		s.sendFault(w, r, err)
		return
	}

	metrics.IncDKIMKeyOp("rotate", "ok")
	s.sendJSON(w, http.StatusOK, DKIMKeyWithRecordResponse{
		DKIMKeyResponse: *dkimKeyToResponse(key),
		DNSRecord:       record,
	})
}
