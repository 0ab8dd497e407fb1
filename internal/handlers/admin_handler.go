package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coopqueue/guard/internal/models"
	"github.com/coopqueue/guard/internal/services"
	pkghttp "github.com/coopqueue/guard/pkg/http"
)

// AdminHandler serves the operator endpoints behind JWT auth
type AdminHandler struct {
	guard  GuardServiceInterface
	events *services.SecurityLogService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(guard GuardServiceInterface, events *services.SecurityLogService) *AdminHandler {
	return &AdminHandler{
		guard:  guard,
		events: events,
	}
}

// UnlockRequest clears a lockout for an identifier
type UnlockRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=255"`
	AttemptType string `json:"attempt_type" validate:"required,max=64"`
}

// UnblockIPRequest lifts an IP block
type UnblockIPRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
}

// BlockIPRequest places a manual IP block. Hours of zero means the
// block has no expiry.
type BlockIPRequest struct {
	IPAddress string `json:"ip_address" validate:"required,ip"`
	Reason    string `json:"reason" validate:"required,max=500"`
	Hours     int    `json:"hours" validate:"gte=0,lte=8760"`
}

// Status returns the lockout state of an identifier
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	identifier := normalizeIdentifier(r.URL.Query().Get("identifier"))
	attemptType := r.URL.Query().Get("attempt_type")
	if identifier == "" || attemptType == "" {
		pkghttp.WriteBadRequest(w, "identifier and attempt_type query parameters are required")
		return
	}

	status, err := h.guard.GetAccountStatus(r.Context(), identifier, models.AttemptType(attemptType))
	if err != nil {
		pkghttp.WriteInternalError(w, "Unable to read account status")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// Unlock clears a lockout regardless of its remaining duration
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	existed, err := h.guard.UnlockAccount(r.Context(), normalizeIdentifier(req.Identifier), models.AttemptType(req.AttemptType))
	if err != nil {
		pkghttp.WriteInternalError(w, "Unable to unlock account")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"unlocked": true, "record_existed": existed})
}

// UnblockIP deactivates a blacklist entry
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	var req UnblockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	existed, err := h.guard.UnblockIP(r.Context(), req.IPAddress)
	if err != nil {
		pkghttp.WriteInternalError(w, "Unable to unblock IP")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"unblocked": true, "entry_existed": existed})
}

// BlockIP places a manual block on an address
func (h *AdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var blockedUntil *time.Time
	if req.Hours > 0 {
		until := time.Now().Add(time.Duration(req.Hours) * time.Hour)
		blockedUntil = &until
	}

	if err := h.guard.BlockIP(r.Context(), req.IPAddress, req.Reason, blockedUntil); err != nil {
		pkghttp.WriteInternalError(w, "Unable to block IP")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]bool{"blocked": true})
}

// Events lists recent security events, optionally filtered by identifier
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r, "limit", 0)
	offset := parseQueryInt(r, "offset", 0)
	if limit < 0 || offset < 0 {
		pkghttp.WriteBadRequest(w, "limit and offset must be non-negative integers")
		return
	}

	var (
		entries []*models.SecurityLogEntry
		err     error
	)
	if identifier := normalizeIdentifier(r.URL.Query().Get("identifier")); identifier != "" {
		entries, err = h.events.ForIdentifier(r.Context(), identifier, limit, offset)
	} else {
		entries, err = h.events.Recent(r.Context(), limit, offset)
	}
	if err != nil {
		pkghttp.WriteInternalError(w, "Unable to read security events")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": entries,
		"count":  len(entries),
	})
}

func parseQueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return parsed
}
