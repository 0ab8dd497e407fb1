package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coopqueue/guard/internal/models"
	pkghttp "github.com/coopqueue/guard/pkg/http"
)

// GuardServiceInterface defines the guard operations the HTTP surface exposes
type GuardServiceInterface interface {
	IsLocked(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP string) (bool, error)
	RecordFailedAttempt(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP, userAgent string, metadata models.EventMetadata) (*models.FailedAttemptResult, error)
	RecordSuccessfulAttempt(ctx context.Context, identifier string, attemptType models.AttemptType, clientIP, userAgent string) error
	RequiresCaptcha(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error)
	GenerateCaptcha(ctx context.Context, identifier string) (*models.ChallengeDescriptor, error)
	VerifyCaptcha(ctx context.Context, tokenOrResponse, identifier, answer, clientIP string) bool
	Delay(ctx context.Context, failedAttempts int) error
	GetAccountStatus(ctx context.Context, identifier string, attemptType models.AttemptType) (*models.AccountStatus, error)
	UnlockAccount(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error)
	UnblockIP(ctx context.Context, ipAddress string) (bool, error)
	BlockIP(ctx context.Context, ipAddress, reason string, blockedUntil *time.Time) error
}

// GuardHandler serves the endpoints login-style handlers call around
// their credential checks.
type GuardHandler struct {
	guard    GuardServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewGuardHandler creates a new GuardHandler
func NewGuardHandler(guard GuardServiceInterface, ipConfig *pkghttp.IPConfig) *GuardHandler {
	return &GuardHandler{
		guard:    guard,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// CheckRequest asks whether an identifier may attempt authentication
type CheckRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=255"`
	AttemptType string `json:"attempt_type" validate:"required,max=64"`
}

// FailedAttemptRequest reports a failed credential check
type FailedAttemptRequest struct {
	Identifier  string                 `json:"identifier" validate:"required,max=255"`
	AttemptType string                 `json:"attempt_type" validate:"required,max=64"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SuccessfulAttemptRequest reports a successful credential check
type SuccessfulAttemptRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=255"`
	AttemptType string `json:"attempt_type" validate:"required,max=64"`
}

// GenerateCaptchaRequest asks for a new challenge
type GenerateCaptchaRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
}

// VerifyCaptchaRequest submits a challenge response
type VerifyCaptchaRequest struct {
	Token      string `json:"token" validate:"required"`
	Identifier string `json:"identifier" validate:"required,max=255"`
	Answer     string `json:"answer,omitempty"`
}

// CheckResponse is the answer to a lock check
type CheckResponse struct {
	Locked          bool   `json:"locked"`
	RequiresCaptcha bool   `json:"requires_captcha"`
	Message         string `json:"message,omitempty"`
}

// FailedAttemptResponse wraps the guard verdict with a generic message.
// The message never reveals whether the identifier or the IP triggered
// a lock, to avoid account enumeration.
type FailedAttemptResponse struct {
	models.FailedAttemptResult
	Message string `json:"message"`
}

const lockedMessage = "Too many failed attempts. This account is temporarily locked."

// Check reports whether the identifier or the caller's IP is blocked
func (h *GuardHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	identifier := normalizeIdentifier(req.Identifier)
	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)

	locked, err := h.guard.IsLocked(r.Context(), identifier, models.AttemptType(req.AttemptType), clientIP)
	if err != nil {
		// cannot determine lock state; the caller must refuse the login
		pkghttp.WriteInternalError(w, "Unable to determine account status")
		return
	}

	resp := CheckResponse{Locked: locked}
	if locked {
		resp.Message = lockedMessage
	} else {
		needsCaptcha, err := h.guard.RequiresCaptcha(r.Context(), identifier, models.AttemptType(req.AttemptType))
		if err != nil {
			pkghttp.WriteInternalError(w, "Unable to determine account status")
			return
		}
		resp.RequiresCaptcha = needsCaptcha
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// RecordFailed registers a failed attempt and applies the progressive
// delay before responding, throttling the attacker's request rate.
func (h *GuardHandler) RecordFailed(w http.ResponseWriter, r *http.Request) {
	var req FailedAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	identifier := normalizeIdentifier(req.Identifier)
	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.guard.RecordFailedAttempt(r.Context(), identifier, models.AttemptType(req.AttemptType), clientIP, userAgent, req.Metadata)
	if err != nil {
		pkghttp.WriteInternalError(w, "Unable to record attempt")
		return
	}

	if err := h.guard.Delay(r.Context(), result.Attempts); err != nil {
		// client went away during the backoff pause
		return
	}

	resp := FailedAttemptResponse{FailedAttemptResult: *result}
	if result.Locked {
		resp.Message = lockedMessage
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// RecordSuccess resets the ledgers after a successful credential check
func (h *GuardHandler) RecordSuccess(w http.ResponseWriter, r *http.Request) {
	var req SuccessfulAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	identifier := normalizeIdentifier(req.Identifier)
	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	if err := h.guard.RecordSuccessfulAttempt(r.Context(), identifier, models.AttemptType(req.AttemptType), clientIP, userAgent); err != nil {
		pkghttp.WriteInternalError(w, "Unable to reset attempts")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GenerateCaptcha issues a new challenge
func (h *GuardHandler) GenerateCaptcha(w http.ResponseWriter, r *http.Request) {
	var req GenerateCaptchaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	descriptor, err := h.guard.GenerateCaptcha(r.Context(), normalizeIdentifier(req.Identifier))
	if err != nil {
		pkghttp.WriteInternalError(w, "Unable to generate challenge")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, descriptor)
}

// VerifyCaptcha validates a challenge response
func (h *GuardHandler) VerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	var req VerifyCaptchaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)
	ok := h.guard.VerifyCaptcha(r.Context(), req.Token, normalizeIdentifier(req.Identifier), req.Answer, clientIP)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"verified": ok})
}

// normalizeIdentifier lowercases and trims so the same account always
// hits the same ledger row.
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
