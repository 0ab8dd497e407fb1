package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coopqueue/guard/internal/models"
	"github.com/coopqueue/guard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdminHandler(guard *MockGuardService, logStore *services.MockSecurityLogStore) *AdminHandler {
	events := services.NewSecurityLogService(logStore, slog.Default(), true, models.SeverityInfo)
	return NewAdminHandler(guard, events)
}

func TestAdminHandler_Status(t *testing.T) {
	guard := &MockGuardService{
		GetAccountStatusFunc: func(ctx context.Context, identifier string, attemptType models.AttemptType) (*models.AccountStatus, error) {
			return &models.AccountStatus{
				Identifier:     identifier,
				AttemptType:    attemptType,
				IsLocked:       true,
				FailedAttempts: 5,
			}, nil
		},
	}
	h := newTestAdminHandler(guard, &services.MockSecurityLogStore{})

	req := httptest.NewRequest(http.MethodGet, "/admin/status?identifier=User@Example.com&attempt_type=student_login", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var status models.AccountStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "user@example.com", status.Identifier)
	assert.True(t, status.IsLocked)
}

func TestAdminHandler_Status_MissingParams(t *testing.T) {
	h := newTestAdminHandler(&MockGuardService{}, &services.MockSecurityLogStore{})

	req := httptest.NewRequest(http.MethodGet, "/admin/status?identifier=user@example.com", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_Unlock(t *testing.T) {
	guard := &MockGuardService{
		UnlockAccountFunc: func(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error) {
			return true, nil
		},
	}
	h := newTestAdminHandler(guard, &services.MockSecurityLogStore{})

	rec := postJSON(t, h.Unlock, "/admin/unlock", UnlockRequest{
		Identifier:  "user@example.com",
		AttemptType: "student_login",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["unlocked"])
	assert.True(t, resp["record_existed"])
}

func TestAdminHandler_Unlock_NoRecordStillSucceeds(t *testing.T) {
	guard := &MockGuardService{
		UnlockAccountFunc: func(ctx context.Context, identifier string, attemptType models.AttemptType) (bool, error) {
			return false, nil
		},
	}
	h := newTestAdminHandler(guard, &services.MockSecurityLogStore{})

	rec := postJSON(t, h.Unlock, "/admin/unlock", UnlockRequest{
		Identifier:  "never-seen@example.com",
		AttemptType: "student_login",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["unlocked"])
	assert.False(t, resp["record_existed"])
}

func TestAdminHandler_BlockIP(t *testing.T) {
	var gotUntil *time.Time
	guard := &MockGuardService{
		BlockIPFunc: func(ctx context.Context, ipAddress, reason string, blockedUntil *time.Time) error {
			gotUntil = blockedUntil
			return nil
		},
	}
	h := newTestAdminHandler(guard, &services.MockSecurityLogStore{})

	rec := postJSON(t, h.BlockIP, "/admin/ip/block", BlockIPRequest{
		IPAddress: "198.51.100.7",
		Reason:    "abuse reported",
		Hours:     24,
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, gotUntil)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *gotUntil, 5*time.Second)
}

func TestAdminHandler_BlockIP_ZeroHoursIsPermanent(t *testing.T) {
	called := false
	guard := &MockGuardService{
		BlockIPFunc: func(ctx context.Context, ipAddress, reason string, blockedUntil *time.Time) error {
			called = true
			assert.Nil(t, blockedUntil)
			return nil
		},
	}
	h := newTestAdminHandler(guard, &services.MockSecurityLogStore{})

	rec := postJSON(t, h.BlockIP, "/admin/ip/block", BlockIPRequest{
		IPAddress: "198.51.100.7",
		Reason:    "abuse reported",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, called)
}

func TestAdminHandler_BlockIP_InvalidAddress(t *testing.T) {
	h := newTestAdminHandler(&MockGuardService{}, &services.MockSecurityLogStore{})

	rec := postJSON(t, h.BlockIP, "/admin/ip/block", BlockIPRequest{
		IPAddress: "not-an-ip",
		Reason:    "abuse reported",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_UnblockIP(t *testing.T) {
	guard := &MockGuardService{
		UnblockIPFunc: func(ctx context.Context, ipAddress string) (bool, error) {
			assert.Equal(t, "198.51.100.7", ipAddress)
			return true, nil
		},
	}
	h := newTestAdminHandler(guard, &services.MockSecurityLogStore{})

	rec := postJSON(t, h.UnblockIP, "/admin/ip/unblock", UnblockIPRequest{IPAddress: "198.51.100.7"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["unblocked"])
}

func TestAdminHandler_Events(t *testing.T) {
	logStore := &services.MockSecurityLogStore{
		ListRecentFunc: func(ctx context.Context, limit, offset int) ([]*models.SecurityLogEntry, error) {
			return []*models.SecurityLogEntry{
				{EventType: models.EventAccountLocked, Severity: models.SeverityWarning},
				{EventType: models.EventIPBlocked, Severity: models.SeverityCritical},
			}, nil
		},
	}
	h := newTestAdminHandler(&MockGuardService{}, logStore)

	req := httptest.NewRequest(http.MethodGet, "/admin/events", nil)
	rec := httptest.NewRecorder()
	h.Events(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []models.SecurityLogEntry `json:"events"`
		Count  int                       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestAdminHandler_Events_ByIdentifier(t *testing.T) {
	logStore := &services.MockSecurityLogStore{
		ListByIdentifierFunc: func(ctx context.Context, identifier string, limit, offset int) ([]*models.SecurityLogEntry, error) {
			assert.Equal(t, "user@example.com", identifier)
			return []*models.SecurityLogEntry{{EventType: models.EventLoginFailed}}, nil
		},
	}
	h := newTestAdminHandler(&MockGuardService{}, logStore)

	req := httptest.NewRequest(http.MethodGet, "/admin/events?identifier=User@Example.com&limit=10", nil)
	rec := httptest.NewRecorder()
	h.Events(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminHandler_Events_InvalidLimit(t *testing.T) {
	h := newTestAdminHandler(&MockGuardService{}, &services.MockSecurityLogStore{})

	req := httptest.NewRequest(http.MethodGet, "/admin/events?limit=abc", nil)
	rec := httptest.NewRecorder()
	h.Events(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandler_InvalidBody(t *testing.T) {
	h := newTestAdminHandler(&MockGuardService{}, &services.MockSecurityLogStore{})

	req := httptest.NewRequest(http.MethodPost, "/admin/unlock", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	h.Unlock(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
