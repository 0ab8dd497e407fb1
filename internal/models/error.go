package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Guard state errors
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrIPBlacklisted      = errors.New("ip address is blacklisted")
	ErrCaptchaRequired    = errors.New("captcha verification required")
	ErrChallengeExpired   = errors.New("captcha challenge expired")
	ErrChallengeExhausted = errors.New("captcha challenge attempt limit reached")
)
