package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coopqueue/guard/internal/config"
	"github.com/coopqueue/guard/internal/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// CaptchaChallengeStore defines persistence for local challenges
type CaptchaChallengeStore interface {
	Create(ctx context.Context, challenge *models.CaptchaChallenge) error
	GetByToken(ctx context.Context, token string) (*models.CaptchaChallenge, error)
	RegisterAttempt(ctx context.Context, token string) (int, error)
	MarkSolved(ctx context.Context, token string) error
}

const textChallengeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

// CaptchaService issues and verifies challenges. Hosted types delegate
// to the remote verifier; math and text puzzles are stored locally with
// a bcrypt-hashed answer.
type CaptchaService struct {
	repo   CaptchaChallengeStore
	cfg    config.CaptchaConfig
	client *http.Client
	events *SecurityLogService
	logger *slog.Logger
	now    func() time.Time
}

// NewCaptchaService creates a new CaptchaService
func NewCaptchaService(repo CaptchaChallengeStore, cfg config.CaptchaConfig, events *SecurityLogService, logger *slog.Logger) *CaptchaService {
	return &CaptchaService{
		repo:   repo,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.VerifyTimeout},
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source for deterministic expiry tests
func (s *CaptchaService) SetClock(now func() time.Time) {
	s.now = now
}

// Enabled reports whether the gate is active. Safe on a nil receiver
// so callers wired without a captcha service get the same answer as a
// disabled one.
func (s *CaptchaService) Enabled() bool {
	return s != nil && s.cfg.Enabled
}

// Generate creates a challenge descriptor for the identifier. Hosted
// types keep no local state; the client solves against the provider.
func (s *CaptchaService) Generate(ctx context.Context, identifier string) (*models.ChallengeDescriptor, error) {
	if s.cfg.Type.Hosted() {
		return &models.ChallengeDescriptor{
			Type:    s.cfg.Type,
			SiteKey: s.cfg.SiteKey,
		}, nil
	}

	var question, answer string
	switch s.cfg.Type {
	case models.CaptchaTypeMath:
		a, err := randomInt(12)
		if err != nil {
			return nil, fmt.Errorf("failed to generate captcha: %w", err)
		}
		b, err := randomInt(12)
		if err != nil {
			return nil, fmt.Errorf("failed to generate captcha: %w", err)
		}
		a, b = a+1, b+1
		question = fmt.Sprintf("What is %d + %d?", a, b)
		answer = strconv.Itoa(a + b)
	case models.CaptchaTypeText:
		code, err := randomString(6)
		if err != nil {
			return nil, fmt.Errorf("failed to generate captcha: %w", err)
		}
		question = fmt.Sprintf("Type the following code: %s", code)
		answer = code
	default:
		return nil, fmt.Errorf("unsupported captcha type %q", s.cfg.Type)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(normalizeAnswer(answer)), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash captcha answer: %w", err)
	}

	token := uuid.New().String()
	expiresAt := s.now().Add(s.cfg.Expiry)

	challenge := &models.CaptchaChallenge{
		Identifier:      identifier,
		ChallengeToken:  token,
		ChallengeAnswer: string(hash),
		ChallengeType:   s.cfg.Type,
		ExpiresAt:       expiresAt,
	}
	if err := s.repo.Create(ctx, challenge); err != nil {
		return nil, err
	}

	return &models.ChallengeDescriptor{
		Type:      s.cfg.Type,
		Token:     token,
		Question:  question,
		ExpiresAt: &expiresAt,
	}, nil
}

// Verify checks a CAPTCHA response. Hosted types forward the response
// token to the remote verifier; local types look up the stored
// challenge. Network and provider failures fail closed and never
// propagate as errors.
func (s *CaptchaService) Verify(ctx context.Context, tokenOrResponse, identifier, answer, clientIP string) bool {
	if s.cfg.Type.Hosted() {
		return s.verifyHosted(ctx, tokenOrResponse, identifier, clientIP)
	}
	return s.verifyLocal(ctx, tokenOrResponse, identifier, answer, clientIP)
}

// siteverifyResponse mirrors the provider's JSON wire contract
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func (s *CaptchaService) verifyHosted(ctx context.Context, responseToken, identifier, clientIP string) bool {
	form := url.Values{}
	form.Set("secret", s.cfg.Secret)
	form.Set("response", responseToken)
	form.Set("remoteip", clientIP)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		s.failHosted(ctx, identifier, clientIP, "verification request could not be built", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		s.failHosted(ctx, identifier, clientIP, "verification service unreachable", err)
		return false
	}
	defer resp.Body.Close()

	var result siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		s.failHosted(ctx, identifier, clientIP, "verification service returned malformed response", err)
		return false
	}

	if !result.Success {
		s.events.Append(ctx, models.EventCaptchaFailed, models.SeverityWarning, models.UserTypeGuest,
			identifier, clientIP, "",
			"captcha verification rejected by provider",
			models.EventMetadata{"error_codes": result.ErrorCodes})
		return false
	}

	s.events.Append(ctx, models.EventCaptchaSuccess, models.SeverityInfo, models.UserTypeGuest,
		identifier, clientIP, "", "captcha verified by provider", nil)
	return true
}

// failHosted logs a provider/network failure distinctly from a
// wrong-answer failure. Fail closed.
func (s *CaptchaService) failHosted(ctx context.Context, identifier, clientIP, description string, err error) {
	s.logger.WarnContext(ctx, "hosted captcha verification failed",
		slog.String("identifier", identifier),
		slog.Any("error", err),
	)
	s.events.Append(ctx, models.EventCaptchaFailed, models.SeverityWarning, models.UserTypeGuest,
		identifier, clientIP, "", description, nil)
}

func (s *CaptchaService) verifyLocal(ctx context.Context, token, identifier, answer, clientIP string) bool {
	challenge, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to load captcha challenge", slog.Any("error", err))
		}
		s.events.Append(ctx, models.EventCaptchaFailed, models.SeverityWarning, models.UserTypeGuest,
			identifier, clientIP, "", "unknown captcha token", nil)
		return false
	}

	// The counter moves on every check, pass or fail, so the puzzle
	// itself cannot be brute-forced.
	attempts, err := s.repo.RegisterAttempt(ctx, token)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to register captcha attempt", slog.Any("error", err))
		return false
	}

	switch {
	case challenge.IsSolved:
		s.events.Append(ctx, models.EventCaptchaFailed, models.SeverityWarning, models.UserTypeGuest,
			identifier, clientIP, "", "captcha challenge already solved", nil)
		return false
	case !challenge.ExpiresAt.After(s.now()):
		s.events.Append(ctx, models.EventCaptchaFailed, models.SeverityWarning, models.UserTypeGuest,
			identifier, clientIP, "", "captcha challenge expired", nil)
		return false
	case attempts > s.cfg.MaxAttempts:
		s.events.Append(ctx, models.EventCaptchaFailed, models.SeverityWarning, models.UserTypeGuest,
			identifier, clientIP, "", "captcha attempt limit reached", nil)
		return false
	}

	if bcrypt.CompareHashAndPassword([]byte(challenge.ChallengeAnswer), []byte(normalizeAnswer(answer))) != nil {
		s.events.Append(ctx, models.EventCaptchaFailed, models.SeverityWarning, models.UserTypeGuest,
			identifier, clientIP, "", "incorrect captcha answer",
			models.EventMetadata{"attempts": attempts})
		return false
	}

	if err := s.repo.MarkSolved(ctx, token); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark captcha solved", slog.Any("error", err))
		return false
	}

	s.events.Append(ctx, models.EventCaptchaSuccess, models.SeverityInfo, models.UserTypeGuest,
		identifier, clientIP, "", "captcha solved", nil)
	return true
}

// normalizeAnswer trims and lowercases so comparisons are forgiving of
// case and stray whitespace.
func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// randomInt returns a secure random number in [0, max)
func randomInt(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}

	return int(binary.BigEndian.Uint64(buf) % uint64(max)), nil
}

// randomString returns a secure random code drawn from an alphabet with
// ambiguous characters removed.
func randomString(length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		idx, err := randomInt(len(textChallengeAlphabet))
		if err != nil {
			return "", err
		}
		out[i] = textChallengeAlphabet[idx]
	}
	return string(out), nil
}
