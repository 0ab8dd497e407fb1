package models

import "time"

// CaptchaType selects the challenge backend.
type CaptchaType string

const (
	CaptchaTypeRecaptcha   CaptchaType = "recaptcha"
	CaptchaTypeRecaptchaV3 CaptchaType = "recaptcha_v3"
	CaptchaTypeMath        CaptchaType = "math"
	CaptchaTypeText        CaptchaType = "text"
)

// Hosted reports whether the type delegates verification to an external
// service rather than a locally stored challenge.
func (t CaptchaType) Hosted() bool {
	return t == CaptchaTypeRecaptcha || t == CaptchaTypeRecaptchaV3
}

// CaptchaChallenge stores a locally generated puzzle. The answer column
// holds a bcrypt hash of the normalized answer, never the plaintext.
type CaptchaChallenge struct {
	ID              string      `db:"id"`
	Identifier      string      `db:"identifier"`
	ChallengeToken  string      `db:"challenge_token"`
	ChallengeAnswer string      `db:"challenge_answer"`
	ChallengeType   CaptchaType `db:"challenge_type"`
	IsSolved        bool        `db:"is_solved"`
	Attempts        int         `db:"attempts"`
	ExpiresAt       time.Time   `db:"expires_at"`
	CreatedAt       time.Time   `db:"created_at"`
}

// ChallengeDescriptor is what a client needs to render a challenge.
// Hosted types carry the site key; local types carry a token and, for
// math puzzles, the question text.
type ChallengeDescriptor struct {
	Type      CaptchaType `json:"type"`
	SiteKey   string      `json:"site_key,omitempty"`
	Token     string      `json:"token,omitempty"`
	Question  string      `json:"question,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}
