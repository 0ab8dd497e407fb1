package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coopqueue/guard/internal/models"
	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Admin    AdminConfig
	Guard    GuardConfig
	Captcha  CaptchaConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
}

type AdminConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// GuardConfig carries every lockout/blacklist threshold. Load rejects
// out-of-range values instead of falling back to permissive defaults.
type GuardConfig struct {
	MaxLoginAttempts            int
	AttemptWindow               time.Duration
	LockoutDuration             time.Duration
	ExtendedLockoutDuration     time.Duration
	LockoutThresholdForExtended int
	CaptchaThreshold            int
	IPBanThreshold              int
	IPBanDuration               time.Duration // zero means permanent bans
	EnableIPBlacklist           bool
	IPWhitelist                 []string
	EnableProgressiveDelay      bool
	ProgressiveDelayBase        time.Duration
	ProgressiveDelayMax         time.Duration
	EnableSecurityLogging       bool
	LogSeverityLevel            models.Severity
	EnableNotifications         bool
	DebugMode                   bool

	CleanupInterval  time.Duration
	LogRetentionDays int
}

type CaptchaConfig struct {
	Enabled       bool
	Type          models.CaptchaType
	Expiry        time.Duration
	MaxAttempts   int
	SiteKey       string
	Secret        string
	VerifyURL     string
	VerifyTimeout time.Duration
}

type NotifyConfig struct {
	AWSRegion         string
	FromAddress       string
	OperatorAddresses []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	envs := &envReader{}
	env := getEnv("ENV", "development")

	jwtSecret := getEnv("ADMIN_JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("ADMIN_JWT_SECRET is required")
	}
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              envs.Int("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "coopguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(envs.Int("DB_MAX_CONNS", 25)),
			MinConns:          int32(envs.Int("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   envs.Duration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   envs.Duration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: envs.Duration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: splitAndTrim(getEnv("TRUSTED_PROXIES", "")),
		},
		Admin: AdminConfig{
			JWTSecret:   jwtSecret,
			TokenExpiry: envs.Duration("ADMIN_TOKEN_EXPIRY", 1*time.Hour),
		},
		Guard: GuardConfig{
			MaxLoginAttempts:            envs.Int("MAX_LOGIN_ATTEMPTS", 5),
			AttemptWindow:               envs.Minutes("ATTEMPT_WINDOW_MINUTES", 15),
			LockoutDuration:             envs.Minutes("LOCKOUT_DURATION_MINUTES", 15),
			ExtendedLockoutDuration:     envs.Minutes("EXTENDED_LOCKOUT_MINUTES", 60),
			LockoutThresholdForExtended: envs.Int("LOCKOUT_THRESHOLD_FOR_EXTENDED", 3),
			CaptchaThreshold:            envs.Int("CAPTCHA_THRESHOLD", 3),
			IPBanThreshold:              envs.Int("IP_BAN_THRESHOLD", 5),
			IPBanDuration:               time.Duration(envs.Int("IP_BAN_DURATION_HOURS", 24)) * time.Hour,
			EnableIPBlacklist:           envs.Bool("ENABLE_IP_BLACKLIST", true),
			IPWhitelist:                 splitAndTrim(getEnv("IP_WHITELIST", "")),
			EnableProgressiveDelay:      envs.Bool("ENABLE_PROGRESSIVE_DELAY", true),
			ProgressiveDelayBase:        time.Duration(envs.Int("PROGRESSIVE_DELAY_BASE", 1)) * time.Second,
			ProgressiveDelayMax:         time.Duration(envs.Int("PROGRESSIVE_DELAY_MAX", 16)) * time.Second,
			EnableSecurityLogging:       envs.Bool("ENABLE_SECURITY_LOGGING", true),
			LogSeverityLevel:            models.Severity(getEnv("LOG_SEVERITY_LEVEL", "info")),
			EnableNotifications:         envs.Bool("ENABLE_SECURITY_NOTIFICATIONS", false),
			DebugMode:                   envs.Bool("SECURITY_DEBUG_MODE", false),
			CleanupInterval:             envs.Duration("CLEANUP_INTERVAL", 1*time.Hour),
			LogRetentionDays:            envs.Int("LOG_RETENTION_DAYS", 90),
		},
		Captcha: CaptchaConfig{
			Enabled:       envs.Bool("ENABLE_CAPTCHA", true),
			Type:          models.CaptchaType(getEnv("CAPTCHA_TYPE", "math")),
			Expiry:        envs.Minutes("CAPTCHA_EXPIRY_MINUTES", 5),
			MaxAttempts:   envs.Int("CAPTCHA_MAX_ATTEMPTS", 5),
			SiteKey:       getEnv("RECAPTCHA_SITE_KEY", ""),
			Secret:        getEnv("RECAPTCHA_SECRET", ""),
			VerifyURL:     getEnv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
			VerifyTimeout: envs.Duration("RECAPTCHA_VERIFY_TIMEOUT", 5*time.Second),
		},
		Notify: NotifyConfig{
			AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
			FromAddress:       getEnv("NOTIFY_FROM_ADDRESS", ""),
			OperatorAddresses: splitAndTrim(getEnv("NOTIFY_OPERATOR_ADDRESSES", "")),
		},
	}

	if err := envs.Err(); err != nil {
		return nil, err
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Guard.validate(env); err != nil {
		return nil, err
	}
	if err := cfg.Captcha.validate(); err != nil {
		return nil, err
	}
	if cfg.Guard.EnableNotifications && cfg.Notify.FromAddress == "" {
		return nil, fmt.Errorf("NOTIFY_FROM_ADDRESS is required when ENABLE_SECURITY_NOTIFICATIONS is set")
	}

	return cfg, nil
}

// validate rejects threshold misconfiguration at startup. Silently
// falling back to permissive defaults would leave login endpoints
// unguarded.
func (g *GuardConfig) validate(env string) error {
	if g.MaxLoginAttempts < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1 (got %d)", g.MaxLoginAttempts)
	}
	if g.AttemptWindow <= 0 {
		return fmt.Errorf("ATTEMPT_WINDOW_MINUTES must be positive")
	}
	if g.LockoutDuration <= 0 || g.ExtendedLockoutDuration <= 0 {
		return fmt.Errorf("lockout durations must be positive")
	}
	if g.ExtendedLockoutDuration < g.LockoutDuration {
		return fmt.Errorf("EXTENDED_LOCKOUT_MINUTES must not be shorter than LOCKOUT_DURATION_MINUTES")
	}
	if g.LockoutThresholdForExtended < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD_FOR_EXTENDED must be at least 1")
	}
	if g.CaptchaThreshold < 1 {
		return fmt.Errorf("CAPTCHA_THRESHOLD must be at least 1")
	}
	// A CAPTCHA threshold at or above the lock threshold means the
	// challenge would never appear before the hard lock.
	if g.CaptchaThreshold >= g.MaxLoginAttempts {
		return fmt.Errorf("CAPTCHA_THRESHOLD (%d) must be below MAX_LOGIN_ATTEMPTS (%d)",
			g.CaptchaThreshold, g.MaxLoginAttempts)
	}
	if g.IPBanThreshold < 1 {
		return fmt.Errorf("IP_BAN_THRESHOLD must be at least 1")
	}
	if g.ProgressiveDelayBase <= 0 || g.ProgressiveDelayMax < g.ProgressiveDelayBase {
		return fmt.Errorf("progressive delay base/max misconfigured")
	}
	if g.LogSeverityLevel.Rank() < 0 {
		return fmt.Errorf("LOG_SEVERITY_LEVEL must be one of: info, warning, critical")
	}
	if g.DebugMode && env == "production" {
		return fmt.Errorf("SECURITY_DEBUG_MODE cannot be enabled in production")
	}
	return nil
}

func (c *CaptchaConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Type {
	case models.CaptchaTypeRecaptcha, models.CaptchaTypeRecaptchaV3:
		if c.Secret == "" {
			return fmt.Errorf("RECAPTCHA_SECRET is required for CAPTCHA_TYPE=%s", c.Type)
		}
		if c.SiteKey == "" {
			return fmt.Errorf("RECAPTCHA_SITE_KEY is required for CAPTCHA_TYPE=%s", c.Type)
		}
	case models.CaptchaTypeMath, models.CaptchaTypeText:
		// local challenges need no external credentials
	default:
		return fmt.Errorf("CAPTCHA_TYPE must be one of: recaptcha, recaptcha_v3, math, text (got %q)", c.Type)
	}
	if c.Expiry <= 0 {
		return fmt.Errorf("CAPTCHA_EXPIRY_MINUTES must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("CAPTCHA_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// validateJWTSecret enforces minimum strength for the admin token secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("ADMIN_JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

// envReader parses typed environment variables and collects every
// malformed value so Load can refuse to start instead of silently
// falling back to a default the operator did not ask for.
type envReader struct {
	problems []string
}

func (e *envReader) Int(key string, defaultVal int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: %q is not a valid integer", key, value))
		return defaultVal
	}
	return intVal
}

func (e *envReader) Bool(key string, defaultVal bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: %q is not a valid boolean", key, value))
		return defaultVal
	}
	return boolVal
}

func (e *envReader) Duration(key string, defaultVal time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: %q is not a valid duration", key, value))
		return defaultVal
	}
	return duration
}

func (e *envReader) Minutes(key string, defaultVal int) time.Duration {
	return time.Duration(e.Int(key, defaultVal)) * time.Minute
}

func (e *envReader) Err() error {
	if len(e.problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(e.problems, "; "))
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
