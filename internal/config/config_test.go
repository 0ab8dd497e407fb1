package config

import (
	"testing"
	"time"

	"github.com/coopqueue/guard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ADMIN_JWT_SECRET", "a-sufficiently-long-test-secret")
	t.Setenv("DB_PASSWORD", "testpassword")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Guard.MaxLoginAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Guard.AttemptWindow)
	assert.Equal(t, 15*time.Minute, cfg.Guard.LockoutDuration)
	assert.Equal(t, 60*time.Minute, cfg.Guard.ExtendedLockoutDuration)
	assert.Equal(t, 3, cfg.Guard.CaptchaThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Guard.IPBanDuration)
	assert.True(t, cfg.Guard.EnableIPBlacklist)
	assert.True(t, cfg.Guard.EnableProgressiveDelay)
	assert.False(t, cfg.Guard.DebugMode)
	assert.Equal(t, models.SeverityInfo, cfg.Guard.LogSeverityLevel)
	assert.Equal(t, models.CaptchaTypeMath, cfg.Captcha.Type)
	assert.Equal(t, 5*time.Minute, cfg.Captcha.Expiry)
}

func TestLoad_UnparseableValuesAreFatal(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric threshold", "MAX_LOGIN_ATTEMPTS", "five"},
		{"non-boolean flag", "ENABLE_IP_BLACKLIST", "yep"},
		{"non-duration interval", "CLEANUP_INTERVAL", "hourly"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.key)
			assert.Contains(t, err.Error(), tc.value)
		})
	}
}

func TestLoad_ReportsEveryUnparseableValue(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_LOGIN_ATTEMPTS", "five")
	t.Setenv("IP_BAN_THRESHOLD", "many")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_LOGIN_ATTEMPTS")
	assert.Contains(t, err.Error(), "IP_BAN_THRESHOLD")
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")
	t.Setenv("ADMIN_JWT_SECRET", "")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_JWT_SECRET")
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")
	t.Setenv("ADMIN_JWT_SECRET", "short")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoad_ProductionRequiresLongerSecret(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_JWT_SECRET", "only-twenty-chars-x")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoad_MissingDBPassword(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "a-sufficiently-long-test-secret")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestLoad_CaptchaThresholdMustBeBelowLockThreshold(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("CAPTCHA_THRESHOLD", "3")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CAPTCHA_THRESHOLD")
}

func TestLoad_DebugModeRefusedInProduction(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_JWT_SECRET", "a-sufficiently-long-production-secret")
	t.Setenv("SECURITY_DEBUG_MODE", "true")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SECURITY_DEBUG_MODE")
}

func TestLoad_DebugModeAllowedInDevelopment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SECURITY_DEBUG_MODE", "true")

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, cfg.Guard.DebugMode)
}

func TestLoad_ExtendedLockoutShorterThanBase(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOCKOUT_DURATION_MINUTES", "60")
	t.Setenv("EXTENDED_LOCKOUT_MINUTES", "30")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoad_InvalidSeverityLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_SEVERITY_LEVEL", "verbose")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_SEVERITY_LEVEL")
}

func TestLoad_HostedCaptchaRequiresCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CAPTCHA_TYPE", "recaptcha")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RECAPTCHA_SECRET")
}

func TestLoad_HostedCaptchaWithCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CAPTCHA_TYPE", "recaptcha")
	t.Setenv("RECAPTCHA_SECRET", "secret-456")
	t.Setenv("RECAPTCHA_SITE_KEY", "site-key-123")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, models.CaptchaTypeRecaptcha, cfg.Captcha.Type)
}

func TestLoad_UnknownCaptchaType(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CAPTCHA_TYPE", "audio")

	_, err := Load()

	assert.Error(t, err)
}

func TestLoad_NotificationsRequireFromAddress(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENABLE_SECURITY_NOTIFICATIONS", "true")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NOTIFY_FROM_ADDRESS")
}

func TestLoad_WhitelistParsing(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("IP_WHITELIST", "10.0.0.1, 10.0.0.2 ,,192.168.1.5")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "192.168.1.5"}, cfg.Guard.IPWhitelist)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "pw",
		Name:     "coopguard",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=localhost port=5432 user=postgres password=pw dbname=coopguard sslmode=disable", cfg.DSN())
}
