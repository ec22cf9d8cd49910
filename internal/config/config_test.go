package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Security: SecurityConfig{APIKey: "secret"},
		Onboarding: OnboardingConfig{
			OTPCooldownSeconds: 60,
			OTPMaxAttempts:     5,
			OTPTickInterval:    time.Second,
			MinHandleLength:    3,
			MaxHandleLength:    60,
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing api key",
			mutate: func(c *Config) { c.Security.APIKey = "" },
			want:   "API_KEY",
		},
		{
			name:   "zero cooldown",
			mutate: func(c *Config) { c.Onboarding.OTPCooldownSeconds = 0 },
			want:   "OTP_COOLDOWN_SECONDS",
		},
		{
			name:   "zero tick interval",
			mutate: func(c *Config) { c.Onboarding.OTPTickInterval = 0 },
			want:   "OTP_TICK_INTERVAL",
		},
		{
			name:   "negative tick interval",
			mutate: func(c *Config) { c.Onboarding.OTPTickInterval = -time.Second },
			want:   "OTP_TICK_INTERVAL",
		},
		{
			name:   "handle bounds inverted",
			mutate: func(c *Config) { c.Onboarding.MaxHandleLength = 2 },
			want:   "MAX_HANDLE_LENGTH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
