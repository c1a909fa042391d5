package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "")
	setEnv(t, "PORT", "")
	setEnv(t, "STREAM_RATE", "")
	setEnv(t, "PAYOUT_MINIMUM", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultStreamRate, cfg.StreamRate)
	assert.Equal(t, DefaultPayoutMinimum, cfg.PayoutMinimum)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "ENV", "staging")
	setEnv(t, "PORT", "9090")
	setEnv(t, "STREAM_RATE", "0.005")
	setEnv(t, "PAYOUT_MINIMUM", "25")
	setEnv(t, "RATE_LIMIT_RPM", "600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "0.005", cfg.StreamRate)
	assert.Equal(t, "25", cfg.PayoutMinimum)
	assert.Equal(t, 600, cfg.RateLimitRPM)
}

func TestLoad_InvalidStreamRate(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "STREAM_RATE", "free")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STREAM_RATE")
}

func TestValidate_ProductionRequirements(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "production without webhook secret",
			config: Config{
				Env: "production", StreamRate: "0.003", PayoutMinimum: "10",
				RateLimitRPM: 100, AdminSecret: "s",
			},
			wantErr: "GATEWAY_WEBHOOK_SECRET",
		},
		{
			name: "production without admin secret",
			config: Config{
				Env: "production", StreamRate: "0.003", PayoutMinimum: "10",
				RateLimitRPM: 100, GatewayWebhookSecret: "whsec",
			},
			wantErr: "ADMIN_SECRET",
		},
		{
			name: "production fully configured",
			config: Config{
				Env: "production", StreamRate: "0.003", PayoutMinimum: "10",
				RateLimitRPM: 100, GatewayWebhookSecret: "whsec", AdminSecret: "s",
			},
		},
		{
			name: "development needs no secrets",
			config: Config{
				Env: "development", StreamRate: "0.003", PayoutMinimum: "10",
				RateLimitRPM: 100,
			},
		},
		{
			name: "zero payout minimum rejected",
			config: Config{
				Env: "development", StreamRate: "0.003", PayoutMinimum: "0",
				RateLimitRPM: 100,
			},
			wantErr: "PAYOUT_MINIMUM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	setEnv(t, "ENV", "production")
	cfg := Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
