package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
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

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "API_URL", "https://shkeeper.example.com/api/v1")
	setEnv(t, "API_KEY", "test-secret")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultGatewayName, cfg.GatewayName)
	assert.True(t, cfg.MinimalFiatTransaction.Equal(decimal.RequireFromString(DefaultMinimalFiat)))
	assert.False(t, cfg.RoundCreditAmount)
}

func TestLoad_MissingAPIURL(t *testing.T) {
	setEnv(t, "API_URL", "")
	setEnv(t, "API_KEY", "test-secret")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "API_URL is required")
}

func TestLoad_MissingAPIKey(t *testing.T) {
	setEnv(t, "API_URL", "https://shkeeper.example.com/api/v1")
	setEnv(t, "API_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY is required")
}

func TestLoad_InvalidMinimalFiat(t *testing.T) {
	setEnv(t, "API_URL", "https://shkeeper.example.com/api/v1")
	setEnv(t, "API_KEY", "test-secret")
	setEnv(t, "MINIMAL_FIAT_TRANSACTION", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MINIMAL_FIAT_TRANSACTION")
}

func TestLoad_PolicyOverrides(t *testing.T) {
	setEnv(t, "API_URL", "https://shkeeper.example.com/api/v1")
	setEnv(t, "API_KEY", "test-secret")
	setEnv(t, "MINIMAL_FIAT_TRANSACTION", "0.5")
	setEnv(t, "ROUND_CREDIT_AMOUNT", "true")
	setEnv(t, "GATEWAY_NAME", "shkeeper-eu")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.MinimalFiatTransaction.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, cfg.RoundCreditAmount)
	assert.Equal(t, "shkeeper-eu", cfg.GatewayName)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid",
			config: Config{
				APIURL:                 "https://shkeeper.example.com",
				APIKey:                 "secret",
				MinimalFiatTransaction: decimal.RequireFromString("0.1"),
			},
		},
		{
			name: "negative minimal fiat",
			config: Config{
				APIURL:                 "https://shkeeper.example.com",
				APIKey:                 "secret",
				MinimalFiatTransaction: decimal.RequireFromString("-1"),
			},
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
