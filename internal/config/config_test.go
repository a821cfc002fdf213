package config

import (
	"os"
	"testing"
	"time"

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
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "")
	setEnv(t, "HOLD_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, time.Duration(DefaultHoldTTL), cfg.HoldTTL)
	assert.Equal(t, DefaultReclaimBatchLimit, cfg.ReclaimBatchLimit)
	assert.Equal(t, DefaultServiceFeeBps, cfg.ServiceFeeBps)
	assert.Equal(t, time.Duration(DefaultApprovalCooldown), cfg.ApprovalCooldown)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")
	setEnv(t, "HOLD_TTL", "5m")
	setEnv(t, "SERVICE_FEE_BPS", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 500, cfg.ServiceFeeBps)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "ACTOR_TOKEN_SECRET", "")
	setEnv(t, "CRON_SECRET", "")
	setEnv(t, "DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACTOR_TOKEN_SECRET")
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:              DefaultPort,
			Env:               "development",
			PublicBaseURL:     "http://localhost:8080",
			ServiceFeeBps:     DefaultServiceFeeBps,
			HoldTTL:           DefaultHoldTTL,
			ReclaimBatchLimit: DefaultReclaimBatchLimit,
			ApprovalCooldown:  DefaultApprovalCooldown,
			EventReleaseDelay: DefaultEventReleaseDelay,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"fee too high", func(c *Config) { c.ServiceFeeBps = 10000 }, "SERVICE_FEE_BPS"},
		{"negative fee", func(c *Config) { c.ServiceFeeBps = -1 }, "SERVICE_FEE_BPS"},
		{"zero ttl", func(c *Config) { c.HoldTTL = 0 }, "HOLD_TTL"},
		{"zero reclaim limit", func(c *Config) { c.ReclaimBatchLimit = 0 }, "RECLAIM_BATCH_LIMIT"},
		{"zero cooldown", func(c *Config) { c.ApprovalCooldown = 0 }, "APPROVAL_COOLDOWN"},
		{"missing base url", func(c *Config) { c.PublicBaseURL = "" }, "PUBLIC_BASE_URL"},
		{"prod missing cron secret", func(c *Config) {
			c.Env = "production"
			c.ActorTokenSecret = "s"
			c.DatabaseURL = "postgres://x"
		}, "CRON_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIsProduction(t *testing.T) {
	cfg := Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
