package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLiveKit(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AgentConfig
		missing []string
	}{
		{
			name: "complete",
			cfg:  AgentConfig{LiveKitURL: "wss://x.livekit.cloud", LiveKitAPIKey: "key", LiveKitAPISecret: "secret"},
		},
		{
			name:    "missing url",
			cfg:     AgentConfig{LiveKitAPIKey: "key", LiveKitAPISecret: "secret"},
			missing: []string{"LIVEKIT_URL"},
		},
		{
			name:    "missing key",
			cfg:     AgentConfig{LiveKitURL: "wss://x.livekit.cloud", LiveKitAPISecret: "secret"},
			missing: []string{"LIVEKIT_API_KEY"},
		},
		{
			name:    "missing secret",
			cfg:     AgentConfig{LiveKitURL: "wss://x.livekit.cloud", LiveKitAPIKey: "key"},
			missing: []string{"LIVEKIT_API_SECRET"},
		},
		{
			name:    "nothing set",
			missing: []string{"LIVEKIT_URL", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateLiveKit()
			if len(tt.missing) == 0 {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrMissingLiveKitConfig)
			for _, key := range tt.missing {
				assert.Contains(t, err.Error(), key)
			}
		})
	}
}

func TestLoadConfigFromEnv_MissingLiveKitFailsValidation(t *testing.T) {
	t.Setenv("LIVEKIT_URL", "")
	t.Setenv("LIVEKIT_API_KEY", "key")
	t.Setenv("LIVEKIT_API_SECRET", "")

	assert.ErrorIs(t, LoadConfigFromEnv().ValidateLiveKit(), ErrMissingLiveKitConfig)
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "unset", value: "", want: 7 * time.Second},
		{name: "bare seconds", value: "60", want: time.Minute},
		{name: "fractional seconds", value: "1.5", want: 1500 * time.Millisecond},
		{name: "go duration", value: "90s", want: 90 * time.Second},
		{name: "go duration minutes", value: "2m", want: 2 * time.Minute},
		{name: "garbage", value: "soon", want: 7 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VOICESELL_TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, getEnvAsDurationOrDefault("VOICESELL_TEST_DURATION", 7*time.Second))
		})
	}
}

func TestLoadConfigFromEnv_Durations(t *testing.T) {
	t.Setenv("USER_AWAY_TIMEOUT", "45")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")
	t.Setenv("DELIVERY_DRAIN_TIMEOUT", "")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, 45*time.Second, cfg.UserAwayTimeout)
	assert.Equal(t, 3*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, DefaultDeliveryDrainTimeout, cfg.DeliveryDrainTimeout)
}

func TestGetEnvNumbersFallBack(t *testing.T) {
	t.Setenv("VOICESELL_TEST_NUMBER", "abc")
	assert.Equal(t, 3, getEnvAsIntOrDefault("VOICESELL_TEST_NUMBER", 3))
	assert.Equal(t, 0.5, getEnvAsFloatOrDefault("VOICESELL_TEST_NUMBER", 0.5))

	t.Setenv("VOICESELL_TEST_NUMBER", "2")
	assert.Equal(t, 2, getEnvAsIntOrDefault("VOICESELL_TEST_NUMBER", 3))
	assert.Equal(t, 2.0, getEnvAsFloatOrDefault("VOICESELL_TEST_NUMBER", 0.5))
}

func TestMasked(t *testing.T) {
	secret := "lk-secret-value-123"
	assert.Equal(t, "***", Masked(secret))
	assert.NotContains(t, Masked(secret), "lk-secret")
	assert.Equal(t, "NOT SET", Masked(""))
}
