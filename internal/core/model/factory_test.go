package model

import (
	"context"
	"testing"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.AgentConfig {
	return &config.AgentConfig{
		STTProvider:     "deepgram",
		DeepgramAPIKey:  "dg",
		LLMProvider:     "groq",
		GroqAPIKey:      "gq",
		TTSProvider:     "cartesia",
		CartesiaAPIKey:  "ct",
		CartesiaVoiceID: config.DefaultCartesiaVoiceID,
		ProviderMaxRPS:  5,
		VADThreshold:    config.DefaultVADThreshold,
		VADMinSilence:   config.DefaultVADMinSilence,
	}
}

func TestFactory_BuildsConfiguredProviders(t *testing.T) {
	f := NewProviderFactory(testConfig())
	ctx := context.Background()

	stt, err := f.CreateSTT(ctx)
	require.NoError(t, err)
	assert.NotNil(t, stt)

	llm, err := f.CreateLLM(ctx)
	require.NoError(t, err)
	assert.NotNil(t, llm)

	tts, err := f.CreateTTS(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSampleRate, tts.SampleRate())

	vad, err := f.CreateVAD()
	require.NoError(t, err)
	assert.NotNil(t, vad.NewStream())
}

func TestFactory_MissingCredentialReturnsNilInterface(t *testing.T) {
	cfg := testConfig()
	cfg.CartesiaAPIKey = ""
	f := NewProviderFactory(cfg)

	tts, err := f.CreateTTS(context.Background())
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
	assert.Nil(t, tts)
}

func TestFactory_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.LLMProvider = "nope"
	f := NewProviderFactory(cfg)

	_, err := f.CreateLLM(context.Background())
	assert.ErrorContains(t, err, "unsupported LLM provider")

	supported := f.GetSupportedProviders()
	assert.Equal(t, []provider.ProviderType{provider.ProviderTypeGemini, provider.ProviderTypeGroq}, supported["llm"])
}
