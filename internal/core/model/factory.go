package model

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/cartesia"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/deepgram"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/gemini"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/groq"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/vad"
	"golang.org/x/time/rate"
)

type (
	STTBuilder func(ctx context.Context, cfg *config.AgentConfig, limiter *rate.Limiter) (provider.STT, error)
	LLMBuilder func(ctx context.Context, cfg *config.AgentConfig, limiter *rate.Limiter) (provider.LLM, error)
	TTSBuilder func(ctx context.Context, cfg *config.AgentConfig, limiter *rate.Limiter) (provider.TTS, error)
	VADBuilder func(cfg *config.AgentConfig) (provider.VAD, error)
)

// DefaultProviderFactory builds the speech and language capabilities named in the configuration
type DefaultProviderFactory struct {
	cfg     *config.AgentConfig
	limiter *rate.Limiter

	stt   map[provider.ProviderType]STTBuilder
	llm   map[provider.ProviderType]LLMBuilder
	tts   map[provider.ProviderType]TTSBuilder
	vad   map[provider.ProviderType]VADBuilder
	mutex sync.RWMutex
}

// NewProviderFactory creates a factory with the built-in vendors registered.
// All vendor clients it builds share one request rate limiter.
func NewProviderFactory(cfg *config.AgentConfig) *DefaultProviderFactory {
	limit := rate.Inf
	burst := 1
	if cfg.ProviderMaxRPS > 0 {
		limit = rate.Limit(cfg.ProviderMaxRPS)
		burst = int(math.Max(1, math.Ceil(cfg.ProviderMaxRPS)))
	}

	f := &DefaultProviderFactory{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		stt:     make(map[provider.ProviderType]STTBuilder),
		llm:     make(map[provider.ProviderType]LLMBuilder),
		tts:     make(map[provider.ProviderType]TTSBuilder),
		vad:     make(map[provider.ProviderType]VADBuilder),
	}

	f.RegisterSTT(provider.ProviderTypeDeepgram, func(_ context.Context, c *config.AgentConfig, l *rate.Limiter) (provider.STT, error) {
		stt, err := deepgram.NewSTT(deepgram.Config{APIKey: c.DeepgramAPIKey, Model: c.DeepgramModel}, l)
		if err != nil {
			return nil, err
		}
		return stt, nil
	})
	f.RegisterLLM(provider.ProviderTypeGroq, func(_ context.Context, c *config.AgentConfig, l *rate.Limiter) (provider.LLM, error) {
		llm, err := groq.NewLLM(groq.Config{APIKey: c.GroqAPIKey, Model: c.GroqModel}, l)
		if err != nil {
			return nil, err
		}
		return llm, nil
	})
	f.RegisterLLM(provider.ProviderTypeGemini, func(ctx context.Context, c *config.AgentConfig, l *rate.Limiter) (provider.LLM, error) {
		llm, err := gemini.NewLLM(ctx, gemini.Config{APIKey: c.GeminiAPIKey, Model: c.GeminiModel}, l)
		if err != nil {
			return nil, err
		}
		return llm, nil
	})
	f.RegisterTTS(provider.ProviderTypeCartesia, func(_ context.Context, c *config.AgentConfig, l *rate.Limiter) (provider.TTS, error) {
		tts, err := cartesia.NewTTS(cartesia.Config{
			APIKey:     c.CartesiaAPIKey,
			Model:      c.CartesiaModel,
			VoiceID:    c.CartesiaVoiceID,
			SampleRate: config.DefaultSampleRate,
		}, l)
		if err != nil {
			return nil, err
		}
		return tts, nil
	})
	f.RegisterVAD(provider.ProviderTypeEnergy, func(c *config.AgentConfig) (provider.VAD, error) {
		opts := vad.DefaultOptions()
		opts.Threshold = c.VADThreshold
		opts.MinSilence = c.VADMinSilence
		v, err := vad.NewEnergyVAD(opts)
		if err != nil {
			return nil, err
		}
		return v, nil
	})

	return f
}

// RegisterSTT registers a speech-to-text builder
func (f *DefaultProviderFactory) RegisterSTT(t provider.ProviderType, b STTBuilder) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.stt[t] = b
}

// RegisterLLM registers a language model builder
func (f *DefaultProviderFactory) RegisterLLM(t provider.ProviderType, b LLMBuilder) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.llm[t] = b
}

// RegisterTTS registers a text-to-speech builder
func (f *DefaultProviderFactory) RegisterTTS(t provider.ProviderType, b TTSBuilder) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.tts[t] = b
}

// RegisterVAD registers a voice activity detector builder
func (f *DefaultProviderFactory) RegisterVAD(t provider.ProviderType, b VADBuilder) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.vad[t] = b
}

// CreateSTT builds the configured STT_PROVIDER
func (f *DefaultProviderFactory) CreateSTT(ctx context.Context) (provider.STT, error) {
	f.mutex.RLock()
	b, ok := f.stt[provider.ProviderType(f.cfg.STTProvider)]
	f.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported STT provider: %s", f.cfg.STTProvider)
	}
	return b(ctx, f.cfg, f.limiter)
}

// CreateLLM builds the configured LLM_PROVIDER
func (f *DefaultProviderFactory) CreateLLM(ctx context.Context) (provider.LLM, error) {
	f.mutex.RLock()
	b, ok := f.llm[provider.ProviderType(f.cfg.LLMProvider)]
	f.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s", f.cfg.LLMProvider)
	}
	return b(ctx, f.cfg, f.limiter)
}

// CreateTTS builds the configured TTS_PROVIDER
func (f *DefaultProviderFactory) CreateTTS(ctx context.Context) (provider.TTS, error) {
	f.mutex.RLock()
	b, ok := f.tts[provider.ProviderType(f.cfg.TTSProvider)]
	f.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported TTS provider: %s", f.cfg.TTSProvider)
	}
	return b(ctx, f.cfg, f.limiter)
}

// CreateVAD builds the energy detector
func (f *DefaultProviderFactory) CreateVAD() (provider.VAD, error) {
	f.mutex.RLock()
	b, ok := f.vad[provider.ProviderTypeEnergy]
	f.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported VAD provider: %s", provider.ProviderTypeEnergy)
	}
	return b(f.cfg)
}

// GetSupportedProviders returns the registered provider names per capability
func (f *DefaultProviderFactory) GetSupportedProviders() map[string][]provider.ProviderType {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return map[string][]provider.ProviderType{
		"stt": sortedKeys(f.stt),
		"llm": sortedKeys(f.llm),
		"tts": sortedKeys(f.tts),
		"vad": sortedKeys(f.vad),
	}
}

func sortedKeys[T any](m map[provider.ProviderType]T) []provider.ProviderType {
	keys := make([]provider.ProviderType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
