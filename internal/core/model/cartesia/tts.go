package cartesia

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.cartesia.ai"
	apiVersion     = "2024-06-10"
)

// Config configures the Cartesia bytes endpoint client
type Config struct {
	APIKey     string
	Model      string
	VoiceID    string
	SampleRate int
	BaseURL    string
	Timeout    time.Duration
}

type ttsRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceSpec    `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
}

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// TTS synthesizes raw PCM. It holds no per-call state and is shared across calls.
type TTS struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewTTS creates a client. limiter may be nil.
func NewTTS(cfg Config, limiter *rate.Limiter) (*TTS, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cartesia: %w", provider.ErrNotConfigured)
	}
	if cfg.VoiceID == "" {
		return nil, fmt.Errorf("cartesia: voice id is required")
	}
	if cfg.Model == "" {
		cfg.Model = "sonic-english"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TTS{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, limiter: limiter}, nil
}

// SampleRate returns the rate of the synthesized audio
func (t *TTS) SampleRate() int {
	return t.cfg.SampleRate
}

// Synthesize returns mono pcm_s16le audio for text
func (t *TTS) Synthesize(ctx context.Context, text string) (provider.AudioFrame, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return provider.AudioFrame{}, err
		}
	}

	payload, err := json.Marshal(ttsRequest{
		ModelID:    t.cfg.Model,
		Transcript: text,
		Voice:      voiceSpec{Mode: "id", ID: t.cfg.VoiceID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: t.cfg.SampleRate,
		},
	})
	if err != nil {
		return provider.AudioFrame{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/tts/bytes", bytes.NewReader(payload))
	if err != nil {
		return provider.AudioFrame{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", t.cfg.APIKey)
	req.Header.Set("Cartesia-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return provider.AudioFrame{}, fmt.Errorf("cartesia request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.AudioFrame{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return provider.AudioFrame{}, fmt.Errorf("cartesia returned status %d: %s", resp.StatusCode, string(raw))
	}
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}

	samples := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, samples); err != nil {
		return provider.AudioFrame{}, fmt.Errorf("failed to decode pcm: %w", err)
	}
	return provider.AudioFrame{Samples: samples, SampleRate: t.cfg.SampleRate, Channels: 1}, nil
}
