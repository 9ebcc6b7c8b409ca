package deepgram

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.deepgram.com"

// Config configures the Deepgram pre-recorded transcription client
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// STT transcribes finished utterances through Deepgram's listen endpoint
type STT struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewSTT creates a client. limiter may be nil.
func NewSTT(cfg Config, limiter *rate.Limiter) (*STT, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: %w", provider.ErrNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &STT{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}, nil
}

// Transcribe sends the utterance as raw linear16 PCM and returns the best transcript
func (s *STT) Transcribe(ctx context.Context, audio provider.AudioFrame) (string, error) {
	if len(audio.Samples) == 0 {
		return "", nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	channels := audio.Channels
	if channels == 0 {
		channels = 1
	}
	q := url.Values{}
	q.Set("model", s.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("smart_format", "true")

	body := new(bytes.Buffer)
	if err := binary.Write(body, binary.LittleEndian, audio.Samples); err != nil {
		return "", fmt.Errorf("failed to encode audio: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/listen?"+q.Encode(), body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepgram returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed listenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}

	best := parsed.Results.Channels[0].Alternatives[0]
	logger.Base().Debug("Deepgram transcript",
		zap.Duration("latency", time.Since(start)),
		zap.Float64("confidence", best.Confidence),
		zap.Float64("audio_seconds", audio.Duration()))
	return best.Transcript, nil
}
