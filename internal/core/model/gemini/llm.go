package gemini

import (
	"context"
	"fmt"

	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Config configures the Gemini text model
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// LLM generates replies with the Gemini API
type LLM struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewLLM creates a Gemini client. limiter may be nil.
func NewLLM(ctx context.Context, cfg Config, limiter *rate.Limiter) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", provider.ErrNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &LLM{client: client, model: cfg.Model, limiter: limiter}, nil
}

// Generate maps the history onto Gemini user/model turns
func (l *LLM) Generate(ctx context.Context, instructions string, history []provider.ConversationMessage) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case provider.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case provider.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("gemini: no user turn to answer")
	}

	var config *genai.GenerateContentConfig
	if instructions != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
		}
	}

	resp, err := l.client.Models.GenerateContent(ctx, l.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	return resp.Text(), nil
}
