package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLLM_RequiresKey(t *testing.T) {
	_, err := NewLLM(context.Background(), Config{}, nil)
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
}

func TestLLM_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "gemini-2.0-flash:generateContent"), r.URL.Path)

		var body struct {
			Contents []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.Len(t, body.Contents, 2) {
			assert.Equal(t, "user", body.Contents[0].Role)
			assert.Equal(t, "model", body.Contents[1].Role)
		}
		if assert.NotNil(t, body.SystemInstruction) {
			assert.Equal(t, "You sell widgets.", body.SystemInstruction.Parts[0].Text)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Widgets are great."}]}}]}`))
	}))
	defer srv.Close()

	llm, err := NewLLM(context.Background(), Config{APIKey: "gm-key", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	reply, err := llm.Generate(context.Background(), "You sell widgets.", []provider.ConversationMessage{
		{Role: provider.RoleUser, Content: "what do you sell"},
		{Role: provider.RoleAssistant, Content: "Widgets."},
		{Role: provider.RoleSystem, Content: "ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Widgets are great.", reply)
}

func TestLLM_NoTurns(t *testing.T) {
	llm, err := NewLLM(context.Background(), Config{APIKey: "gm-key"}, nil)
	require.NoError(t, err)

	_, err = llm.Generate(context.Background(), "x", nil)
	assert.Error(t, err)
}
