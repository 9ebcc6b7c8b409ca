package livekit

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/livekit/protocol/auth"
	"go.uber.org/zap"
)

// LiveKitConfig holds LiveKit server configuration
type LiveKitConfig struct {
	ServerURL string // LiveKit server URL (ws, wss, http or https)
	APIKey    string
	APISecret string
}

// NewLiveKitConfig creates a new LiveKit configuration with validation
func NewLiveKitConfig(serverURL, apiKey, apiSecret string) (*LiveKitConfig, error) {
	config := &LiveKitConfig{
		ServerURL: serverURL,
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Base().Info("LiveKit configuration initialized", zap.String("server_url", serverURL))
	return config, nil
}

// Validate validates the LiveKit configuration
func (c *LiveKitConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("LiveKit server URL is required")
	}
	if c.APIKey == "" {
		return errors.New("LiveKit API key is required")
	}
	if c.APISecret == "" {
		return errors.New("LiveKit API secret is required")
	}
	return nil
}

// AgentURL returns the websocket endpoint agent workers register on
func (c *LiveKitConfig) AgentURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid LiveKit server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported LiveKit URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/agent"
	return u.String(), nil
}

// WorkerToken generates the token a worker registers with
func (c *LiveKitConfig) WorkerToken(validFor time.Duration) (string, error) {
	at := auth.NewAccessToken(c.APIKey, c.APISecret)
	at.SetVideoGrant(&auth.VideoGrant{Agent: true}).
		SetValidFor(validFor)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT: %w", err)
	}
	return token, nil
}
