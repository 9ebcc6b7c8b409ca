package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type PubSubConfig struct {
	ProjectID string
	TopicName string
	// MetricsPrefix is prepended to the "name" attribute of every message so
	// subscriptions can filter per environment ("", "beta", "stage").
	MetricsPrefix string
}

// Configured reports whether call metrics should be published at all
func (c *PubSubConfig) Configured() bool {
	return c != nil && c.ProjectID != "" && c.TopicName != ""
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallMetricsEvent is published once per call when it is torn down
type CallMetricsEvent struct {
	ID              string    `json:"id"`
	RoomName        string    `json:"room_name"`
	WorkerID        string    `json:"worker_id,omitempty"`
	Scenario        string    `json:"scenario,omitempty"`
	AgentIdentity   string    `json:"agent_identity,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	Duration        int       `json:"duration"`
	GreetingAllowed bool      `json:"greeting_allowed"`
	LeadOutcomes    []string  `json:"lead_outcomes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Call statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// NewPubSubService connects to the topic, creating it when it does not exist.
// opts are passed to the client, e.g. an emulator connection in tests.
func NewPubSubService(ctx context.Context, cfg *PubSubConfig, opts ...option.ClientOption) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topicname", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
		logger.Base().Info("Topic created successfully", zap.String("topicname", cfg.TopicName))
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallMetrics publishes a call summary and waits for the server to accept it
func (p *PubSubService) PublishCallMetrics(ctx context.Context, metrics CallMetricsEvent) error {
	if metrics.CreatedAt.IsZero() {
		metrics.CreatedAt = time.Now()
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal call metrics event: %w", err)
	}

	taskID := uuid.New().String()

	// Expected names: "call:metrics:<task>", "beta:call:metrics:<task>", etc.
	namePrefix := strings.TrimSuffix(p.config.MetricsPrefix, ":")
	if namePrefix != "" {
		namePrefix += ":"
	}

	message := &pubsub.Message{
		Attributes: map[string]string{
			"name":   fmt.Sprintf("%scall:metrics:%s", namePrefix, taskID),
			"status": metrics.Status,
		},
		Data: data,
	}

	result := p.topic.Publish(ctx, message)
	if _, err := result.Get(ctx); err != nil {
		logger.Base().Error("Failed to publish call metrics",
			zap.String("id", metrics.ID),
			zap.String("room", metrics.RoomName),
			zap.Error(err))
		return fmt.Errorf("failed to publish call metrics message: %w", err)
	}

	logger.Base().Info("Published call metrics",
		zap.String("id", metrics.ID),
		zap.String("room", metrics.RoomName),
		zap.String("status", metrics.Status),
		zap.String("task_id", taskID))
	return nil
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
