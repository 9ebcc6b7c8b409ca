package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/adapters/livekit"
	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model"
	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	"github.com/ClareAI/voice-sell-agent/internal/core/session"
	"github.com/ClareAI/voice-sell-agent/internal/prompts"
	"github.com/ClareAI/voice-sell-agent/internal/services/call"
	"github.com/ClareAI/voice-sell-agent/internal/worker"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/ClareAI/voice-sell-agent/pkg/pubsub"
	"github.com/ClareAI/voice-sell-agent/pkg/redis"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const workerTokenTTL = time.Hour

func newWorkerCmd(cfg func() *config.AgentConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Register with LiveKit agent dispatch and handle calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cfg())
		},
	}
}

func runWorker(cfg *config.AgentConfig) error {
	logger.Base().Info("Starting voice sell agent worker",
		zap.String("version", version),
		zap.String("livekit_url", cfg.LiveKitURL),
		zap.String("livekit_api_key", config.Masked(cfg.LiveKitAPIKey)),
		zap.String("livekit_api_secret", config.Masked(cfg.LiveKitAPISecret)))

	if err := cfg.ValidateLiveKit(); err != nil {
		logger.Base().Error("Cannot start worker", zap.Error(err))
		return err
	}

	lkCfg, err := livekit.NewLiveKitConfig(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	if err != nil {
		return err
	}
	agentURL, err := lkCfg.AgentURL()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	factory := model.NewProviderFactory(cfg)
	logger.Base().Info("Speech providers",
		zap.String("stt", cfg.STTProvider),
		zap.String("llm", cfg.LLMProvider),
		zap.String("tts", cfg.TTSProvider),
		zap.Any("supported", factory.GetSupportedProviders()))
	resources, err := call.Prewarm(ctx, factory)
	if err != nil {
		return fmt.Errorf("prewarm failed: %w", err)
	}

	resolver, err := prompts.NewResolver(cfg.PromptTemplatePath, map[string]string{
		"business_name":  cfg.BusinessName,
		"knowledge_base": cfg.KnowledgeBase,
	}, prompts.BuiltinScenarios())
	if err != nil {
		return err
	}

	sessions, closeRegistry := newCallRegistry(ctx, cfg)
	defer closeRegistry()

	svc := call.NewService(cfg, resources, factory, resolver, sessions)
	if metrics := newMetricsPublisher(ctx, cfg); metrics != nil {
		defer metrics.Close()
		svc.SetMetricsPublisher(metrics)
	}

	rm, err := livekit.NewRoomManager(lkCfg, cfg.CompanionIdentityPrefix)
	if err != nil {
		return err
	}

	w := worker.New(worker.Options{
		URL:       agentURL,
		Token:     func() (string, error) { return lkCfg.WorkerToken(workerTokenTTL) },
		AgentName: cfg.AgentName,
		Version:   version,
		Admit: func(ctx context.Context, req *worker.JobRequest) error {
			return svc.Admit(ctx, req)
		},
		Entrypoint: svc.Entrypoint,
		Join: func(ctx context.Context, req worker.JoinRequest, bus event.Bus) (room.Room, error) {
			r, err := rm.JoinRoom(ctx, req.JobID, req.RoomName, req.URL, req.Token, bus)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
	})

	logger.Base().Info("Worker connecting to agent dispatch",
		zap.String("url", agentURL),
		zap.String("agent_name", cfg.AgentName))
	if err := w.Run(ctx); err != nil {
		return err
	}
	logger.Base().Info("Worker stopped",
		zap.String("worker_id", w.WorkerID()),
		zap.Int("active_calls", svc.ActiveCallCount()),
		zap.Int("joined_rooms", rm.GetRoomCount()))
	return nil
}

// newCallRegistry connects the optional Redis active-call registry. Without
// REDIS_ADDR, or when Redis is unreachable, calls run unregistered.
func newCallRegistry(ctx context.Context, cfg *config.AgentConfig) (*session.Manager, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}

	svc, err := redis.NewRedisService(&redis.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Base().Warn("Redis unavailable, active-call registry disabled", zap.Error(err))
		return nil, func() {}
	}

	logger.Base().Info("Active-call registry enabled", zap.String("redis_addr", cfg.RedisAddr))
	sessions := session.NewManager(svc, instanceID())
	if err := sessions.SubscribeToEnded(ctx, func(msg session.EndedMessage) {
		logger.Base().Debug("Call ended", zap.String("job_id", msg.JobID), zap.String("room_name", msg.RoomName))
	}); err != nil {
		logger.Base().Warn("Failed to subscribe to ended calls", zap.Error(err))
	}
	return sessions, func() {
		if err := svc.Close(); err != nil {
			logger.Base().Warn("Failed to close Redis", zap.Error(err))
		}
	}
}

// newMetricsPublisher connects the optional call metrics topic. It returns nil
// when Pub/Sub is not configured or cannot be reached.
func newMetricsPublisher(ctx context.Context, cfg *config.AgentConfig) *pubsub.PubSubService {
	psCfg := &pubsub.PubSubConfig{
		ProjectID:     cfg.PubSubProjectID,
		TopicName:     cfg.PubSubTopic,
		MetricsPrefix: cfg.PubSubMetricsPrefix,
	}
	if !psCfg.Configured() {
		return nil
	}

	svc, err := pubsub.NewPubSubService(ctx, psCfg)
	if err != nil {
		logger.Base().Warn("Pub/Sub unavailable, call metrics disabled", zap.Error(err))
		return nil
	}
	logger.Base().Info("Call metrics enabled",
		zap.String("project_id", psCfg.ProjectID),
		zap.String("topic", psCfg.TopicName))
	return svc
}

// instanceID is the pod name when available
func instanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "voicesell-" + uuid.NewString()
}
