package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	httpadapter "github.com/ClareAI/voice-sell-agent/internal/adapters/http"
	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/core/conversation"
	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	"github.com/ClareAI/voice-sell-agent/internal/core/session"
	"github.com/ClareAI/voice-sell-agent/internal/core/task"
	"github.com/ClareAI/voice-sell-agent/internal/prompts"
	"github.com/ClareAI/voice-sell-agent/internal/services/lead"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/ClareAI/voice-sell-agent/pkg/pubsub"
	"go.uber.org/zap"
)

// ModelFactory builds the per-call speech and language clients
type ModelFactory interface {
	CreateSTT(ctx context.Context) (provider.STT, error)
	CreateLLM(ctx context.Context) (provider.LLM, error)
}

// ScriptResolver picks the conversation script for a room
type ScriptResolver interface {
	Resolve(roomName string) (prompts.Script, error)
}

// Admission is a pending job offer from the dispatcher
type Admission interface {
	JobID() string
	RoomName() string
	Accept(identity string) error
}

// MetricsPublisher receives one summary per finished call
type MetricsPublisher interface {
	PublishCallMetrics(ctx context.Context, metrics pubsub.CallMetricsEvent) error
}

// Service runs calls for one worker process
type Service struct {
	config    *config.AgentConfig
	resources *Resources
	models    ModelFactory
	resolver  ScriptResolver
	sessions  *session.Manager
	webhook   lead.Deliverer
	metrics   MetricsPublisher

	calls map[string]*activeCall
	mutex sync.RWMutex
}

type activeCall struct {
	job       room.Job
	script    prompts.Script
	bus       *event.OrderedBus
	state     *session.State
	tasks     *task.Tracker
	room      room.Room
	session   *conversation.Session
	greeted   chan struct{}
	startedAt time.Time
	log       *zap.Logger

	outcomesMu sync.Mutex
	outcomes   []string
}

func (c *activeCall) recordOutcome(o lead.Outcome) {
	c.outcomesMu.Lock()
	c.outcomes = append(c.outcomes, string(o))
	c.outcomesMu.Unlock()
}

func (c *activeCall) leadOutcomes() []string {
	c.outcomesMu.Lock()
	defer c.outcomesMu.Unlock()
	return append([]string(nil), c.outcomes...)
}

// NewService creates the call service. sessions may be nil when no registry is used.
func NewService(cfg *config.AgentConfig, resources *Resources, models ModelFactory, resolver ScriptResolver, sessions *session.Manager) *Service {
	return &Service{
		config:    cfg,
		resources: resources,
		models:    models,
		resolver:  resolver,
		sessions:  sessions,
		webhook:   httpadapter.NewWebhookClient(cfg.WebhookURL, cfg.WebhookTimeout),
		calls:     make(map[string]*activeCall),
	}
}

// SetWebhook replaces the lead delivery client
func (s *Service) SetWebhook(d lead.Deliverer) {
	s.webhook = d
}

// SetMetricsPublisher enables per-call summaries. nil disables them.
func (s *Service) SetMetricsPublisher(p MetricsPublisher) {
	s.metrics = p
}

// Admit accepts every job offer under the agent identity
func (s *Service) Admit(ctx context.Context, req Admission) error {
	logger.Info(ctx, "Accepting job",
		zap.String("job_id", req.JobID()),
		zap.String("room", req.RoomName()),
		zap.String("identity", s.config.AgentIdentity))
	return req.Accept(s.config.AgentIdentity)
}

// ActiveCallCount returns the number of calls currently running
func (s *Service) ActiveCallCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.calls)
}

// Entrypoint runs one call until the session ends. Every error or panic is
// confined to this call and returned after teardown.
func (s *Service) Entrypoint(ctx context.Context, job room.Job) (err error) {
	c := &activeCall{
		job:       job,
		bus:       event.NewEventBus(job.ID()),
		state:     session.NewState(),
		startedAt: time.Now(),
		log:       logger.ForJob(job.ID(), job.RoomName()),
	}
	c.tasks = task.NewTracker(c.log)

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Call panicked", zap.Any("panic", r))
			err = fmt.Errorf("call panicked: %v", r)
		}
		if err != nil {
			c.log.Error("Call ended with error", zap.Error(err))
		}
		s.teardown(c, err)
	}()

	return s.run(ctx, c)
}

func (s *Service) run(ctx context.Context, c *activeCall) error {
	script, err := s.resolver.Resolve(c.job.RoomName())
	if err != nil {
		return fmt.Errorf("failed to resolve instructions: %w", err)
	}
	c.script = script
	c.log.Info("Starting call",
		zap.String("scenario", script.Name),
		zap.String("agent_identity", script.Identity))

	for _, mw := range event.CreateDefaultMiddlewareChain() {
		c.bus.Use(mw)
	}
	if err := session.NewMonitor(c.state, s.config.CompanionIdentityPrefix, c.log).Register(c.bus); err != nil {
		return fmt.Errorf("failed to register session monitor: %w", err)
	}
	if err := c.bus.Subscribe(event.ParticipantConnected, func(evt *event.Event) {
		if data, ok := evt.GetParticipantData(); ok {
			c.log.Info("Participant connected", zap.String("participant", data.Identity))
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to participant events: %w", err)
	}

	rm, err := c.job.Connect(ctx, c.bus)
	if err != nil {
		return fmt.Errorf("failed to connect to room: %w", err)
	}
	c.room = rm

	sess, err := s.newSession(ctx, c)
	if err != nil {
		return err
	}
	c.session = sess

	form := lead.NewFormHandler(c.state, sess, s.webhook, c.tasks, s.config.WebhookTimeout, c.log)
	form.OnOutcome(c.recordOutcome)
	if err := rm.RegisterRPCMethod(config.RPCMethodSubmitLeadForm, form.HandleSubmit); err != nil {
		return fmt.Errorf("failed to register %s: %w", config.RPCMethodSubmitLeadForm, err)
	}
	if err := rm.RegisterRPCMethod(config.RPCMethodFormDisplayed, form.HandleFormDisplayed); err != nil {
		return fmt.Errorf("failed to register %s: %w", config.RPCMethodFormDisplayed, err)
	}

	out, err := rm.PublishAudioTrack(config.AgentAudioTrackName)
	if err != nil {
		return fmt.Errorf("failed to publish agent audio: %w", err)
	}
	if err := sess.Start(ctx, conversation.IO{Input: rm.AudioInput(), Output: out}); err != nil {
		out.Close()
		return fmt.Errorf("failed to start session: %w", err)
	}

	s.track(ctx, c)

	// Greet right away instead of waiting for the caller's track.
	c.greeted = make(chan struct{})
	go func() {
		defer close(c.greeted)
		if err := sess.Say(ctx, script.Greeting, true); err != nil && !errors.Is(err, conversation.ErrSessionClosed) {
			c.log.Warn("Greeting failed", zap.Error(err))
		}
	}()

	select {
	case <-c.state.SessionEnded.Done():
		c.log.Info("Session ended")
	case <-ctx.Done():
		c.log.Info("Job cancelled", zap.Error(ctx.Err()))
	}
	c.log.Info("Call summary",
		zap.Bool("greeting_allowed", c.state.GreetingAllowed.IsSet()),
		zap.Duration("duration", time.Since(c.startedAt)))
	return nil
}

func (s *Service) newSession(ctx context.Context, c *activeCall) (*conversation.Session, error) {
	if s.resources == nil || s.resources.VAD == nil {
		return nil, fmt.Errorf("VAD was not prewarmed")
	}
	stt, err := s.models.CreateSTT(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create STT: %w", err)
	}
	llm, err := s.models.CreateLLM(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM: %w", err)
	}

	services := conversation.Services{STT: stt, LLM: llm, TTS: s.resources.TTS, VAD: s.resources.VAD}
	opts := conversation.Options{
		Instructions:    c.script.Instructions,
		TurnDetection:   conversation.TurnDetectionVAD,
		UserAwayTimeout: s.config.UserAwayTimeout,
	}
	sess, err := conversation.NewSession(services, c.bus, opts, c.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *Service) track(ctx context.Context, c *activeCall) {
	s.mutex.Lock()
	s.calls[c.job.ID()] = c
	s.mutex.Unlock()

	info := session.CallInfo{JobID: c.job.ID(), RoomName: c.job.RoomName(), Scenario: c.script.Name, StartTime: c.startedAt}
	if err := s.sessions.Register(ctx, info); err != nil {
		c.log.Warn("Failed to register active call", zap.Error(err))
	}
}

// teardown releases everything the call acquired, in reverse order.
func (s *Service) teardown(c *activeCall, callErr error) {
	drainCtx, cancel := context.WithTimeout(context.Background(), s.config.DeliveryDrainTimeout)
	if err := c.tasks.Wait(drainCtx); err != nil {
		c.log.Warn("Lead deliveries still in flight at teardown", zap.Error(err))
	}
	cancel()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.session != nil {
		if err := c.session.Close(closeCtx); err != nil {
			c.log.Warn("Failed to close session cleanly", zap.Error(err))
		}
	}
	if c.greeted != nil {
		<-c.greeted
	}

	if c.room != nil {
		c.room.Disconnect()
	}
	c.bus.Close()

	s.mutex.Lock()
	_, tracked := s.calls[c.job.ID()]
	delete(s.calls, c.job.ID())
	s.mutex.Unlock()
	if tracked {
		if err := s.sessions.Unregister(closeCtx, c.job.ID(), c.job.RoomName()); err != nil {
			c.log.Warn("Failed to unregister active call", zap.Error(err))
		}
	}

	reason := ""
	if callErr != nil {
		reason = callErr.Error()
	}
	s.publishMetrics(closeCtx, c, reason)
	c.job.Shutdown(reason)
	c.log.Info("Call torn down", zap.Duration("duration", time.Since(c.startedAt)))
}

func (s *Service) publishMetrics(ctx context.Context, c *activeCall, reason string) {
	if s.metrics == nil {
		return
	}
	end := time.Now()
	status := pubsub.StatusCompleted
	if reason != "" {
		status = pubsub.StatusFailed
	}
	evt := pubsub.CallMetricsEvent{
		ID:              c.job.ID(),
		RoomName:        c.job.RoomName(),
		Scenario:        c.script.Name,
		AgentIdentity:   c.script.Identity,
		Status:          status,
		Error:           reason,
		StartAt:         c.startedAt,
		EndAt:           end,
		Duration:        int(end.Sub(c.startedAt).Seconds()),
		GreetingAllowed: c.state.GreetingAllowed.IsSet(),
		LeadOutcomes:    c.leadOutcomes(),
	}
	if err := s.metrics.PublishCallMetrics(ctx, evt); err != nil {
		c.log.Warn("Failed to publish call metrics", zap.Error(err))
	}
}
