package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted = errors.New("conversation session already started")
	ErrNotStarted     = errors.New("conversation session not started")
	ErrSessionClosed  = errors.New("conversation session closed")
)

// TurnDetectionVAD ends a user turn when the voice activity detector reports silence.
const TurnDetectionVAD = "vad"

// Options configures one session. Zero fields fall back to DefaultOptions.
type Options struct {
	Instructions    string
	TurnDetection   string
	UserAwayTimeout time.Duration
	FrameLength     time.Duration
	MaxHistory      int
}

// DefaultOptions returns the settings used for phone calls.
func DefaultOptions() Options {
	return Options{
		TurnDetection:   TurnDetectionVAD,
		UserAwayTimeout: 60 * time.Second,
		FrameLength:     20 * time.Millisecond,
		MaxHistory:      40,
	}
}

// Services are the speech and language capabilities a session is assembled from.
// TTS may be nil, in which case the session is mute.
type Services struct {
	STT provider.STT
	LLM provider.LLM
	TTS provider.TTS
	VAD provider.VAD
}

// IO connects a started session to the room.
type IO struct {
	Input  <-chan provider.AudioFrame
	Output room.AudioWriter
}

// Session runs the turn-taking loop of one call.
type Session struct {
	services Services
	opts     Options
	bus      event.Bus
	log      *zap.Logger

	mu            sync.Mutex
	started       bool
	closed        bool
	io            IO
	history       []provider.ConversationMessage
	current       *utterance
	userState     string
	agentState    string
	agentSpeaking bool
	lastActivity  time.Time

	speakSlot chan struct{}
	turns     chan provider.AudioFrame
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closedCh  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewSession assembles a session. User and agent state changes are published on bus.
func NewSession(services Services, bus event.Bus, opts Options, log *zap.Logger) (*Session, error) {
	if services.STT == nil || services.LLM == nil || services.VAD == nil {
		return nil, fmt.Errorf("session requires STT, LLM and VAD")
	}
	if bus == nil {
		return nil, fmt.Errorf("session requires an event bus")
	}
	if log == nil {
		log = zap.NewNop()
	}

	merged := DefaultOptions()
	if err := copier.CopyWithOption(&merged, &opts, copier.Option{IgnoreEmpty: true, DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to apply session options: %w", err)
	}
	if merged.TurnDetection != TurnDetectionVAD {
		return nil, fmt.Errorf("unsupported turn detection %q", merged.TurnDetection)
	}

	return &Session{
		services:   services,
		opts:       merged,
		bus:        bus,
		log:        log,
		userState:  event.UserStateListening,
		agentState: event.AgentStateIdle,
		speakSlot:  make(chan struct{}, 1),
		turns:      make(chan provider.AudioFrame, 8),
		closedCh:   make(chan struct{}),
	}, nil
}

// Options returns the effective options of the session.
func (s *Session) Options() Options {
	return s.opts
}

// Start begins listening. It may be called once.
func (s *Session) Start(ctx context.Context, io IO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.io = io
	s.lastActivity = time.Now()
	s.runCtx, s.cancel = context.WithCancel(ctx)

	if io.Input != nil {
		s.wg.Add(1)
		go s.inputLoop(s.runCtx, io.Input)
	}
	s.wg.Add(2)
	go s.turnLoop(s.runCtx)
	go s.awayLoop(s.runCtx)

	s.log.Info("Conversation session started",
		zap.String("turn_detection", s.opts.TurnDetection),
		zap.Duration("user_away_timeout", s.opts.UserAwayTimeout),
		zap.Bool("tts_available", s.services.TTS != nil))
	return nil
}

// Interrupt stops the utterance currently playing, whether or not it allows interruptions.
func (s *Session) Interrupt() {
	s.mu.Lock()
	u := s.current
	s.mu.Unlock()
	if u != nil {
		u.halt()
		s.log.Debug("Speech interrupted")
	}
}

// Close stops the session and releases the audio output. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		u := s.current
		cancel := s.cancel
		out := s.io.Output
		s.mu.Unlock()

		close(s.closedCh)
		if u != nil {
			u.halt()
		}
		if cancel != nil {
			cancel()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.closeErr = fmt.Errorf("session pipelines did not stop: %w", ctx.Err())
		}

		if out != nil {
			if err := out.Close(); err != nil && s.closeErr == nil {
				s.closeErr = fmt.Errorf("failed to close audio output: %w", err)
			}
		}
		s.log.Info("Conversation session closed")
	})
	return s.closeErr
}

// History returns a copy of the conversation so far.
func (s *Session) History() []provider.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.ConversationMessage, len(s.history))
	copy(out, s.history)
	return out
}

// UserState returns the last published user state.
func (s *Session) UserState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userState
}

func (s *Session) appendHistory(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, provider.ConversationMessage{Role: role, Content: content})
	if over := len(s.history) - s.opts.MaxHistory; over > 0 {
		s.history = append([]provider.ConversationMessage(nil), s.history[over:]...)
	}
}

func (s *Session) setUserState(newState string) {
	s.mu.Lock()
	old := s.userState
	if old == newState {
		s.mu.Unlock()
		return
	}
	s.userState = newState
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.publish(event.UserStateChanged, &event.StateEventData{OldState: old, NewState: newState})
}

func (s *Session) setAgentState(newState string) {
	s.mu.Lock()
	old := s.agentState
	if old == newState {
		s.mu.Unlock()
		return
	}
	s.agentState = newState
	s.mu.Unlock()

	s.publish(event.AgentStateChanged, &event.StateEventData{OldState: old, NewState: newState})
}

func (s *Session) publish(eventType event.EventType, data interface{}) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventType, data); err != nil {
		s.log.Debug("Dropped session event", zap.String("type", string(eventType)), zap.Error(err))
	}
}
