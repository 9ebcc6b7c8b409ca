package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"go.uber.org/zap"
)

// inputLoop runs caller audio through the VAD and hands finished user turns to turnLoop.
func (s *Session) inputLoop(ctx context.Context, input <-chan provider.AudioFrame) {
	defer s.wg.Done()
	stream := s.services.VAD.NewStream()
	defer stream.Reset()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-input:
			if !ok {
				return
			}
			evt := stream.Push(frame)
			switch evt.Type {
			case provider.VADEventSpeechStart:
				s.setUserState(event.UserStateSpeaking)
				s.bargeIn()
			case provider.VADEventSpeechEnd:
				s.setUserState(event.UserStateListening)
				select {
				case s.turns <- evt.Speech:
				default:
					s.log.Warn("Turn queue full, dropping user utterance", zap.Float64("seconds", evt.Speech.Duration()))
				}
			}
		}
	}
}

func (s *Session) turnLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case speech := <-s.turns:
			s.handleTurn(ctx, speech)
		}
	}
}

func (s *Session) handleTurn(ctx context.Context, speech provider.AudioFrame) {
	text, err := s.services.STT.Transcribe(ctx, speech)
	if err != nil {
		s.log.Error("Failed to transcribe user turn", zap.Error(err))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.log.Info("User said", zap.String("text", text))
	s.appendHistory(provider.RoleUser, text)

	s.setAgentState(event.AgentStateThinking)
	reply, err := s.services.LLM.Generate(ctx, s.opts.Instructions, s.History())
	if err != nil {
		s.setAgentState(event.AgentStateIdle)
		s.log.Error("Failed to generate reply", zap.Error(err))
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		s.setAgentState(event.AgentStateIdle)
		return
	}

	if err := s.Say(ctx, reply, true); err != nil {
		s.log.Warn("Failed to speak reply", zap.Error(err))
	}
}

// awayLoop marks the user away once neither side has spoken for UserAwayTimeout.
func (s *Session) awayLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.opts.UserAwayTimeout / 10
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			idle := s.userState == event.UserStateListening &&
				!s.agentSpeaking &&
				time.Since(s.lastActivity) >= s.opts.UserAwayTimeout
			s.mu.Unlock()
			if idle {
				s.log.Info("No speech within away timeout, user is away", zap.Duration("timeout", s.opts.UserAwayTimeout))
				s.setUserState(event.UserStateAway)
			}
		}
	}
}
