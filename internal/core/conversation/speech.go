package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	"go.uber.org/zap"
)

type utterance struct {
	stop          chan struct{}
	once          sync.Once
	interruptible bool
}

func (u *utterance) halt() {
	u.once.Do(func() { close(u.stop) })
}

func (u *utterance) halted() bool {
	select {
	case <-u.stop:
		return true
	default:
		return false
	}
}

// Say speaks text. Utterances are queued and played one at a time; Say returns once
// the text was played out or interrupted. Without TTS it logs and returns nil.
func (s *Session) Say(ctx context.Context, text string, allowInterruptions bool) error {
	if err := s.usable(); err != nil {
		return err
	}

	select {
	case s.speakSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closedCh:
		return ErrSessionClosed
	}
	defer func() { <-s.speakSlot }()

	if err := s.usable(); err != nil {
		return err
	}
	if s.services.TTS == nil {
		s.log.Error("TTS unavailable, cannot speak", zap.String("text", text))
		return nil
	}

	utt := &utterance{stop: make(chan struct{}), interruptible: allowInterruptions}
	s.mu.Lock()
	// Close may have run since usable(); it only halts an utterance it can see
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.current = utt
	s.agentSpeaking = true
	out := s.io.Output
	s.mu.Unlock()
	s.appendHistory(provider.RoleAssistant, text)
	s.setAgentState(event.AgentStateSpeaking)

	defer func() {
		s.mu.Lock()
		if s.current == utt {
			s.current = nil
		}
		s.agentSpeaking = false
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.setAgentState(event.AgentStateIdle)
	}()

	synthCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-utt.stop:
			cancel()
		case <-synthCtx.Done():
		}
	}()

	audio, err := s.services.TTS.Synthesize(synthCtx, text)
	if err != nil {
		if utt.halted() {
			return nil
		}
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}
	if out == nil {
		s.log.Warn("No audio output, dropping speech", zap.String("text", text))
		return nil
	}
	return s.playout(ctx, utt, out, audio)
}

func (s *Session) playout(ctx context.Context, utt *utterance, out room.AudioWriter, audio provider.AudioFrame) error {
	channels := audio.Channels
	if channels == 0 {
		channels = 1
	}
	perFrame := int(int64(audio.SampleRate)*int64(s.opts.FrameLength)/int64(time.Second)) * channels
	if perFrame <= 0 {
		return fmt.Errorf("invalid audio sample rate %d", audio.SampleRate)
	}

	ticker := time.NewTicker(s.opts.FrameLength)
	defer ticker.Stop()

	for off := 0; off < len(audio.Samples); off += perFrame {
		end := off + perFrame
		var chunk []int16
		if end <= len(audio.Samples) {
			chunk = audio.Samples[off:end]
		} else {
			chunk = make([]int16, perFrame)
			copy(chunk, audio.Samples[off:])
		}

		frame := provider.AudioFrame{Samples: chunk, SampleRate: audio.SampleRate, Channels: channels}
		if err := out.WriteFrame(frame); err != nil {
			return fmt.Errorf("failed to write audio frame: %w", err)
		}

		select {
		case <-utt.stop:
			s.log.Debug("Utterance stopped before playout finished")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closedCh:
			return ErrSessionClosed
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// bargeIn stops the current utterance if it allows interruptions.
func (s *Session) bargeIn() {
	s.mu.Lock()
	u := s.current
	s.mu.Unlock()
	if u != nil && u.interruptible {
		u.halt()
		s.log.Debug("User barged in, speech interrupted")
	}
}
