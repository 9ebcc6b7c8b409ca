package provider

import (
	"context"
	"errors"
)

// ProviderType names a concrete vendor implementation of one capability
type ProviderType string

const (
	ProviderTypeDeepgram ProviderType = "deepgram"
	ProviderTypeGroq     ProviderType = "groq"
	ProviderTypeGemini   ProviderType = "gemini"
	ProviderTypeCartesia ProviderType = "cartesia"
	ProviderTypeEnergy   ProviderType = "energy"
)

// String returns the string representation of ProviderType
func (pt ProviderType) String() string {
	return string(pt)
}

// ErrNotConfigured is returned by constructors when a required credential is absent.
var ErrNotConfigured = errors.New("provider not configured")

// AudioFrame is a block of signed 16-bit PCM samples.
type AudioFrame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the frame in seconds.
func (f AudioFrame) Duration() float64 {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	return float64(len(f.Samples)) / float64(f.SampleRate*f.Channels)
}

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage represents a message in conversation history
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// STT transcribes one complete user utterance.
type STT interface {
	Transcribe(ctx context.Context, audio AudioFrame) (string, error)
}

// LLM generates the next assistant reply from the instructions and the history.
type LLM interface {
	Generate(ctx context.Context, instructions string, history []ConversationMessage) (string, error)
}

// TTS synthesizes speech. Implementations are shared across calls and must be
// safe for concurrent use.
type TTS interface {
	Synthesize(ctx context.Context, text string) (AudioFrame, error)
	SampleRate() int
}

// VADEventType represents the type of VAD event.
type VADEventType int

const (
	VADEventNone VADEventType = iota
	VADEventSpeechStart
	VADEventSpeechEnd
)

// String returns a readable event name
func (t VADEventType) String() string {
	switch t {
	case VADEventSpeechStart:
		return "speech_start"
	case VADEventSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// VADEvent carries a speech boundary. On speech end, Speech holds the audio of the whole segment.
type VADEvent struct {
	Type   VADEventType
	Speech AudioFrame
}

// VAD is a shared, read-only detector factory. Per-call state lives in the stream.
type VAD interface {
	NewStream() VADStream
}

// VADStream detects speech boundaries in a sequence of frames from one caller.
type VADStream interface {
	Push(frame AudioFrame) VADEvent
	Reset()
}
