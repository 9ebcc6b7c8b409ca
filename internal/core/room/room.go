// Package room defines what a call needs from the media platform: the joined
// room, its RPC channel, caller audio in and agent audio out.
package room

import (
	"context"

	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
)

// RPCInvocation is one remote-invoked action sent by a room participant.
type RPCInvocation struct {
	RequestID      string
	CallerIdentity string
	Payload        string
}

// RPCHandler answers a remote-invoked action. The returned string is sent back to the caller.
type RPCHandler func(ctx context.Context, inv RPCInvocation) (string, error)

// AudioWriter sends agent speech into the room, one frame at a time.
type AudioWriter interface {
	WriteFrame(frame provider.AudioFrame) error
	Close() error
}

// Room is a joined media room. Room events are published on the bus passed to Job.Connect.
type Room interface {
	Name() string
	RegisterRPCMethod(method string, handler RPCHandler) error
	// AudioInput yields decoded caller audio. It is closed when the room disconnects.
	AudioInput() <-chan provider.AudioFrame
	PublishAudioTrack(name string) (AudioWriter, error)
	Disconnect()
}

// Job is one accepted call assignment.
type Job interface {
	ID() string
	RoomName() string
	Connect(ctx context.Context, bus event.Bus) (Room, error)
	// Shutdown tells the worker the job is over. The reason is reported on failure.
	Shutdown(reason string)
}
