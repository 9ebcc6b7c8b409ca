package livekit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// audioInputBuffer holds about one second of caller audio
const audioInputBuffer = 50

// RoomManager joins LiveKit rooms for accepted jobs and tracks them
type RoomManager struct {
	config          *LiveKitConfig
	companionPrefix string
	rooms           map[string]*LiveKitRoom // jobID -> room
	mutex           sync.RWMutex
}

// NewRoomManager creates a new LiveKit room manager
func NewRoomManager(cfg *LiveKitConfig, companionPrefix string) (*RoomManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid LiveKit config: %w", err)
	}

	logger.Base().Info("LiveKit RoomManager initialized", zap.String("server_url", cfg.ServerURL))
	return &RoomManager{
		config:          cfg,
		companionPrefix: companionPrefix,
		rooms:           make(map[string]*LiveKitRoom),
	}, nil
}

// JoinRoom connects to a room with a job assignment token. Room events are
// published on bus. An empty serverURL uses the configured server.
func (rm *RoomManager) JoinRoom(ctx context.Context, jobID, roomName, serverURL, token string, bus event.Bus) (*LiveKitRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if serverURL == "" {
		serverURL = rm.config.ServerURL
	}

	r := newLiveKitRoom(jobID, roomName, rm.companionPrefix, bus)
	r.onClose = func() { rm.remove(jobID) }

	lkRoom, err := lksdk.ConnectToRoomWithToken(serverURL, token, r.callbacks(), lksdk.WithAutoSubscribe(true))
	if err != nil {
		r.cancel()
		return nil, fmt.Errorf("failed to connect to room: %w", err)
	}
	r.room = lkRoom
	r.rpc = lkRoom
	if name := lkRoom.Name(); name != "" {
		r.name = name
	}

	rm.mutex.Lock()
	rm.rooms[jobID] = r
	rm.mutex.Unlock()

	r.log.Info("Agent joined room")
	return r, nil
}

// GetRoomCount returns the number of joined rooms
func (rm *RoomManager) GetRoomCount() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return len(rm.rooms)
}

func (rm *RoomManager) remove(jobID string) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	delete(rm.rooms, jobID)
}

// rpcRegistrar is the part of *lksdk.Room that serves participant RPCs
type rpcRegistrar interface {
	RegisterRpcMethod(method string, handler lksdk.RpcHandlerFunc) error
}

// LiveKitRoom is one joined room. It implements room.Room.
type LiveKitRoom struct {
	room            *lksdk.Room
	rpc             rpcRegistrar
	name            string
	jobID           string
	companionPrefix string
	bus             event.Bus
	input           chan provider.AudioFrame
	createdAt       time.Time
	log             *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	readers sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	onClose func()
}

func newLiveKitRoom(jobID, roomName, companionPrefix string, bus event.Bus) *LiveKitRoom {
	ctx, cancel := context.WithCancel(context.Background())
	return &LiveKitRoom{
		name:            roomName,
		jobID:           jobID,
		companionPrefix: companionPrefix,
		bus:             bus,
		input:           make(chan provider.AudioFrame, audioInputBuffer),
		createdAt:       time.Now(),
		log:             logger.ForJob(jobID, roomName),
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (r *LiveKitRoom) callbacks() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				read := func() (*rtp.Packet, error) {
					pkt, _, err := track.ReadRTP()
					return pkt, err
				}
				r.onTrackSubscribed(rp.Identity(), pub.SID(), track.Kind().String(), read)
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.publish(event.ParticipantConnected, &event.ParticipantEventData{Identity: rp.Identity(), SID: rp.SID()})
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.publish(event.ParticipantDisconnected, &event.ParticipantEventData{Identity: rp.Identity(), SID: rp.SID()})
		},
		OnDisconnected: func() {
			r.publish(event.RoomDisconnected, &event.RoomEventData{Reason: "disconnected from LiveKit"})
		},
	}
}

// onTrackSubscribed reports the track and starts decoding caller audio.
// Companion agents are never decoded.
func (r *LiveKitRoom) onTrackSubscribed(identity, trackSID, kind string, read PacketReader) {
	r.log.Info("Track subscribed", zap.String("kind", kind), zap.String("participant", identity))
	r.publish(event.TrackSubscribed, &event.TrackEventData{ParticipantIdentity: identity, TrackSID: trackSID, TrackKind: kind})

	if kind != event.TrackKindAudio || r.isCompanion(identity) {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.readers.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.readers.Done()
		processor, err := NewAudioProcessor(r.log.With(zap.String("participant", identity)))
		if err != nil {
			r.log.Error("Failed to start audio processing", zap.Error(err))
			return
		}
		processor.Forward(r.ctx, read, r.input)
	}()
}

func (r *LiveKitRoom) isCompanion(identity string) bool {
	return r.companionPrefix != "" && strings.HasPrefix(identity, r.companionPrefix)
}

func (r *LiveKitRoom) publish(eventType event.EventType, data interface{}) {
	if err := r.bus.Publish(r.ctx, eventType, data); err != nil {
		r.log.Debug("Room event not delivered", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// Name returns the room name
func (r *LiveKitRoom) Name() string {
	return r.name
}

// RegisterRPCMethod exposes handler to room participants under method
func (r *LiveKitRoom) RegisterRPCMethod(method string, handler room.RPCHandler) error {
	if r.rpc == nil {
		return fmt.Errorf("room %s is not connected", r.name)
	}
	if err := r.rpc.RegisterRpcMethod(method, r.rpcHandler(method, handler)); err != nil {
		return fmt.Errorf("failed to register RPC method %s: %w", method, err)
	}
	return nil
}

func (r *LiveKitRoom) rpcHandler(method string, handler room.RPCHandler) lksdk.RpcHandlerFunc {
	return func(data lksdk.RpcInvocationData) (string, error) {
		r.log.Debug("RPC invoked", zap.String("method", method), zap.String("caller", data.CallerIdentity))
		return handler(r.ctx, room.RPCInvocation{
			RequestID:      data.RequestID,
			CallerIdentity: data.CallerIdentity,
			Payload:        data.Payload,
		})
	}
}

// AudioInput yields decoded caller audio until the room is disconnected
func (r *LiveKitRoom) AudioInput() <-chan provider.AudioFrame {
	return r.input
}

// PublishAudioTrack publishes a 48kHz mono Opus track for agent speech
func (r *LiveKitRoom) PublishAudioTrack(name string) (room.AudioWriter, error) {
	if r.room == nil {
		return nil, fmt.Errorf("room %s is not connected", r.name)
	}

	// minptime=20 keeps packets aligned with 20ms frames; DTX stays off for a continuous stream.
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   config.DefaultSampleRate,
		Channels:    config.DefaultChannelsMono,
		SDPFmtpLine: "minptime=20;useinbandfec=1;usedtx=0",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	if _, err := r.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: name}); err != nil {
		return nil, fmt.Errorf("failed to publish track: %w", err)
	}

	writer, err := NewLiveKitOpusWriter(track)
	if err != nil {
		return nil, err
	}
	r.log.Info("Agent audio track published", zap.String("track", name))
	return writer, nil
}

// Disconnect leaves the room. Audio input is closed once all decoders stopped.
func (r *LiveKitRoom) Disconnect() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	if r.room != nil {
		r.room.Disconnect()
	}
	if r.onClose != nil {
		r.onClose()
	}

	go func() {
		r.readers.Wait()
		close(r.input)
	}()

	r.log.Info("Room finished", zap.Float64("duration", time.Since(r.createdAt).Seconds()))
}
