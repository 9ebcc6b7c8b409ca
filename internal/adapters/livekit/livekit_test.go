package livekit

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/gopus"
)

func TestLiveKitConfig_AgentURL(t *testing.T) {
	cases := map[string]string{
		"wss://example.livekit.cloud":    "wss://example.livekit.cloud/agent",
		"https://example.livekit.cloud/": "wss://example.livekit.cloud/agent",
		"http://localhost:7880":          "ws://localhost:7880/agent",
	}
	for in, want := range cases {
		cfg, err := NewLiveKitConfig(in, "key", "secret")
		require.NoError(t, err)
		got, err := cfg.AgentURL()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := (&LiveKitConfig{ServerURL: "ftp://x", APIKey: "k", APISecret: "s"}).AgentURL()
	assert.Error(t, err)
}

func TestLiveKitConfig_Validate(t *testing.T) {
	_, err := NewLiveKitConfig("", "key", "secret")
	assert.Error(t, err)
	_, err = NewLiveKitConfig("wss://x", "", "secret")
	assert.Error(t, err)
	_, err = NewLiveKitConfig("wss://x", "key", "")
	assert.Error(t, err)
}

func TestLiveKitConfig_WorkerToken(t *testing.T) {
	cfg, err := NewLiveKitConfig("wss://x", "key", "a-secret-long-enough-for-signing")
	require.NoError(t, err)
	token, err := cfg.WorkerToken(time.Hour)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)
}

func tone(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		if (i/24)%2 == 0 {
			pcm[i] = 8000
		} else {
			pcm[i] = -8000
		}
	}
	return pcm
}

func encodeFrame(t *testing.T) []byte {
	t.Helper()
	enc, err := gopus.NewEncoder(config.DefaultSampleRate, config.DefaultChannelsMono, gopus.Voip)
	require.NoError(t, err)
	payload, err := enc.Encode(tone(config.DefaultFrameSamples), config.DefaultFrameSamples, maxOpusPacket)
	require.NoError(t, err)
	return payload
}

func TestAudioProcessor_Decode(t *testing.T) {
	ap, err := NewAudioProcessor(nil)
	require.NoError(t, err)

	frame, err := ap.Decode(encodeFrame(t))
	require.NoError(t, err)
	assert.Len(t, frame.Samples, config.DefaultFrameSamples)
	assert.Equal(t, config.DefaultSampleRate, frame.SampleRate)

	silence, err := ap.Decode([]byte{0xf8})
	require.NoError(t, err)
	assert.Len(t, silence.Samples, config.DefaultFrameSamples)
	for _, s := range silence.Samples {
		assert.Zero(t, s)
	}
}

func packetSource(payloads ...[]byte) PacketReader {
	var mu sync.Mutex
	seq := uint16(0)
	return func() (*rtp.Packet, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(payloads) == 0 {
			return nil, io.EOF
		}
		p := payloads[0]
		payloads = payloads[1:]
		seq++
		return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: p}, nil
	}
}

func TestAudioProcessor_ForwardUntilTrackEnds(t *testing.T) {
	ap, err := NewAudioProcessor(nil)
	require.NoError(t, err)

	opus := encodeFrame(t)
	out := make(chan provider.AudioFrame, 8)
	ap.Forward(context.Background(), packetSource(opus, nil, []byte{1}, opus), out)

	assert.Len(t, out, 3)
}

type recordedSamples struct {
	mu      sync.Mutex
	samples []media.Sample
	err     error
}

func (r *recordedSamples) WriteSample(s media.Sample, _ *lksdk.SampleWriteOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, s)
	return nil
}

func TestOpusWriter_FramesAndFlush(t *testing.T) {
	track := &recordedSamples{}
	w, err := NewLiveKitOpusWriter(track)
	require.NoError(t, err)

	// 30ms: one full frame now, the remainder on Close
	require.NoError(t, w.WriteFrame(provider.AudioFrame{Samples: tone(1440), SampleRate: 48000, Channels: 1}))
	assert.Equal(t, int64(1), w.FrameCount())

	require.NoError(t, w.Close())
	assert.Equal(t, int64(2), w.FrameCount())
	for _, s := range track.samples {
		assert.Equal(t, config.DefaultFrameLength, s.Duration)
		assert.NotEmpty(t, s.Data)
	}

	assert.Error(t, w.WriteFrame(provider.AudioFrame{Samples: tone(960), SampleRate: 48000, Channels: 1}))
	assert.NoError(t, w.Close())
}

func TestOpusWriter_ResamplesTo48k(t *testing.T) {
	track := &recordedSamples{}
	w, err := NewLiveKitOpusWriter(track)
	require.NoError(t, err)

	// 10ms at 24kHz stereo, then 10ms at 24kHz mono
	require.NoError(t, w.WriteFrame(provider.AudioFrame{Samples: tone(480), SampleRate: 24000, Channels: 2}))
	assert.Equal(t, int64(0), w.FrameCount())
	require.NoError(t, w.WriteFrame(provider.AudioFrame{Samples: tone(240), SampleRate: 24000, Channels: 1}))
	assert.Equal(t, int64(1), w.FrameCount())
}

func TestOpusWriter_TrackError(t *testing.T) {
	w, err := NewLiveKitOpusWriter(&recordedSamples{err: errors.New("track gone")})
	require.NoError(t, err)
	assert.Error(t, w.WriteFrame(provider.AudioFrame{Samples: tone(960), SampleRate: 48000, Channels: 1}))
}

func TestToMono48k(t *testing.T) {
	assert.Len(t, toMono48k(provider.AudioFrame{Samples: make([]int16, 160), SampleRate: 8000, Channels: 1}), 960)
	assert.Len(t, toMono48k(provider.AudioFrame{Samples: make([]int16, 1920), SampleRate: 48000, Channels: 2}), 960)

	mixed := toMono48k(provider.AudioFrame{Samples: []int16{100, 300}, SampleRate: 48000, Channels: 2})
	assert.Equal(t, []int16{200}, mixed)
}

func newTestRoom(t *testing.T) (*LiveKitRoom, *event.OrderedBus) {
	t.Helper()
	bus := event.NewEventBus("job-1")
	t.Cleanup(func() { _ = bus.Close() })
	return newLiveKitRoom("job-1", "acme-demo-room", config.DefaultCompanionIdentityPrefix, bus), bus
}

func TestLiveKitRoom_TrackSubscribedPublishesAndDecodes(t *testing.T) {
	r, bus := newTestRoom(t)

	var mu sync.Mutex
	var tracks []*event.TrackEventData
	require.NoError(t, bus.Subscribe(event.TrackSubscribed, func(evt *event.Event) {
		data, _ := evt.GetTrackData()
		mu.Lock()
		tracks = append(tracks, data)
		mu.Unlock()
	}))

	opus := encodeFrame(t)
	r.onTrackSubscribed("chat-to-form-agent-7", "TR_companion", event.TrackKindAudio, packetSource(opus))
	r.onTrackSubscribed("caller", "TR_caller", event.TrackKindAudio, packetSource(opus, opus))

	for i := 0; i < 2; i++ {
		select {
		case f := <-r.AudioInput():
			assert.Len(t, f.Samples, config.DefaultFrameSamples)
		case <-time.After(2 * time.Second):
			t.Fatal("no decoded audio")
		}
	}

	require.NoError(t, bus.Flush(context.Background()))
	mu.Lock()
	require.Len(t, tracks, 2)
	assert.Equal(t, "chat-to-form-agent-7", tracks[0].ParticipantIdentity)
	assert.Equal(t, "TR_caller", tracks[1].TrackSID)
	mu.Unlock()

	r.Disconnect()
	select {
	case _, ok := <-r.AudioInput():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("audio input not closed")
	}
}

func TestLiveKitRoom_RPCHandlerPassesInvocation(t *testing.T) {
	r, _ := newTestRoom(t)

	var got room.RPCInvocation
	h := r.rpcHandler("submit_lead_form", func(_ context.Context, inv room.RPCInvocation) (string, error) {
		got = inv
		return "SUCCESS", nil
	})

	resp, err := h(lksdk.RpcInvocationData{RequestID: "r1", CallerIdentity: "chat-to-form-agent-1", Payload: `{"a":1}`})
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", resp)
	assert.Equal(t, room.RPCInvocation{RequestID: "r1", CallerIdentity: "chat-to-form-agent-1", Payload: `{"a":1}`}, got)
}

type registeredMethods struct {
	handlers map[string]lksdk.RpcHandlerFunc
	err      error
}

func (m *registeredMethods) RegisterRpcMethod(method string, handler lksdk.RpcHandlerFunc) error {
	if m.err != nil {
		return m.err
	}
	if m.handlers == nil {
		m.handlers = make(map[string]lksdk.RpcHandlerFunc)
	}
	m.handlers[method] = handler
	return nil
}

func TestLiveKitRoom_RegisterRPCMethodOnRoom(t *testing.T) {
	r, _ := newTestRoom(t)
	methods := &registeredMethods{}
	r.rpc = methods

	require.NoError(t, r.RegisterRPCMethod("submit_lead_form", func(_ context.Context, inv room.RPCInvocation) (string, error) {
		return "SUCCESS:" + inv.Payload, nil
	}))
	require.NoError(t, r.RegisterRPCMethod("set_form_displayed", func(context.Context, room.RPCInvocation) (string, error) {
		return "OK", nil
	}))

	require.Contains(t, methods.handlers, "submit_lead_form")
	require.Contains(t, methods.handlers, "set_form_displayed")
	resp, err := methods.handlers["submit_lead_form"](lksdk.RpcInvocationData{RequestID: "r1", CallerIdentity: "chat-to-form-agent-1", Payload: "{}"})
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS:{}", resp)
}

func TestLiveKitRoom_RegisterRPCMethodError(t *testing.T) {
	r, _ := newTestRoom(t)
	r.rpc = &registeredMethods{err: errors.New("already registered")}

	err := r.RegisterRPCMethod("submit_lead_form", func(context.Context, room.RPCInvocation) (string, error) {
		return "", nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit_lead_form")
}

func TestLiveKitRoom_NotConnected(t *testing.T) {
	r, _ := newTestRoom(t)
	_, err := r.PublishAudioTrack(config.AgentAudioTrackName)
	assert.Error(t, err)
	assert.Error(t, r.RegisterRPCMethod("x", nil))

	r.Disconnect()
	r.Disconnect()
	r.onTrackSubscribed("caller", "TR", event.TrackKindAudio, packetSource())
}
