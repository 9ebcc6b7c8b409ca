package livekit

import (
	"context"
	"fmt"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/pion/rtp"
	"go.uber.org/zap"
	"layeh.com/gopus"
)

// maxDecodeSamples fits a 40ms Opus frame at 48kHz mono.
const maxDecodeSamples = 1920

// PacketReader yields the RTP packets of one remote track
type PacketReader func() (*rtp.Packet, error)

// AudioProcessor decodes the Opus audio of one remote track to PCM
type AudioProcessor struct {
	decoder *gopus.Decoder
	log     *zap.Logger

	frames    int64
	dtxFrames int64
	dropped   int64
}

// NewAudioProcessor creates a processor with a 48kHz mono Opus decoder
func NewAudioProcessor(log *zap.Logger) (*AudioProcessor, error) {
	decoder, err := gopus.NewDecoder(config.DefaultSampleRate, config.DefaultChannelsMono)
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus decoder: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AudioProcessor{decoder: decoder, log: log}, nil
}

// Decode turns one Opus payload into a PCM frame. DTX payloads (under 3 bytes)
// become 20ms of silence so silence keeps advancing turn detection.
func (ap *AudioProcessor) Decode(payload []byte) (provider.AudioFrame, error) {
	frame := provider.AudioFrame{SampleRate: config.DefaultSampleRate, Channels: config.DefaultChannelsMono}
	if len(payload) < 3 {
		ap.dtxFrames++
		frame.Samples = make([]int16, config.DefaultFrameSamples)
		return frame, nil
	}

	pcm, err := ap.decoder.Decode(payload, maxDecodeSamples, false)
	if err != nil {
		return frame, err
	}
	frame.Samples = pcm
	return frame, nil
}

// Forward reads packets until the track ends or ctx is done and sends the decoded
// audio to out. Frames are dropped when out is full.
func (ap *AudioProcessor) Forward(ctx context.Context, read PacketReader, out chan<- provider.AudioFrame) {
	defer func() {
		ap.log.Info("Audio forwarding stopped",
			zap.Int64("frames", ap.frames),
			zap.Int64("dtx_frames", ap.dtxFrames),
			zap.Int64("dropped", ap.dropped))
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, err := read()
		if err != nil {
			ap.log.Debug("Audio track ended", zap.Error(err))
			return
		}
		if pkt == nil || len(pkt.Payload) == 0 {
			continue
		}

		frame, err := ap.Decode(pkt.Payload)
		if err != nil {
			ap.log.Warn("Decode failed", zap.Uint16("sequence_number", pkt.SequenceNumber), zap.Int("size_bytes", len(pkt.Payload)), zap.Error(err))
			continue
		}
		if len(frame.Samples) == 0 {
			continue
		}

		select {
		case out <- frame:
			ap.frames++
		case <-ctx.Done():
			return
		default:
			ap.dropped++
			if ap.dropped%100 == 1 {
				ap.log.Warn("Audio input is full, dropping frames", zap.Int64("dropped", ap.dropped))
			}
		}
	}
}
