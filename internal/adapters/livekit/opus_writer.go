package livekit

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4/pkg/media"
	"layeh.com/gopus"
)

// maxOpusPacket bounds one encoded 20ms frame
const maxOpusPacket = 4000

var errWriterClosed = errors.New("opus writer closed")

// SampleWriter is the part of a local track the writer feeds
type SampleWriter interface {
	WriteSample(sample media.Sample, opts *lksdk.SampleWriteOptions) error
}

// LiveKitOpusWriter encodes agent PCM to 20ms Opus samples on a LiveKit track
type LiveKitOpusWriter struct {
	track   SampleWriter
	encoder *gopus.Encoder

	mu         sync.Mutex
	pending    []int16
	closed     bool
	frameCount int64
}

// NewLiveKitOpusWriter creates a writer for a 48kHz mono track
func NewLiveKitOpusWriter(track SampleWriter) (*LiveKitOpusWriter, error) {
	encoder, err := gopus.NewEncoder(config.DefaultSampleRate, config.DefaultChannelsMono, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus encoder: %w", err)
	}
	return &LiveKitOpusWriter{track: track, encoder: encoder}, nil
}

// WriteFrame resamples the frame to 48kHz mono and writes whole 20ms samples.
// A remainder shorter than 20ms is kept for the next frame.
func (w *LiveKitOpusWriter) WriteFrame(frame provider.AudioFrame) error {
	pcm := toMono48k(frame)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWriterClosed
	}

	w.pending = append(w.pending, pcm...)
	for len(w.pending) >= config.DefaultFrameSamples {
		if err := w.writeOpus(w.pending[:config.DefaultFrameSamples]); err != nil {
			return err
		}
		w.pending = w.pending[config.DefaultFrameSamples:]
	}
	return nil
}

// Close flushes a padded final frame. Later writes fail.
func (w *LiveKitOpusWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.pending) == 0 {
		return nil
	}
	last := make([]int16, config.DefaultFrameSamples)
	copy(last, w.pending)
	w.pending = nil
	return w.writeOpus(last)
}

// FrameCount returns the number of Opus samples written
func (w *LiveKitOpusWriter) FrameCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frameCount
}

func (w *LiveKitOpusWriter) writeOpus(pcm []int16) error {
	if w.track == nil {
		return nil
	}
	payload, err := w.encoder.Encode(pcm, config.DefaultFrameSamples, maxOpusPacket)
	if err != nil {
		return fmt.Errorf("failed to encode Opus frame: %w", err)
	}

	// Duration must match the Opus frame size or the receiver drifts.
	sample := media.Sample{
		Data:     payload,
		Duration: config.DefaultFrameLength,
	}
	if err := w.track.WriteSample(sample, nil); err != nil {
		return err
	}
	w.frameCount++
	return nil
}

// toMono48k downmixes and linearly resamples a frame to 48kHz mono
func toMono48k(frame provider.AudioFrame) []int16 {
	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}
	mono := frame.Samples
	if channels > 1 {
		mono = make([]int16, len(frame.Samples)/channels)
		for i := range mono {
			sum := 0
			for c := 0; c < channels; c++ {
				sum += int(frame.Samples[i*channels+c])
			}
			mono[i] = int16(sum / channels)
		}
	}

	rate := frame.SampleRate
	if rate <= 0 || rate == config.DefaultSampleRate || len(mono) == 0 {
		return mono
	}

	n := int(int64(len(mono)) * int64(config.DefaultSampleRate) / int64(rate))
	out := make([]int16, n)
	step := float64(rate) / float64(config.DefaultSampleRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(mono)-1 {
			out[i] = mono[len(mono)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(mono[j])*(1-frac) + float64(mono[j+1])*frac)
	}
	return out
}
