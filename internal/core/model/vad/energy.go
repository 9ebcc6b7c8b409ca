package vad

import (
	"fmt"
	"math"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
)

// Options tunes the energy detector.
type Options struct {
	Threshold         float64       // normalized RMS (0..1) above which a frame counts as voiced
	MinSpeechDuration time.Duration // voiced audio needed before speech start fires
	MinSilence        time.Duration // silence needed before speech end fires
	PrefixPadding     time.Duration // audio kept from before the speech start
	MaxSegment        time.Duration // hard cap on one segment
}

// DefaultOptions mirrors the tuning used for phone-quality audio.
func DefaultOptions() Options {
	return Options{
		Threshold:         0.015,
		MinSpeechDuration: 100 * time.Millisecond,
		MinSilence:        550 * time.Millisecond,
		PrefixPadding:     300 * time.Millisecond,
		MaxSegment:        30 * time.Second,
	}
}

// EnergyVAD is a level-based detector. It holds only immutable options, so one
// instance serves every call in the process.
type EnergyVAD struct {
	opts Options
}

// NewEnergyVAD validates the options and builds the detector.
func NewEnergyVAD(opts Options) (*EnergyVAD, error) {
	if opts.Threshold <= 0 || opts.Threshold >= 1 {
		return nil, fmt.Errorf("vad threshold must be in (0,1), got %v", opts.Threshold)
	}
	if opts.MinSilence <= 0 {
		return nil, fmt.Errorf("vad min silence must be positive, got %s", opts.MinSilence)
	}
	if opts.MaxSegment <= 0 {
		opts.MaxSegment = DefaultOptions().MaxSegment
	}
	return &EnergyVAD{opts: opts}, nil
}

// NewStream starts detection for one caller.
func (v *EnergyVAD) NewStream() provider.VADStream {
	return &energyStream{opts: v.opts}
}

type energyStream struct {
	opts Options

	speaking   bool
	voicedRun  time.Duration
	silenceRun time.Duration
	segmentDur time.Duration

	prefix     []provider.AudioFrame
	prefixDur  time.Duration
	segment    []int16
	sampleRate int
	channels   int
}

func (s *energyStream) Push(frame provider.AudioFrame) provider.VADEvent {
	if len(frame.Samples) == 0 || frame.SampleRate == 0 {
		return provider.VADEvent{}
	}
	s.sampleRate = frame.SampleRate
	s.channels = frame.Channels
	if s.channels == 0 {
		s.channels = 1
	}

	dur := time.Duration(frame.Duration() * float64(time.Second))
	voiced := rms(frame.Samples) >= s.opts.Threshold

	if !s.speaking {
		s.keepPrefix(frame, dur)
		if !voiced {
			s.voicedRun = 0
			return provider.VADEvent{}
		}
		s.voicedRun += dur
		if s.voicedRun < s.opts.MinSpeechDuration {
			return provider.VADEvent{}
		}
		s.speaking = true
		s.silenceRun = 0
		s.segment = s.segment[:0]
		for _, f := range s.prefix {
			s.segment = append(s.segment, f.Samples...)
		}
		s.segmentDur = s.prefixDur
		s.prefix = nil
		s.prefixDur = 0
		return provider.VADEvent{Type: provider.VADEventSpeechStart}
	}

	s.segment = append(s.segment, frame.Samples...)
	s.segmentDur += dur
	if voiced {
		s.silenceRun = 0
	} else {
		s.silenceRun += dur
	}

	if s.silenceRun >= s.opts.MinSilence || s.segmentDur >= s.opts.MaxSegment {
		speech := provider.AudioFrame{
			Samples:    append([]int16(nil), s.segment...),
			SampleRate: s.sampleRate,
			Channels:   s.channels,
		}
		s.Reset()
		return provider.VADEvent{Type: provider.VADEventSpeechEnd, Speech: speech}
	}
	return provider.VADEvent{}
}

func (s *energyStream) Reset() {
	s.speaking = false
	s.voicedRun = 0
	s.silenceRun = 0
	s.segmentDur = 0
	s.segment = s.segment[:0]
	s.prefix = nil
	s.prefixDur = 0
}

func (s *energyStream) keepPrefix(frame provider.AudioFrame, dur time.Duration) {
	s.prefix = append(s.prefix, frame)
	s.prefixDur += dur
	for len(s.prefix) > 1 && s.prefixDur > s.opts.PrefixPadding {
		s.prefixDur -= time.Duration(s.prefix[0].Duration() * float64(time.Second))
		s.prefix = s.prefix[1:]
	}
}

// rms returns the normalized root-mean-square level of the samples.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / math.MaxInt16
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
