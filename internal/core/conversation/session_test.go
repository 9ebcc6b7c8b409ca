package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"github.com/ClareAI/voice-sell-agent/internal/core/model/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 48000

type fakeSTT struct{ text string }

func (f *fakeSTT) Transcribe(context.Context, provider.AudioFrame) (string, error) {
	return f.text, nil
}

type fakeLLM struct {
	mu           sync.Mutex
	reply        string
	instructions []string
}

func (f *fakeLLM) Generate(_ context.Context, instructions string, _ []provider.ConversationMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructions = append(f.instructions, instructions)
	return f.reply, nil
}

// fakeTTS returns silence of the configured length for every utterance.
type fakeTTS struct{ length time.Duration }

func (f *fakeTTS) Synthesize(ctx context.Context, _ string) (provider.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return provider.AudioFrame{}, err
	}
	n := int(int64(testRate) * int64(f.length) / int64(time.Second))
	return provider.AudioFrame{Samples: make([]int16, n), SampleRate: testRate, Channels: 1}, nil
}

func (f *fakeTTS) SampleRate() int { return testRate }

// blockingTTS never finishes a synthesis on its own.
type blockingTTS struct{}

func (blockingTTS) Synthesize(ctx context.Context, _ string) (provider.AudioFrame, error) {
	<-ctx.Done()
	return provider.AudioFrame{}, ctx.Err()
}

func (blockingTTS) SampleRate() int { return testRate }

// markerVAD starts speech on frames whose first sample is 1 and ends it on 2.
type markerVAD struct{}

func (markerVAD) NewStream() provider.VADStream { return &markerStream{} }

type markerStream struct{}

func (*markerStream) Push(f provider.AudioFrame) provider.VADEvent {
	switch f.Samples[0] {
	case 1:
		return provider.VADEvent{Type: provider.VADEventSpeechStart}
	case 2:
		return provider.VADEvent{Type: provider.VADEventSpeechEnd, Speech: f}
	}
	return provider.VADEvent{}
}

func (*markerStream) Reset() {}

type recordingWriter struct {
	mu     sync.Mutex
	frames []provider.AudioFrame
	closed bool
}

func (w *recordingWriter) WriteFrame(f provider.AudioFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

type harness struct {
	session *Session
	bus     *event.OrderedBus
	input   chan provider.AudioFrame
	output  *recordingWriter
	llm     *fakeLLM
}

func newHarness(t *testing.T, tts provider.TTS, opts Options) *harness {
	t.Helper()
	bus := event.NewEventBus("job-1")
	t.Cleanup(func() { _ = bus.Close() })

	llm := &fakeLLM{reply: "We sell widgets."}
	s, err := NewSession(Services{STT: &fakeSTT{text: "what do you sell"}, LLM: llm, TTS: tts, VAD: markerVAD{}}, bus, opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return &harness{session: s, bus: bus, input: make(chan provider.AudioFrame, 16), output: &recordingWriter{}, llm: llm}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background(), IO{Input: h.input, Output: h.output}))
}

func marker(v int16) provider.AudioFrame {
	return provider.AudioFrame{Samples: []int16{v, 0, 0, 0}, SampleRate: testRate, Channels: 1}
}

func TestNewSession_MergesDefaults(t *testing.T) {
	h := newHarness(t, nil, Options{Instructions: "be nice", UserAwayTimeout: 5 * time.Second})
	opts := h.session.Options()
	assert.Equal(t, "be nice", opts.Instructions)
	assert.Equal(t, 5*time.Second, opts.UserAwayTimeout)
	assert.Equal(t, TurnDetectionVAD, opts.TurnDetection)
	assert.Equal(t, 20*time.Millisecond, opts.FrameLength)

	_, err := NewSession(Services{STT: &fakeSTT{}, LLM: &fakeLLM{}, VAD: markerVAD{}}, h.bus, Options{TurnDetection: "semantic"}, nil)
	assert.Error(t, err)
}

func TestSession_StartOnceAndClose(t *testing.T) {
	h := newHarness(t, &fakeTTS{length: 20 * time.Millisecond}, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, h.session.Say(ctx, "too early", true), ErrNotStarted)

	h.start(t)
	assert.ErrorIs(t, h.session.Start(ctx, IO{}), ErrAlreadyStarted)

	require.NoError(t, h.session.Close(ctx))
	require.NoError(t, h.session.Close(ctx))
	assert.ErrorIs(t, h.session.Say(ctx, "too late", true), ErrSessionClosed)
	assert.True(t, h.output.closed)
}

func TestSession_CloseNeverStrandsSay(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, blockingTTS{}, Options{})
		h.start(t)

		said := make(chan error, 1)
		go func() { said <- h.session.Say(context.Background(), "hello", false) }()
		require.NoError(t, h.session.Close(context.Background()))

		select {
		case err := <-said:
			if err != nil {
				assert.ErrorIs(t, err, ErrSessionClosed)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Say still synthesizing after Close (iteration %d)", i)
		}
	}
}

func TestSession_SayWithoutTTSIsMute(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)

	require.NoError(t, h.session.Say(context.Background(), "hello", true))
	assert.Equal(t, 0, h.output.count())
}

func TestSession_SayPlaysWholeFrames(t *testing.T) {
	h := newHarness(t, &fakeTTS{length: 50 * time.Millisecond}, Options{})
	h.start(t)

	require.NoError(t, h.session.Say(context.Background(), "hello", false))

	h.output.mu.Lock()
	defer h.output.mu.Unlock()
	require.Len(t, h.output.frames, 3)
	for _, f := range h.output.frames {
		assert.Len(t, f.Samples, 960)
	}
}

func TestSession_InterruptStopsNonInterruptibleSpeech(t *testing.T) {
	h := newHarness(t, &fakeTTS{length: 10 * time.Second}, Options{})
	h.start(t)

	done := make(chan error, 1)
	go func() { done <- h.session.Say(context.Background(), "a very long sentence", false) }()

	require.Eventually(t, func() bool { return h.output.count() > 0 }, time.Second, 5*time.Millisecond)
	h.session.Interrupt()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Say did not return after Interrupt")
	}
	assert.Less(t, h.output.count(), 100)
}

func TestSession_BargeInOnlyStopsInterruptibleSpeech(t *testing.T) {
	h := newHarness(t, &fakeTTS{length: 300 * time.Millisecond}, Options{})
	h.start(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.session.Say(ctx, "please hold", false) }()
	require.Eventually(t, func() bool { return h.output.count() > 0 }, time.Second, 5*time.Millisecond)
	h.input <- marker(1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Say did not finish")
	}
	assert.Equal(t, 15, h.output.count())

	h.input <- marker(0)
	go func() { done <- h.session.Say(ctx, "ask me anything", true) }()
	require.Eventually(t, func() bool { return h.output.count() > 15 }, time.Second, 5*time.Millisecond)
	h.input <- marker(1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("barge-in did not stop interruptible speech")
	}
	assert.Less(t, h.output.count(), 30)
}

func TestSession_TurnPipelineAnswersUser(t *testing.T) {
	h := newHarness(t, &fakeTTS{length: 20 * time.Millisecond}, Options{Instructions: "You work for Acme."})
	h.start(t)

	h.input <- marker(1)
	h.input <- marker(2)

	require.Eventually(t, func() bool { return len(h.session.History()) == 2 }, 2*time.Second, 5*time.Millisecond)
	history := h.session.History()
	assert.Equal(t, provider.ConversationMessage{Role: provider.RoleUser, Content: "what do you sell"}, history[0])
	assert.Equal(t, provider.ConversationMessage{Role: provider.RoleAssistant, Content: "We sell widgets."}, history[1])

	h.llm.mu.Lock()
	defer h.llm.mu.Unlock()
	assert.Equal(t, []string{"You work for Acme."}, h.llm.instructions)
}

func TestSession_PublishesAwayAfterTimeout(t *testing.T) {
	h := newHarness(t, nil, Options{UserAwayTimeout: 50 * time.Millisecond})

	var (
		mu     sync.Mutex
		states []string
	)
	require.NoError(t, h.bus.Subscribe(event.UserStateChanged, func(e *event.Event) {
		d, _ := e.GetStateData()
		mu.Lock()
		states = append(states, d.NewState)
		mu.Unlock()
	}))
	h.start(t)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 1 && states[0] == event.UserStateAway
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, event.UserStateAway, h.session.UserState())

	h.input <- marker(1)
	require.Eventually(t, func() bool { return h.session.UserState() == event.UserStateSpeaking }, time.Second, 5*time.Millisecond)
}
