package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewEventBus("call-1")
	defer bus.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(e *Event) {
		d, _ := e.GetParticipantData()
		mu.Lock()
		got = append(got, string(e.Type)+":"+d.Identity)
		mu.Unlock()
	}
	require.NoError(t, bus.Subscribe(ParticipantConnected, record))
	require.NoError(t, bus.Subscribe(ParticipantDisconnected, record))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, ParticipantConnected, &ParticipantEventData{Identity: "a"}))
	require.NoError(t, bus.Publish(ctx, ParticipantDisconnected, &ParticipantEventData{Identity: "a"}))
	require.NoError(t, bus.Publish(ctx, ParticipantConnected, &ParticipantEventData{Identity: "b"}))
	require.NoError(t, bus.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"room.participant_connected:a",
		"room.participant_disconnected:a",
		"room.participant_connected:b",
	}, got)
	assert.Equal(t, int64(3), bus.GetStats().TotalEvents)
}

func TestOrderedBus_HandlersNeverOverlap(t *testing.T) {
	bus := NewEventBus("call-1")
	defer bus.Close()

	var (
		mu      sync.Mutex
		running int
		overlap bool
	)
	slow := func(*Event) {
		mu.Lock()
		running++
		if running > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
	}
	require.NoError(t, bus.Subscribe(RoomDisconnected, slow))
	require.NoError(t, bus.Subscribe(RoomDisconnected, slow))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(ctx, RoomDisconnected, &RoomEventData{}))
	}
	require.NoError(t, bus.Flush(ctx))
	assert.False(t, overlap)
}

func TestOrderedBus_PanickingHandlerDoesNotStopLoop(t *testing.T) {
	bus := NewEventBus("call-1")
	defer bus.Close()
	for _, mw := range CreateDefaultMiddlewareChain() {
		bus.Use(mw)
	}

	var calls int
	require.NoError(t, bus.Subscribe(RoomDisconnected, func(*Event) { panic("boom") }))
	require.NoError(t, bus.Subscribe(RoomDisconnected, func(*Event) { calls++ }))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, RoomDisconnected, &RoomEventData{}))
	require.NoError(t, bus.Publish(ctx, RoomDisconnected, &RoomEventData{}))
	require.NoError(t, bus.Flush(ctx))
	assert.Equal(t, 2, calls)
}

func TestOrderedBus_ValidationDropsMalformedEvents(t *testing.T) {
	bus := NewEventBus("call-1")
	defer bus.Close()
	bus.Use(ValidationMiddleware)

	var calls int
	require.NoError(t, bus.Subscribe(TrackSubscribed, func(*Event) { calls++ }))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, TrackSubscribed, "not track data"))
	require.NoError(t, bus.Publish(ctx, TrackSubscribed, &TrackEventData{ParticipantIdentity: "caller"}))
	require.NoError(t, bus.Publish(ctx, TrackSubscribed, &TrackEventData{ParticipantIdentity: "caller", TrackKind: TrackKindAudio}))
	require.NoError(t, bus.Flush(ctx))
	assert.Equal(t, 1, calls)
}

func TestOrderedBus_ClosedBusRejectsPublish(t *testing.T) {
	bus := NewEventBus("call-1")
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), RoomDisconnected, &RoomEventData{})
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.ErrorIs(t, bus.Subscribe(RoomDisconnected, func(*Event) {}), ErrBusClosed)
}
