package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"go.uber.org/zap"
)

// ErrBusClosed is returned when publishing to or subscribing on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// EventHandler represents a function that handles events
type EventHandler func(event *Event)

// EventMiddleware represents middleware that can wrap event handlers
type EventMiddleware func(next EventHandler) EventHandler

// Bus defines the per-call event bus.
type Bus interface {
	Publish(ctx context.Context, eventType EventType, data interface{}) error
	PublishEvent(ctx context.Context, event *Event) error
	Subscribe(eventType EventType, handler EventHandler) error
	Use(middleware EventMiddleware)
	Flush(ctx context.Context) error
	Close() error
	GetStats() BusStats
}

// BusStats contains statistics about the event bus
type BusStats struct {
	TotalEvents     int64            `json:"total_events"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	ActiveHandlers  int              `json:"active_handlers"`
	SubscriberCount map[string]int   `json:"subscriber_count"`
}

// OrderedBus delivers events to handlers on a single goroutine, in publish order.
// Handlers of one call therefore never run concurrently with each other.
type OrderedBus struct {
	callID      string
	subscribers map[EventType][]EventHandler
	middleware  []EventMiddleware
	mutex       sync.RWMutex
	queue       chan *Event
	ctx         context.Context
	cancel      context.CancelFunc
	stopped     chan struct{}
	closeOnce   sync.Once
	stats       BusStats
	statsMutex  sync.RWMutex
}

const defaultQueueSize = 256

// NewEventBus creates a bus for one call and starts its dispatch loop.
func NewEventBus(callID string) *OrderedBus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &OrderedBus{
		callID:      callID,
		subscribers: make(map[EventType][]EventHandler),
		middleware:  make([]EventMiddleware, 0),
		queue:       make(chan *Event, defaultQueueSize),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
		stats: BusStats{
			EventsByType:    make(map[string]int64),
			SubscriberCount: make(map[string]int),
		},
	}
	go b.run()
	return b
}

// Publish publishes an event with the given type and data
func (b *OrderedBus) Publish(ctx context.Context, eventType EventType, data interface{}) error {
	return b.PublishEvent(ctx, NewEvent(eventType, b.callID).WithData(data))
}

// PublishEvent enqueues a complete event. It blocks only while the queue is full.
func (b *OrderedBus) PublishEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.CallID == "" {
		event.CallID = b.callID
	}

	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.queue <- event:
		return nil
	}
}

// Subscribe subscribes to events of a specific type
func (b *OrderedBus) Subscribe(eventType EventType, handler EventHandler) error {
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mutex.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	b.mutex.Unlock()

	b.statsMutex.Lock()
	b.stats.SubscriberCount[string(eventType)]++
	b.stats.ActiveHandlers++
	b.statsMutex.Unlock()

	logger.Base().Debug("Subscribed to event type", zap.String("call_id", b.callID), zap.String("event_type", string(eventType)))
	return nil
}

// Use adds middleware to the event bus
func (b *OrderedBus) Use(middleware EventMiddleware) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.middleware = append(b.middleware, middleware)
}

// Flush waits until every event published before the call has been handled.
func (b *OrderedBus) Flush(ctx context.Context) error {
	marker := NewEvent(busFlush, b.callID)
	marker.done = make(chan struct{})
	if err := b.PublishEvent(ctx, marker); err != nil {
		return err
	}

	select {
	case <-marker.done:
		return nil
	case <-b.stopped:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatch loop. Events still queued are dropped.
func (b *OrderedBus) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		<-b.stopped

		b.mutex.Lock()
		b.subscribers = make(map[EventType][]EventHandler)
		b.middleware = make([]EventMiddleware, 0)
		b.mutex.Unlock()

		logger.Base().Debug("Event bus closed", zap.String("call_id", b.callID))
	})
	return nil
}

// GetStats returns current bus statistics
func (b *OrderedBus) GetStats() BusStats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()

	stats := BusStats{
		TotalEvents:     b.stats.TotalEvents,
		EventsByType:    make(map[string]int64),
		ActiveHandlers:  b.stats.ActiveHandlers,
		SubscriberCount: make(map[string]int),
	}

	for k, v := range b.stats.EventsByType {
		stats.EventsByType[k] = v
	}

	for k, v := range b.stats.SubscriberCount {
		stats.SubscriberCount[k] = v
	}

	return stats
}

func (b *OrderedBus) run() {
	defer close(b.stopped)

	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.queue:
			if event.Type == busFlush {
				close(event.done)
				continue
			}
			b.dispatch(event)
		}
	}
}

func (b *OrderedBus) dispatch(event *Event) {
	b.mutex.RLock()
	handlers := make([]EventHandler, len(b.subscribers[event.Type]))
	copy(handlers, b.subscribers[event.Type])
	middleware := make([]EventMiddleware, len(b.middleware))
	copy(middleware, b.middleware)
	b.mutex.RUnlock()

	b.updateStats(event.Type)

	if len(handlers) == 0 {
		logger.Base().Debug("No subscribers for event type", zap.String("call_id", event.CallID), zap.String("type", string(event.Type)))
		return
	}

	for _, h := range handlers {
		final := h
		for i := len(middleware) - 1; i >= 0; i-- {
			final = middleware[i](final)
		}
		b.invoke(final, event)
	}
}

// invoke guards the dispatch loop itself; RecoveryMiddleware handles the logging path.
func (b *OrderedBus) invoke(handler EventHandler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Base().Error("Event handler panic", zap.String("call_id", event.CallID), zap.String("type", string(event.Type)), zap.Any("panic", r))
		}
	}()
	handler(event)
}

// updateStats updates event statistics
func (b *OrderedBus) updateStats(eventType EventType) {
	b.statsMutex.Lock()
	defer b.statsMutex.Unlock()

	b.stats.TotalEvents++
	b.stats.EventsByType[string(eventType)]++
}
