package event

import (
	"fmt"
	"time"

	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware provides logging for all events
func LoggingMiddleware(next EventHandler) EventHandler {
	return func(event *Event) {
		start := time.Now()

		logger.Base().Debug("Processing event", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID))
		defer func() {
			if event.IsError() {
				logger.Base().Error("Event handler failed", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID), zap.Error(event.Error))
				return
			}
			logger.Base().Debug("Event handler completed", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID), zap.Duration("duration", time.Since(start)))
		}()

		next(event)
	}
}

// RecoveryMiddleware provides panic recovery for event handlers
func RecoveryMiddleware(next EventHandler) EventHandler {
	return func(event *Event) {
		defer func() {
			if r := recover(); r != nil {
				logger.Base().Error("Panic in event handler", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID), zap.Any("panic", r))
				event.WithError(fmt.Errorf("handler panic: %v", r))
			}
		}()

		next(event)
	}
}

// ValidationMiddleware drops events whose payload does not match their type
func ValidationMiddleware(next EventHandler) EventHandler {
	return func(event *Event) {
		if event == nil {
			logger.Base().Error("Received nil event")
			return
		}

		if event.Type == "" {
			logger.Base().Error("Event type is empty", zap.String("call_id", event.CallID))
			return
		}

		if err := validateEventData(event); err != nil {
			logger.Base().Error("Invalid event data", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID), zap.Error(err))
			return
		}

		next(event)
	}
}

// validateEventData validates event-specific data
func validateEventData(event *Event) error {
	switch event.Type {
	case TrackSubscribed:
		data, ok := event.GetTrackData()
		if !ok {
			return fmt.Errorf("track data is required for %s", event.Type)
		}
		if data.TrackKind == "" {
			return fmt.Errorf("track kind is required for %s", event.Type)
		}

	case ParticipantConnected, ParticipantDisconnected:
		if _, ok := event.GetParticipantData(); !ok {
			return fmt.Errorf("participant data is required for %s", event.Type)
		}

	case UserStateChanged, AgentStateChanged:
		data, ok := event.GetStateData()
		if !ok {
			return fmt.Errorf("state data is required for %s", event.Type)
		}
		if data.NewState == "" {
			return fmt.Errorf("new state is required for %s", event.Type)
		}
	}

	return nil
}

// CreateDefaultMiddlewareChain creates a default middleware chain with common middleware
func CreateDefaultMiddlewareChain() []EventMiddleware {
	return []EventMiddleware{
		RecoveryMiddleware,
		ValidationMiddleware,
		LoggingMiddleware,
	}
}
