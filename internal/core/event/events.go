package event

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Room and session events delivered to the per-call bus
const (
	// Room events
	TrackSubscribed         EventType = "room.track_subscribed"
	ParticipantConnected    EventType = "room.participant_connected"
	ParticipantDisconnected EventType = "room.participant_disconnected"
	RoomDisconnected        EventType = "room.disconnected"

	// Session events
	UserStateChanged  EventType = "session.user_state_changed"
	AgentStateChanged EventType = "session.agent_state_changed"

	// Internal/system events
	HandlerPanic EventType = "handler.panic"
	busFlush     EventType = "bus.flush"
)

// Track kinds as reported by the room
const (
	TrackKindAudio = "audio"
	TrackKindVideo = "video"
)

// User presence states
const (
	UserStateListening = "listening"
	UserStateSpeaking  = "speaking"
	UserStateAway      = "away"
)

// Agent speaking states
const (
	AgentStateIdle     = "idle"
	AgentStateThinking = "thinking"
	AgentStateSpeaking = "speaking"
)

// Event is one room or session occurrence for a single call.
type Event struct {
	Type      EventType   `json:"type"`
	CallID    string      `json:"call_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     error       `json:"error,omitempty"`

	done chan struct{}
}

// TrackEventData describes a subscribed remote track
type TrackEventData struct {
	ParticipantIdentity string `json:"participant_identity"`
	TrackSID            string `json:"track_sid"`
	TrackKind           string `json:"track_kind"`
}

// ParticipantEventData describes a remote participant joining or leaving
type ParticipantEventData struct {
	Identity string `json:"identity"`
	SID      string `json:"sid,omitempty"`
}

// RoomEventData carries the reason the agent lost the room
type RoomEventData struct {
	Reason string `json:"reason,omitempty"`
}

// StateEventData describes a user or agent state transition
type StateEventData struct {
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`
}

// NewEvent creates a new event for a call
func NewEvent(eventType EventType, callID string) *Event {
	return &Event{
		Type:      eventType,
		CallID:    callID,
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event
func (e *Event) WithData(data interface{}) *Event {
	e.Data = data
	return e
}

// WithError adds error to the event
func (e *Event) WithError(err error) *Event {
	e.Error = err
	return e
}

// IsError returns true if the event contains an error
func (e *Event) IsError() bool {
	return e.Error != nil
}

// GetTrackData returns track event data if available
func (e *Event) GetTrackData() (*TrackEventData, bool) {
	data, ok := e.Data.(*TrackEventData)
	return data, ok
}

// GetParticipantData returns participant event data if available
func (e *Event) GetParticipantData() (*ParticipantEventData, bool) {
	data, ok := e.Data.(*ParticipantEventData)
	return data, ok
}

// GetStateData returns state transition data if available
func (e *Event) GetStateData() (*StateEventData, bool) {
	data, ok := e.Data.(*StateEventData)
	return data, ok
}
