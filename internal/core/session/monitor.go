package session

import (
	"strings"

	"github.com/ClareAI/voice-sell-agent/internal/core/event"
	"go.uber.org/zap"
)

// Monitor maps room and session events of one call onto the call's State.
type Monitor struct {
	state           *State
	companionPrefix string
	log             *zap.Logger
}

// NewMonitor creates a monitor. Audio from identities starting with
// companionPrefix never allows the greeting.
func NewMonitor(state *State, companionPrefix string, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		state:           state,
		companionPrefix: companionPrefix,
		log:             log,
	}
}

// Register subscribes the monitor's handlers on the call bus.
func (m *Monitor) Register(bus event.Bus) error {
	subs := []struct {
		eventType event.EventType
		handler   event.EventHandler
	}{
		{event.TrackSubscribed, m.onTrackSubscribed},
		{event.ParticipantDisconnected, m.onParticipantDisconnected},
		{event.UserStateChanged, m.onUserStateChanged},
		{event.RoomDisconnected, m.onRoomDisconnected},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.eventType, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) onTrackSubscribed(evt *event.Event) {
	data, ok := evt.GetTrackData()
	if !ok || data.TrackKind != event.TrackKindAudio {
		return
	}
	if m.companionPrefix != "" && strings.HasPrefix(data.ParticipantIdentity, m.companionPrefix) {
		return
	}
	if !m.state.GreetingAllowed.IsSet() {
		m.log.Info("User audio track subscribed, allowing greeting", zap.String("participant", data.ParticipantIdentity))
	}
	m.state.GreetingAllowed.Set()
}

func (m *Monitor) onParticipantDisconnected(evt *event.Event) {
	identity := ""
	if data, ok := evt.GetParticipantData(); ok {
		identity = data.Identity
	}
	m.log.Info("Participant disconnected, closing session", zap.String("participant", identity))
	m.state.SessionEnded.Set()
}

func (m *Monitor) onUserStateChanged(evt *event.Event) {
	data, ok := evt.GetStateData()
	if !ok || data.NewState != event.UserStateAway {
		return
	}
	if m.state.FormDisplayed() {
		m.log.Info("User is viewing the form, ignoring away state")
		return
	}
	m.log.Info("User is away and no form is displayed, closing session")
	m.state.SessionEnded.Set()
}

func (m *Monitor) onRoomDisconnected(evt *event.Event) {
	reason := ""
	if data, ok := evt.Data.(*event.RoomEventData); ok {
		reason = data.Reason
	}
	m.log.Warn("Disconnected from room, closing session", zap.String("reason", reason))
	m.state.SessionEnded.Set()
}
