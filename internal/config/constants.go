package config

import "time"

const (
	DefaultAgentIdentity           = "voice-sell-agent"
	DefaultCompanionIdentityPrefix = "chat-to-form-agent"

	DefaultBusinessName  = "the company"
	DefaultKnowledgeBase = "No information provided."

	DefaultUserAwayTimeout      = 60 * time.Second
	DefaultWebhookTimeout       = 15 * time.Second
	DefaultDeliveryDrainTimeout = 10 * time.Second

	DefaultVADThreshold  = 0.015
	DefaultVADMinSilence = 550 * time.Millisecond

	// Cartesia "British Lady"; overridable with CARTESIA_VOICE_ID
	DefaultCartesiaVoiceID = "79a125e8-cd45-4c13-8a67-188112f4dd22"
)

// Audio format shared by the room adapter and the speech pipeline
const (
	DefaultSampleRate   = 48000
	DefaultChannelsMono = 1
	DefaultFrameSamples = 960 // 20ms @ 48kHz
	DefaultFrameLength  = 20 * time.Millisecond
)

const (
	RPCMethodSubmitLeadForm = "submit_lead_form"
	RPCMethodFormDisplayed  = "set_form_displayed"
	RPCResponseSuccess      = "SUCCESS"
	AgentAudioTrackName     = "agent-voice"
)
