package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	httpadapter "github.com/ClareAI/voice-sell-agent/internal/adapters/http"
	"github.com/ClareAI/voice-sell-agent/internal/core/room"
	"github.com/ClareAI/voice-sell-agent/internal/core/session"
	"github.com/ClareAI/voice-sell-agent/internal/core/task"
	"github.com/ClareAI/voice-sell-agent/internal/domain"
	"go.uber.org/zap"
)

// Spoken responses to a form submission
const (
	MsgConfigError    = "I'm sorry, there is a configuration error and I can't save your information."
	MsgThankYou       = "Thank you. Your information has been sent. Was there anything else I can help you with today?"
	MsgDeliveryFailed = "I'm sorry, there was an error sending your information."
	MsgTechnicalError = "I'm sorry, a technical error occurred."
)

// Outcome is the terminal state of one submission
type Outcome string

const (
	OutcomeNotConfigured  Outcome = "not_configured"
	OutcomeDelivered      Outcome = "delivered"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeDeliveryError  Outcome = "delivery_error"
)

// Speaker is the part of the conversation session the handler talks through
type Speaker interface {
	Say(ctx context.Context, text string, allowInterruptions bool) error
	Interrupt()
}

// Deliverer sends a lead to the business system
type Deliverer interface {
	Configured() bool
	Send(ctx context.Context, body interface{}) (int, error)
}

// FormHandler answers the companion UI's form RPCs for one call
type FormHandler struct {
	state     *session.State
	speaker   Speaker
	webhook   Deliverer
	tasks     *task.Tracker
	timeout   time.Duration
	log       *zap.Logger
	onOutcome func(Outcome)
}

// NewFormHandler creates a handler. timeout bounds the webhook request; zero leaves it to the client.
func NewFormHandler(state *session.State, speaker Speaker, webhook Deliverer, tasks *task.Tracker, timeout time.Duration, log *zap.Logger) *FormHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FormHandler{
		state:   state,
		speaker: speaker,
		webhook: webhook,
		tasks:   tasks,
		timeout: timeout,
		log:     log,
	}
}

// OnOutcome registers a callback invoked once per submission with its terminal state
func (h *FormHandler) OnOutcome(fn func(Outcome)) {
	h.onOutcome = fn
}

// HandleSubmit interrupts current speech, starts delivery in the background and
// acknowledges immediately, whatever the delivery turns out to be.
func (h *FormHandler) HandleSubmit(_ context.Context, inv room.RPCInvocation) (string, error) {
	h.speaker.Interrupt()
	h.log.Info("Received submit_lead_form RPC",
		zap.String("request_id", inv.RequestID),
		zap.String("caller", inv.CallerIdentity),
		zap.Int("payload_bytes", len(inv.Payload)))

	err := h.tasks.Go(task.TaskTypeLeadDelivery, func() {
		outcome := h.process(inv)
		h.log.Info("Lead submission finished", zap.String("request_id", inv.RequestID), zap.String("outcome", string(outcome)))
		if h.onOutcome != nil {
			h.onOutcome(outcome)
		}
	})
	if err != nil {
		h.log.Warn("Lead submission refused, call is ending", zap.String("request_id", inv.RequestID))
		return "", err
	}
	return config.RPCResponseSuccess, nil
}

// HandleFormDisplayed records whether the companion UI shows the form. Accepts
// "true"/"false" or {"displayed": bool}.
func (h *FormHandler) HandleFormDisplayed(_ context.Context, inv room.RPCInvocation) (string, error) {
	displayed, err := parseDisplayed(inv.Payload)
	if err != nil {
		return "", err
	}
	h.state.SetFormDisplayed(displayed)
	h.log.Info("Form display state changed", zap.Bool("displayed", displayed), zap.String("caller", inv.CallerIdentity))
	return config.RPCResponseSuccess, nil
}

// process runs one submission to a terminal outcome. The context is detached
// from the call so the end of the call does not cancel delivery.
func (h *FormHandler) process(inv room.RPCInvocation) Outcome {
	ctx := context.Background()

	if h.webhook == nil || !h.webhook.Configured() {
		h.log.Error("WEBHOOK_URL is not set, cannot send lead")
		h.say(ctx, MsgConfigError, false)
		return OutcomeNotConfigured
	}

	h.state.SetFormDisplayed(false)
	lead, err := domain.ParseLeadRecord(inv.Payload)
	if err != nil {
		h.log.Error("Failed to parse lead payload", zap.Error(err))
		h.say(ctx, MsgTechnicalError, false)
		return OutcomeDeliveryError
	}

	status, err := h.send(ctx, lead)
	if err != nil {
		h.log.Error("Failed to send lead to webhook", zap.Error(err))
		h.say(ctx, MsgTechnicalError, false)
		return OutcomeDeliveryError
	}
	if !httpadapter.IsSuccess(status) {
		h.log.Error("Webhook rejected lead", zap.Int("status", status))
		h.say(ctx, MsgDeliveryFailed, false)
		return OutcomeDeliveryFailed
	}

	h.log.Info("Successfully sent lead to webhook", zap.Strings("fields", lead.Fields()))
	h.say(ctx, MsgThankYou, true)
	return OutcomeDelivered
}

func (h *FormHandler) send(ctx context.Context, lead *domain.LeadRecord) (int, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	return h.webhook.Send(ctx, lead)
}

func (h *FormHandler) say(ctx context.Context, text string, allowInterruptions bool) {
	if err := h.speaker.Say(ctx, text, allowInterruptions); err != nil {
		h.log.Warn("Could not speak submission result", zap.String("text", text), zap.Error(err))
	}
}

func parseDisplayed(payload string) (bool, error) {
	payload = strings.TrimSpace(payload)
	if b, err := strconv.ParseBool(payload); err == nil {
		return b, nil
	}
	var body struct {
		Displayed *bool `json:"displayed"`
	}
	if err := json.Unmarshal([]byte(payload), &body); err != nil || body.Displayed == nil {
		return false, fmt.Errorf("invalid form display payload %q", payload)
	}
	return *body.Displayed, nil
}
