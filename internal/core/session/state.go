package session

import "sync/atomic"

// State is the control state of one call. It is created by the call entrypoint
// and never shared with another call.
type State struct {
	formDisplayed atomic.Bool

	// SessionEnded triggers teardown of the call.
	SessionEnded *Signal
	// GreetingAllowed is set once a human caller's audio track is subscribed.
	GreetingAllowed *Signal
}

// NewState returns a state with no form displayed and both signals unset.
func NewState() *State {
	return &State{
		SessionEnded:    NewSignal(),
		GreetingAllowed: NewSignal(),
	}
}

// SetFormDisplayed records whether the companion UI is showing a form.
func (s *State) SetFormDisplayed(displayed bool) {
	s.formDisplayed.Store(displayed)
}

// FormDisplayed reports whether the companion UI is showing a form.
func (s *State) FormDisplayed() bool {
	return s.formDisplayed.Load()
}
