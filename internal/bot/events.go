package bot

import "time"

// Bus event types. Data is nil for EventLine and the matching struct below
// for the others.
const (
	EventLine        = "bot.line"
	EventDetected    = "bot.detected"
	EventMatchFailed = "bot.match_failed"
	EventProbe       = "bot.probe"
	EventPrediction  = "bot.prediction"
	EventCommand     = "bot.command"
)

// Detection outcomes.
const (
	OutcomeNotify      = "notify"
	OutcomeBelowGate   = "below_threshold"
	OutcomeRenderError = "render_error"
	OutcomeReply       = "reply"
)

// Probe outcomes.
const (
	ProbeSent        = "sent"
	ProbeFailed      = "failed"
	ProbeConfirmed   = "confirmed"
	ProbeUnconfirmed = "unconfirmed"
)

type DetectedEvent struct {
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
	Pinged  bool   `json:"pinged"`
}

type MatchFailedEvent struct {
	Kind  string `json:"kind"`
	Field string `json:"field"`
	Error string `json:"error"`
}

type ProbeEvent struct {
	Outcome string `json:"outcome"`
}

type PredictionEvent struct {
	Slot string    `json:"slot"`
	At   time.Time `json:"at"`
}

type CommandEvent struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}
