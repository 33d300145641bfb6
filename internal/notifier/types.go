package notifier

import (
	"context"
	"time"

	"manabot/internal/discord"
	"manabot/internal/ping"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
}

// Sender performs one delivery attempt. *discord.Client implements it.
type Sender interface {
	Send(ctx context.Context, target discord.Target, body string, mention ping.Target) (discord.Ack, error)
}

// Notification is one outbound message.
type Notification struct {
	// ID is assigned by Notify when empty.
	ID      string
	Kind    string
	Target  discord.Target
	Body    string
	Mention ping.Target

	// Key groups notifications for cooldown. Empty means Kind plus body.
	Key string
	// Cooldown overrides Config.DedupWindow for this key when > 0.
	Cooldown time.Duration
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Target string    `json:"target"`
	Text   string    `json:"text"`
	Status int       `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Event types published on the bus. Data is always a NotificationEvent.
const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
	EventDeduped = "notifier.deduped"
	EventInvalid = "notifier.invalid"
)

// NotificationEvent is the bus payload for notifier lifecycle events.
type NotificationEvent struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Target string    `json:"target"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Status int       `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`
}
