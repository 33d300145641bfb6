package discord

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfigMissing means a destination lacks its URL, channel id or token.
var ErrConfigMissing = errors.New("notification destination not configured")

type TargetKind int

const (
	KindWebhook TargetKind = iota + 1
	KindBotChannel
)

func (k TargetKind) String() string {
	switch k {
	case KindWebhook:
		return "webhook"
	case KindBotChannel:
		return "bot_channel"
	default:
		return "unset"
	}
}

// Target is a notification destination. Build it with Webhook or BotChannel.
type Target struct {
	Kind      TargetKind
	URL       string
	ChannelID string
	Token     string
}

func Webhook(url string) Target {
	return Target{Kind: KindWebhook, URL: strings.TrimSpace(url)}
}

func BotChannel(channelID, token string) Target {
	return Target{Kind: KindBotChannel, ChannelID: strings.TrimSpace(channelID), Token: strings.TrimSpace(token)}
}

// Validate returns ErrConfigMissing (wrapped with the missing field) when
// the target cannot be delivered to.
func (t Target) Validate() error {
	switch t.Kind {
	case KindWebhook:
		if t.URL == "" {
			return fmt.Errorf("webhook url: %w", ErrConfigMissing)
		}
	case KindBotChannel:
		if t.ChannelID == "" {
			return fmt.Errorf("channel id: %w", ErrConfigMissing)
		}
		if t.Token == "" {
			return fmt.Errorf("bot token: %w", ErrConfigMissing)
		}
	default:
		return fmt.Errorf("no destination: %w", ErrConfigMissing)
	}
	return nil
}

// String never includes the token or the webhook secret path.
func (t Target) String() string {
	switch t.Kind {
	case KindWebhook:
		return "webhook:" + redactWebhook(t.URL)
	case KindBotChannel:
		return "channel:" + t.ChannelID
	default:
		return "unset"
	}
}

// redactWebhook keeps ".../webhooks/<id>" and drops the token segment.
func redactWebhook(u string) string {
	i := strings.Index(u, "/webhooks/")
	if i < 0 {
		if u == "" {
			return ""
		}
		return "<redacted>"
	}
	rest := u[i+len("/webhooks/"):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i] + "/webhooks/" + rest + "/***"
}
