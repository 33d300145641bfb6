package discord

import (
	"context"

	"manabot/internal/ping"
)

// LogSink forwards log lines to a webhook. It implements logx.RemoteSink.
type LogSink struct {
	Client *Client
	Target Target
}

func (s LogSink) SendLog(ctx context.Context, text string) error {
	if s.Client == nil {
		return nil
	}
	_, err := s.Client.Send(ctx, s.Target, "```\n"+text+"\n```", ping.Target{Kind: ping.None})
	return err
}
