package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"manabot/internal/bot"
	"manabot/internal/chat"
	"manabot/internal/config"
	"manabot/internal/discord"
	"manabot/internal/notifier"
	"manabot/internal/observability"
	"manabot/internal/scheduler"
	logx "manabot/pkg/logx"
)

// validate is the config manager's commit hook: structural checks first,
// then a full rule compile.
func validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	_, err := bot.Compile(cfg)
	return err
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Remote: logx.RemoteConfig{
			Enabled:    l.Remote.Enabled,
			MinLevel:   l.Remote.MinLevel,
			RatePerSec: l.Remote.RatePerSec,
		},
	}
}

// remoteSink returns nil when remote logging has no webhook.
func remoteSink(cfg *config.Config, client *discord.Client) logx.RemoteSink {
	url := strings.TrimSpace(cfg.Logging.Remote.WebhookURL)
	if url == "" || client == nil {
		return nil
	}
	return discord.LogSink{Client: client, Target: discord.Webhook(url)}
}

func mapDiscordOptions(cfg *config.Config) (discord.Options, error) {
	timeout, err := config.Duration("discord.timeout", cfg.Discord.Timeout, 10*time.Second)
	if err != nil {
		return discord.Options{}, err
	}
	return discord.Options{
		APIBase:  cfg.Discord.APIBase,
		Username: cfg.Discord.Username,
		Timeout:  timeout,
	}, nil
}

// mapNotifierConfig treats an omitted section as enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true}, nil
	}
	sendTimeout, err := config.Duration("notifier.send_timeout", n.SendTimeout, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.Duration("notifier.dedup_window", n.DedupWindow, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		SendTimeout:     sendTimeout,
		DedupWindow:     dedup,
		DedupMaxEntries: n.DedupMaxEntries,
		HistorySize:     n.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	m := cfg.Metrics
	out := observability.Config{
		Enabled:       m.Enabled,
		Addr:          m.Addr,
		Token:         strings.TrimSpace(m.Token),
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
		PprofPrefix:   m.PprofPrefix,
	}
	var err error
	if out.ReadTimeout, err = config.Duration("metrics.read_timeout", m.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	// pprof profile/trace stream for up to 30s by default.
	if out.WriteTimeout, err = config.Duration("metrics.write_timeout", m.WriteTimeout, 60*time.Second); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.Duration("metrics.idle_timeout", m.IdleTimeout, 60*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

// newChatSource builds the configured relay. stdio reads from in and writes
// commands to out.
func newChatSource(cfg *config.Config, stdio *chat.Stdio, log logx.Logger) (chat.Source, error) {
	c := cfg.Chat
	switch strings.ToLower(strings.TrimSpace(c.Source)) {
	case "", config.ChatSourceStdio:
		return stdio, nil
	case config.ChatSourceWebSocket:
		pingEvery, err := config.Duration("chat.ping_interval", c.PingInterval, 0)
		if err != nil {
			return nil, err
		}
		h := http.Header{}
		for k, v := range c.Headers {
			h.Set(k, v)
		}
		return chat.NewWebSocket(chat.WebSocketConfig{URL: c.URL, Header: h, PingInterval: pingEvery}, log), nil
	default:
		return nil, fmt.Errorf("chat.source: unknown source %q", c.Source)
	}
}
