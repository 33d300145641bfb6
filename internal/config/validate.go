package config

import (
	"errors"
	"fmt"
	"strings"

	logx "manabot/pkg/logx"
)

// Validate checks the structure of cfg: enums, durations and required
// fields. Rule-level checks (patterns, slots, templates) happen when the bot
// compiles its rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := Duration(path, raw, 0)
		add(err)
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		if _, ok := logx.ParseLevel(lv); !ok {
			add(fmt.Errorf("logging.level: unknown level %q", lv))
		}
	}
	if r := cfg.Logging.Remote; r.Enabled {
		if !isSet(r.WebhookURL) {
			add(errors.New("logging.remote.webhook_url: required when remote logging is enabled"))
		}
		if lv := strings.TrimSpace(r.MinLevel); lv != "" {
			if _, ok := logx.ParseLevel(lv); !ok {
				add(fmt.Errorf("logging.remote.min_level: unknown level %q", lv))
			}
		}
	}

	dur("discord.timeout", cfg.Discord.Timeout)
	if n := cfg.Notifier; n != nil {
		dur("notifier.send_timeout", n.SendTimeout)
		dur("notifier.dedup_window", n.DedupWindow)
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 {
			add(errors.New("notifier: workers, queue_size and rate_per_sec must be >= 0"))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Chat.Source)) {
	case "", ChatSourceStdio:
	case ChatSourceWebSocket:
		if !isSet(cfg.Chat.URL) {
			add(errors.New("chat.url: required for the websocket source"))
		}
	default:
		add(fmt.Errorf("chat.source: unknown source %q (want stdio or websocket)", cfg.Chat.Source))
	}
	dur("chat.ping_interval", cfg.Chat.PingInterval)

	if cfg.Metrics.Enabled {
		dur("metrics.read_timeout", cfg.Metrics.ReadTimeout)
		dur("metrics.write_timeout", cfg.Metrics.WriteTimeout)
		dur("metrics.idle_timeout", cfg.Metrics.IdleTimeout)
	}

	ev := cfg.Events
	dur("events.kilton.cooldown", ev.Kilton.Cooldown)
	dur("events.mana_pay.interval", ev.ManaPay.Interval)
	dur("events.mana_pay.settle", ev.ManaPay.Settle)
	dur("events.mana_pay.warmup", ev.ManaPay.Warmup)
	if ev.ManaPay.MinAmount < 0 {
		add(errors.New("events.mana_pay.min_amount: must be >= 0"))
	}
	dur("events.magic_pond.lead_time", ev.MagicPond.LeadTime)

	seen := map[string]bool{}
	for i, c := range ev.Custom {
		path := fmt.Sprintf("events.custom[%d]", i)
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			add(fmt.Errorf("%s.name: required", path))
		case seen[name]:
			add(fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true
		if !isSet(c.Pattern) {
			add(fmt.Errorf("%s.pattern: required", path))
		}
		if !isSet(c.Template) {
			add(fmt.Errorf("%s.template: required", path))
		}
		dur(path+".cooldown", c.Cooldown)
	}

	return errors.Join(errs...)
}
