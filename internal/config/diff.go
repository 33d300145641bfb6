package config

import (
	"reflect"
	"sort"
	"strings"

	logx "manabot/pkg/logx"
)

// SummarizeConfigChange returns (1) the sorted list of changed sections,
// (2) safe structured attrs for logging, and (3) the names of events whose
// settings changed. Tokens, webhook URLs and header values never appear in
// the attrs; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.remote_enabled", newCfg.Logging.Remote.Enabled),
			logx.Bool("logging.remote_webhook_set", isSet(newCfg.Logging.Remote.WebhookURL)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Discord, newCfg.Discord) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.bot_token_set", isSet(newCfg.Discord.BotToken)),
			logx.Bool("discord.bot_token_changed", oldCfg.Discord.BotToken != newCfg.Discord.BotToken),
			logx.String("discord.api_base", strings.TrimSpace(newCfg.Discord.APIBase)),
			logx.String("discord.timeout", strings.TrimSpace(newCfg.Discord.Timeout)),
		)
	}

	// Nil notifier means runtime defaults.
	defN := &NotifierConfig{Enabled: true}
	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Chat, newCfg.Chat) {
		changed = append(changed, "chat")
		attrs = append(attrs,
			logx.String("chat.source", newCfg.Chat.Source),
			logx.Bool("chat.url_changed", oldCfg.Chat.URL != newCfg.Chat.URL),
			logx.Int("chat.header_count", len(newCfg.Chat.Headers)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.token_set", isSet(newCfg.Metrics.Token)),
			logx.Bool("metrics.allow_insecure", newCfg.Metrics.AllowInsecure),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	events := diffEvents(oldCfg.Events, newCfg.Events)
	if len(events) > 0 {
		changed = append(changed, "events")
		attrs = append(attrs,
			logx.Int("events.changed_count", len(events)),
			logx.Int("events.custom_count", len(newCfg.Events.Custom)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, events
}

func isSet(s string) bool { return strings.TrimSpace(s) != "" }

func diffEvents(o, n EventsConfig) []string {
	var out []string
	if !reflect.DeepEqual(o.Kilton, n.Kilton) {
		out = append(out, "kilton")
	}
	if !reflect.DeepEqual(o.ManaPay, n.ManaPay) {
		out = append(out, "mana_pay")
	}
	if !reflect.DeepEqual(o.MagicPond, n.MagicPond) {
		out = append(out, "magic_pond")
	}

	oldC := map[string]CustomEventConfig{}
	for _, c := range o.Custom {
		oldC[c.Name] = c
	}
	newC := map[string]CustomEventConfig{}
	for _, c := range n.Custom {
		newC[c.Name] = c
	}
	for name, c := range newC {
		if prev, ok := oldC[name]; !ok || !reflect.DeepEqual(prev, c) {
			out = append(out, "custom:"+name)
		}
	}
	for name := range oldC {
		if _, ok := newC[name]; !ok {
			out = append(out, "custom:"+name)
		}
	}
	sort.Strings(out)
	return out
}
