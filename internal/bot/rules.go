package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"manabot/internal/config"
	"manabot/internal/discord"
	"manabot/internal/events"
	"manabot/internal/ping"
	"manabot/internal/schedule"
	"manabot/internal/scheduler"
	"manabot/internal/templates"
)

const (
	DefaultKiltonTemplate        = "**Kilton Sr. is (almost) ready to be summoned!** (${{ comma .amountLeft }} left!) (/warp kiltonsr)"
	DefaultKiltonNotifyThreshold = "20,000,000"

	DefaultProbeCommand = "/stats"
	DefaultPayTemplate  = "/mana pay {{ .player }} {{ .amount }}"
	DefaultMinAmount    = 1000

	KindMagicPond          = "magic_pond"
	DefaultPondZone        = "America/New_York"
	DefaultPondFallback    = "-05:00"
	DefaultPondFallbackTag = "EST"
	DefaultPondLead        = 5 * time.Minute
	DefaultPondTemplate    = `Magic Pond event starting in {{ minutes .lead }} minutes! (at {{ .at.Format "3:04 PM MST" }})`

	DefaultTick = "* * * * *"
)

// DefaultPondSlots are the daily Magic Pond start times (Eastern).
var DefaultPondSlots = []string{"03:00", "06:00", "10:00", "15:00", "18:00", "22:00"}

// placeholderPlayers ship in sample configs and must never receive mana.
var placeholderPlayers = map[string]bool{"player1": true, "player2": true}

// alert is a line-triggered notification rule.
type alert struct {
	kind    string
	pattern *events.Pattern
	// field is the numeric capture both thresholds compare against.
	field    string
	target   discord.Target
	mention  ping.Target
	notify   events.Threshold
	pingGate events.Threshold
	cooldown time.Duration
	tmpl     *templates.Template
}

type payRule struct {
	pattern   *events.Pattern
	player    string // empty disables payouts
	command   string
	minAmount int64
	pay       *templates.Template
	probe     schedule.ProbeConfig
}

type pondRule struct {
	target    discord.Target
	mention   ping.Target
	tmpl      *templates.Template
	predictor schedule.PredictorConfig
}

// Rules is an immutable compiled rule set.
type Rules struct {
	kilton *alert
	pay    *payRule
	custom []*alert
	// matcher indexes every enabled pattern by kind.
	matcher *events.Matcher
	pond    *pondRule

	tick   string
	window time.Duration

	// Warnings are degradations that do not block startup (bad thresholds,
	// missing zones, incomplete destinations).
	Warnings []string
}

// Tick is the scheduler spec driving OnTick.
func (r *Rules) Tick() string { return r.tick }

// Kinds lists the enabled line rules in evaluation order.
func (r *Rules) Kinds() []string { return r.matcher.Kinds() }

// ProbeEnabled reports whether the mana probe runs.
func (r *Rules) ProbeEnabled() bool { return r.pay != nil }

// PredictionEnabled reports whether Magic Pond predictions run.
func (r *Rules) PredictionEnabled() bool { return r.pond != nil }

// Upcoming lists the next n predicted occurrences after now.
func (r *Rules) Upcoming(now time.Time, n int) []schedule.Occurrence {
	if r.pond == nil {
		return nil
	}
	return schedule.NewPredictor(r.pond.predictor).Upcoming(now, n)
}

// Compile validates cfg and builds its rule set. Every error is reported;
// nothing is partially applied.
func Compile(cfg *config.Config) (*Rules, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	c := compiler{token: strings.TrimSpace(cfg.Discord.BotToken)}
	r := &Rules{tick: strings.TrimSpace(cfg.Scheduler.Tick)}
	if r.tick == "" {
		r.tick = DefaultTick
	}
	window, err := scheduler.Cadence(r.tick)
	if err != nil {
		c.fail("scheduler.tick", err)
	}
	r.window = window

	ev := cfg.Events
	if ev.Kilton.Enabled {
		r.kilton = c.kilton(ev.Kilton)
	}
	if ev.ManaPay.Enabled {
		r.pay = c.manaPay(ev.ManaPay)
	}
	if ev.MagicPond.Enabled {
		r.pond = c.magicPond(ev.MagicPond, window)
	}
	for i, ce := range ev.Custom {
		if !ce.IsEnabled() {
			continue
		}
		if a := c.custom(i, ce); a != nil {
			r.custom = append(r.custom, a)
		}
	}

	if err := errors.Join(c.errs...); err != nil {
		return nil, err
	}
	var patterns []*events.Pattern
	if r.kilton != nil {
		patterns = append(patterns, r.kilton.pattern)
	}
	if r.pay != nil {
		patterns = append(patterns, r.pay.pattern)
	}
	for _, a := range r.custom {
		patterns = append(patterns, a.pattern)
	}
	m, err := events.NewMatcher(patterns...)
	if err != nil {
		return nil, fmt.Errorf("events.custom: %w", err)
	}
	r.matcher = m
	r.Warnings = c.warnings
	return r, nil
}

type compiler struct {
	token    string
	errs     []error
	warnings []string
}

func (c *compiler) fail(path string, err error) {
	c.errs = append(c.errs, fmt.Errorf("%s: %w", path, err))
}

func (c *compiler) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *compiler) duration(path, raw string, def time.Duration) time.Duration {
	d, err := config.Duration(path, raw, def)
	if err != nil {
		c.errs = append(c.errs, err)
	}
	return d
}

func (c *compiler) template(path, text, def string) *templates.Template {
	if strings.TrimSpace(text) == "" {
		text = def
	}
	t, err := templates.Compile(path, text)
	if err != nil {
		c.fail(path, err)
	}
	return t
}

func (c *compiler) pattern(path, kind, expr, def string, required ...string) *events.Pattern {
	if strings.TrimSpace(expr) == "" {
		expr = def
	}
	p, err := events.Compile(kind, expr, required...)
	if err != nil {
		c.fail(path, err)
	}
	return p
}

// destination prefers the webhook. An incomplete destination is a warning:
// each triggering event then logs ErrConfigMissing and is dropped.
func (c *compiler) destination(path string, d config.Destination) discord.Target {
	var t discord.Target
	switch {
	case strings.TrimSpace(d.WebhookURL) != "":
		t = discord.Webhook(d.WebhookURL)
	case strings.TrimSpace(d.ChannelID) != "":
		t = discord.BotChannel(d.ChannelID, c.token)
	}
	if err := t.Validate(); err != nil {
		c.warn("%s: %v", path, err)
	}
	return t
}

func (c *compiler) threshold(path, raw string) events.Threshold {
	th := events.ParseThreshold(raw)
	if th.Set && !th.Valid {
		c.warn("%s: %v (treated as never)", path, th.Err)
	}
	return th
}

func (c *compiler) kilton(k config.KiltonConfig) *alert {
	notify := k.NotifyThreshold
	if strings.TrimSpace(notify) == "" {
		notify = DefaultKiltonNotifyThreshold
	}
	return &alert{
		kind:     events.KindKilton,
		pattern:  c.pattern("events.kilton.pattern", events.KindKilton, k.Pattern, events.KiltonExpr, "player", "amount", "amountLeft"),
		field:    "amountLeft",
		target:   c.destination("events.kilton", k.Destination),
		mention:  ping.Parse(k.PingTarget),
		notify:   c.threshold("events.kilton.notify_threshold", notify),
		pingGate: c.threshold("events.kilton.ping_threshold", k.PingThreshold),
		cooldown: c.duration("events.kilton.cooldown", k.Cooldown, 0),
		tmpl:     c.template("events.kilton.template", k.Template, DefaultKiltonTemplate),
	}
}

func (c *compiler) manaPay(m config.ManaPayConfig) *payRule {
	r := &payRule{
		pattern:   c.pattern("events.mana_pay.pattern", events.KindMana, m.Pattern, events.ManaExpr, "mana"),
		player:    strings.TrimSpace(m.TargetPlayer),
		command:   strings.TrimSpace(m.Command),
		minAmount: m.MinAmount,
		pay:       c.template("events.mana_pay.pay_template", m.PayTemplate, DefaultPayTemplate),
		probe: schedule.ProbeConfig{
			Interval: c.duration("events.mana_pay.interval", m.Interval, 6*time.Hour),
			Settle:   c.duration("events.mana_pay.settle", m.Settle, 5*time.Second),
			Warmup:   c.duration("events.mana_pay.warmup", m.Warmup, 10*time.Second),
		},
	}
	if r.command == "" {
		r.command = DefaultProbeCommand
	}
	if r.minAmount <= 0 {
		r.minAmount = DefaultMinAmount
	}
	switch {
	case r.player == "":
		c.warn("events.mana_pay.target_player: empty, payouts disabled")
	case placeholderPlayers[strings.ToLower(r.player)]:
		c.warn("events.mana_pay.target_player: %q is a placeholder, payouts disabled", r.player)
		r.player = ""
	case strings.ContainsAny(r.player, " \t/"):
		c.fail("events.mana_pay.target_player", fmt.Errorf("invalid player name %q", r.player))
	}
	return r
}

func (c *compiler) magicPond(m config.MagicPondConfig, window time.Duration) *pondRule {
	raw := m.Slots
	if len(raw) == 0 {
		raw = DefaultPondSlots
	}
	slots, err := schedule.ParseSlots(raw)
	if err != nil {
		c.fail("events.magic_pond.slots", err)
	}

	offRaw := m.FallbackOffset
	if strings.TrimSpace(offRaw) == "" {
		offRaw = DefaultPondFallback
	}
	off, err := schedule.ParseOffset(offRaw)
	if err != nil {
		c.fail("events.magic_pond.fallback_offset", err)
	}
	label := strings.TrimSpace(m.FallbackName)
	if label == "" {
		label = DefaultPondFallbackTag
	}
	zone := strings.TrimSpace(m.Timezone)
	if zone == "" {
		zone = DefaultPondZone
	}
	loc, zerr := schedule.LoadZone(zone, schedule.Fallback{Name: label, Offset: off})
	if zerr != nil {
		c.warn("events.magic_pond.timezone: %v", zerr)
	}

	lead := c.duration("events.magic_pond.lead_time", m.LeadTime, DefaultPondLead)
	if window > 0 && lead < window {
		c.fail("events.magic_pond.lead_time", fmt.Errorf("lead time %s is shorter than the tick cadence %s", lead, window))
	}

	return &pondRule{
		target:  c.destination("events.magic_pond", m.Destination),
		mention: ping.Parse(m.PingTarget),
		tmpl:    c.template("events.magic_pond.template", m.Template, DefaultPondTemplate),
		predictor: schedule.PredictorConfig{
			Slots:    slots,
			Lead:     lead,
			Window:   window,
			Location: loc,
		},
	}
}

func (c *compiler) custom(i int, ce config.CustomEventConfig) *alert {
	path := fmt.Sprintf("events.custom[%d]", i)
	name := strings.TrimSpace(ce.Name)
	if name == events.KindKilton || name == events.KindMana || name == KindMagicPond {
		c.fail(path+".name", fmt.Errorf("%q is reserved", name))
		return nil
	}
	if strings.TrimSpace(ce.Pattern) == "" {
		c.fail(path+".pattern", errors.New("required"))
		return nil
	}
	field := strings.TrimSpace(ce.ThresholdField)
	var required []string
	if field != "" {
		required = append(required, field)
	} else if strings.TrimSpace(ce.NotifyThreshold) != "" || strings.TrimSpace(ce.PingThreshold) != "" {
		c.fail(path+".threshold_field", errors.New("required when a threshold is set"))
	}
	if strings.TrimSpace(ce.Template) == "" {
		c.fail(path+".template", errors.New("required"))
	}
	return &alert{
		kind:     name,
		pattern:  c.pattern(path+".pattern", name, ce.Pattern, "", required...),
		field:    field,
		target:   c.destination(path, ce.Destination),
		mention:  ping.Parse(ce.PingTarget),
		notify:   c.threshold(path+".notify_threshold", ce.NotifyThreshold),
		pingGate: c.threshold(path+".ping_threshold", ce.PingThreshold),
		cooldown: c.duration(path+".cooldown", ce.Cooldown, 0),
		tmpl:     c.template(path+".template", ce.Template, ""),
	}
}
