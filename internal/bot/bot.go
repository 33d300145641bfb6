package bot

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"manabot/internal/discord"
	"manabot/internal/eventbus"
	"manabot/internal/events"
	"manabot/internal/notifier"
	"manabot/internal/ping"
	"manabot/internal/schedule"
	"manabot/internal/scheduler"
	logx "manabot/pkg/logx"
)

// Notifier queues a notification without waiting for delivery.
// *notifier.Service implements it.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Commander injects a command into the chat stream. chat.Source implements it.
type Commander interface {
	SendCommand(ctx context.Context, cmd string) error
}

// Timers arms one-shot jobs: the probe warm-up and settle deadlines.
// *scheduler.Service implements it.
type Timers interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job scheduler.Job) (string, error)
}

type Options struct {
	Notifier Notifier
	Commands Commander
	// Timers is optional. Without it the warm-up and an expired settle window
	// are resolved on the next tick.
	Timers Timers
	Bus    eventbus.Bus
	Now    func() time.Time
}

const (
	warmupJob = "manapay.warmup"
	settleJob = "manapay.settle"
)

// Bot is safe for concurrent use: OnLine and OnTick may run in parallel.
type Bot struct {
	log   logx.Logger
	opts  Options
	rules atomic.Pointer[Rules]

	// Owned by the tick path; they survive Apply.
	probe     *schedule.Probe
	predictor *schedule.Predictor
}

func New(rules *Rules, opts Options, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Bot{
		log:       log,
		opts:      opts,
		probe:     schedule.NewProbe(schedule.ProbeConfig{}),
		predictor: schedule.NewPredictor(schedule.PredictorConfig{}),
	}
	b.Apply(rules)
	return b
}

// Rules returns the active rule set.
func (b *Bot) Rules() *Rules { return b.rules.Load() }

// Apply swaps the rule set. Probe timing and the last announced prediction
// carry over.
func (b *Bot) Apply(r *Rules) {
	if r == nil {
		return
	}
	if r.pay != nil {
		b.probe.Apply(r.pay.probe)
	}
	if r.pond != nil {
		b.predictor.Apply(r.pond.predictor)
	}
	b.rules.Store(r)
	for _, w := range r.Warnings {
		b.log.Warn("rule degraded", logx.String("detail", w))
	}
	b.log.Info("rules applied",
		logx.Any("kinds", r.Kinds()),
		logx.Bool("probe", r.ProbeEnabled()),
		logx.Bool("prediction", r.PredictionEnabled()),
		logx.String("tick", r.tick),
	)
}

// OnStart arms the probe warm-up and runs a first tick so a prediction due
// right now is not missed.
func (b *Bot) OnStart(ctx context.Context) {
	now := b.opts.Now()
	b.probe.Start(now)
	if r := b.Rules(); r != nil && r.pay != nil {
		first := b.probe.WarmupDone()
		if first.After(now) && b.opts.Timers != nil {
			if _, err := b.opts.Timers.AddOnce(warmupJob, first, 0, func(ctx context.Context) error {
				b.OnTick(ctx, b.opts.Now())
				return nil
			}); err != nil {
				b.log.Warn("probe warm-up not scheduled; first probe waits for a tick", logx.Err(err))
			}
		}
		b.log.Info("mana probe armed",
			logx.Time("first", first),
			logx.Duration("interval", r.pay.probe.Interval),
		)
	}
	b.OnTick(ctx, now)
}

// OnLine runs the enabled rules against one chat line: Kilton, the mana
// reply, then custom rules. It never blocks on network I/O.
func (b *Bot) OnLine(ctx context.Context, text string) {
	r := b.Rules()
	if r == nil {
		return
	}
	b.publish(EventLine, nil)

	if r.kilton != nil {
		b.onAlert(ctx, r, r.kilton, text)
	}
	if r.pay != nil {
		b.onManaReply(ctx, r, text)
	}
	for _, a := range r.custom {
		b.onAlert(ctx, r, a, text)
	}
}

func (b *Bot) onAlert(ctx context.Context, r *Rules, a *alert, text string) {
	ev, ok := r.matcher.Match(a.kind, text)
	if !ok {
		return
	}
	log := b.log.With(logx.String("kind", a.kind))

	vars := make(map[string]any, len(ev.Fields)+2)
	for k, v := range ev.Fields {
		vars[k] = v
	}
	vars["kind"] = ev.Kind
	vars["line"] = ev.Raw

	mention := a.mention
	if a.field != "" {
		v, err := ev.Amount(a.field)
		if err != nil {
			b.matchFailed(log, a.kind, a.field, err)
			return
		}
		vars[a.field] = v
		if !a.notify.Allows(v) {
			log.Debug("event above notify threshold", logx.Int64(a.field, v), logx.String("threshold", a.notify.String()))
			b.publish(EventDetected, DetectedEvent{Kind: a.kind, Outcome: OutcomeBelowGate})
			return
		}
		if a.pingGate.Set && !a.pingGate.ShouldPing(v) {
			mention = ping.Target{Kind: ping.None}
		}
	}

	body, err := a.tmpl.Render(vars)
	if err != nil {
		log.Warn("template render failed", logx.Err(err))
		b.publish(EventDetected, DetectedEvent{Kind: a.kind, Outcome: OutcomeRenderError})
		return
	}
	pinged := mention.Kind != ping.None
	b.publish(EventDetected, DetectedEvent{Kind: a.kind, Outcome: OutcomeNotify, Pinged: pinged})
	log.Info("event detected", logx.Any("fields", ev.Fields), logx.Bool("ping", pinged))

	n := notifier.Notification{
		Kind:     a.kind,
		Target:   a.target,
		Body:     body,
		Mention:  mention,
		Cooldown: a.cooldown,
	}
	if a.cooldown > 0 {
		n.Key = a.kind
	}
	b.dispatch(ctx, log, n)
}

// onManaReply pays out any /stats reply, whether or not a probe is pending;
// a pending probe is additionally marked confirmed.
func (b *Bot) onManaReply(ctx context.Context, r *Rules, text string) {
	ev, ok := r.matcher.Match(events.KindMana, text)
	if !ok {
		return
	}
	log := b.log.With(logx.String("kind", events.KindMana))
	b.probe.ObserveReply(b.opts.Now())

	mana, err := ev.Amount("mana")
	if err != nil {
		b.matchFailed(log, events.KindMana, "mana", err)
		return
	}
	b.publish(EventDetected, DetectedEvent{Kind: events.KindMana, Outcome: OutcomeReply})

	p := r.pay
	switch {
	case p.player == "":
		log.Debug("mana reply ignored: no target player", logx.Int64("mana", mana))
		return
	case mana < p.minAmount:
		log.Debug("mana below payout minimum", logx.Int64("mana", mana), logx.Int64("min", p.minAmount))
		return
	}
	cmd, err := p.pay.Render(map[string]any{"player": p.player, "amount": mana})
	if err != nil {
		log.Warn("pay template render failed", logx.Err(err))
		return
	}
	log.Info("paying out mana", logx.String("player", p.player), logx.Int64("amount", mana))
	b.command(ctx, "manapay.pay", cmd)
}

// OnTick advances the probe and the predictor.
func (b *Bot) OnTick(ctx context.Context, now time.Time) {
	r := b.Rules()
	if r == nil {
		return
	}
	if r.pay != nil {
		b.settle(now)
		if b.probe.Tick(now) {
			b.emitProbe(ctx, r.pay, now)
		}
	}
	if r.pond != nil {
		for _, occ := range b.predictor.Tick(now) {
			b.announce(ctx, r.pond, occ)
		}
	}
}

func (b *Bot) emitProbe(ctx context.Context, p *payRule, now time.Time) {
	if err := b.command(ctx, "manapay.probe", p.command); err != nil {
		b.publish(EventProbe, ProbeEvent{Outcome: ProbeFailed})
		return
	}
	b.publish(EventProbe, ProbeEvent{Outcome: ProbeSent})
	b.log.Info("mana probe sent", logx.Time("next", b.probe.NextDue()))

	if b.opts.Timers == nil {
		return
	}
	at := now.Add(p.probe.Settle)
	if _, err := b.opts.Timers.AddOnce(settleJob, at, 0, func(context.Context) error {
		b.settle(b.opts.Now())
		return nil
	}); err != nil {
		b.log.Warn("probe settle not scheduled", logx.Err(err))
	}
}

func (b *Bot) settle(now time.Time) {
	replied, settled := b.probe.Settle(now)
	if !settled {
		return
	}
	if replied {
		b.publish(EventProbe, ProbeEvent{Outcome: ProbeConfirmed})
		b.log.Debug("mana probe confirmed")
		return
	}
	b.publish(EventProbe, ProbeEvent{Outcome: ProbeUnconfirmed})
	b.log.Info("mana probe unconfirmed: no reply within settle window")
}

func (b *Bot) announce(ctx context.Context, p *pondRule, occ schedule.Occurrence) {
	log := b.log.With(logx.String("kind", KindMagicPond), logx.Time("at", occ.At))
	body, err := p.tmpl.Render(map[string]any{
		"lead": occ.Lead,
		"at":   occ.At,
		"slot": occ.Slot.String(),
	})
	if err != nil {
		log.Warn("template render failed", logx.Err(err))
		return
	}
	b.publish(EventPrediction, PredictionEvent{Slot: occ.Slot.String(), At: occ.At})
	log.Info("prediction due", logx.Duration("lead", occ.Lead))
	b.dispatch(ctx, log, notifier.Notification{
		Kind:    KindMagicPond,
		Target:  p.target,
		Body:    body,
		Mention: p.mention,
		Key:     occ.At.UTC().Format(time.RFC3339),
	})
}

func (b *Bot) dispatch(ctx context.Context, log logx.Logger, n notifier.Notification) {
	if b.opts.Notifier == nil {
		log.Warn("notification dropped: no notifier")
		return
	}
	err := b.opts.Notifier.Notify(ctx, n)
	switch {
	case err == nil:
	case errors.Is(err, discord.ErrConfigMissing):
		log.Warn("notification dropped: destination not configured", logx.Err(err))
	case errors.Is(err, notifier.ErrDisabled):
		log.Debug("notification skipped: notifier disabled")
	default:
		log.Warn("notification not queued", logx.Err(err))
	}
}

func (b *Bot) command(ctx context.Context, name, cmd string) error {
	var err error
	if b.opts.Commands == nil {
		err = errors.New("no command transport")
	} else {
		err = b.opts.Commands.SendCommand(ctx, cmd)
	}
	ev := CommandEvent{Name: name}
	if err != nil {
		ev.Error = err.Error()
		b.log.Warn("chat command failed", logx.String("name", name), logx.Err(err))
	}
	b.publish(EventCommand, ev)
	return err
}

func (b *Bot) matchFailed(log logx.Logger, kind, field string, err error) {
	log.Debug("match failure", logx.String("field", field), logx.Err(err))
	b.publish(EventMatchFailed, MatchFailedEvent{Kind: kind, Field: field, Error: err.Error()})
}

func (b *Bot) publish(typ string, data any) {
	if b.opts.Bus == nil {
		return
	}
	b.opts.Bus.Publish(eventbus.Event{Type: typ, Time: b.opts.Now(), Data: data})
}
