package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"manabot/internal/bot"
	"manabot/internal/chat"
	"manabot/internal/config"
	"manabot/internal/discord"
	"manabot/internal/eventbus"
	"manabot/internal/notifier"
	"manabot/internal/observability"
	rtsup "manabot/internal/runtime/supervisor"
	"manabot/internal/scheduler"
	logx "manabot/pkg/logx"
)

const tickJob = "bot.tick"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	dc      *discord.Client
	notif   *notifier.Service
	sched   *scheduler.Service
	bot     *bot.Bot
	src     chat.Source
	metrics *observability.Metrics
	obs     *observability.Server

	systemd config.SystemdConfig
	tick    string

	lines chan chat.Line
	// closed is signaled when a stdio source reaches EOF.
	closed    chan struct{}
	closeOnce sync.Once
}

// NewApp loads and validates the config at cfgPath and wires every service.
// stdio is used when chat.source is "stdio" (the default).
func NewApp(cfgPath string, stdio *chat.Stdio) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validate)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	dopts, err := mapDiscordOptions(cfg)
	if err != nil {
		return nil, err
	}

	// Bootstrap with remote logging off: the sink needs a Discord client,
	// which needs the logger. Apply the final config once the sink is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Remote.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	dc := discord.New(dopts, log.With(logx.String("comp", "discord")))
	logSvc.SetRemoteSink(remoteSink(cfg, dc))
	logSvc.Apply(logCfg)

	bus := eventbus.New()

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, dc, log.With(logx.String("comp", "notifier")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus)

	src, err := newChatSource(cfg, stdio, log.With(logx.String("comp", "chat")))
	if err != nil {
		return nil, err
	}

	rules, err := bot.Compile(cfg)
	if err != nil {
		return nil, err
	}
	b := bot.New(rules, bot.Options{
		Notifier: notifSvc,
		Commands: src,
		Timers:   schedSvc,
		Bus:      bus,
	}, log.With(logx.String("comp", "bot")))

	metrics := observability.NewMetrics(bus)
	ocfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		dc:      dc,
		notif:   notifSvc,
		sched:   schedSvc,
		bot:     b,
		src:     src,
		metrics: metrics,
		systemd: cfg.Systemd,
		tick:    rules.Tick(),
		lines:   make(chan chat.Line, 256),
		closed:  make(chan struct{}),
	}
	a.obs = observability.New(ocfg, metrics, a.health, log.With(logx.String("comp", "observability")))
	a.obs.HandleStatus("notifications", func() any { return a.notif.Snapshot() })
	a.obs.HandleStatus("schedules", func() any { return a.sched.Snapshot() })
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// ChatClosed is closed when the stdio chat stream reaches EOF.
func (a *App) ChatClosed() <-chan struct{} { return a.closed }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	if a.notif.Enabled() {
		a.notif.Start(c)
	} else {
		a.log.Warn("notifier disabled; alerts will be dropped")
	}
	a.sched.Start(c)
	a.obs.Start(c)

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })

	a.startChat()

	if err := a.addTick(a.tick); err != nil {
		return err
	}
	a.bot.OnStart(c)

	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	a.startSystemd()

	a.log.Info("app started",
		logx.String("chat", a.src.Name()),
		logx.String("tick", a.tick),
		logx.Any("kinds", a.bot.Rules().Kinds()),
	)
	return nil
}

func (a *App) addTick(spec string) error {
	_, err := a.sched.AddSchedule(tickJob, spec, 30*time.Second, func(ctx context.Context) error {
		a.bot.OnTick(ctx, time.Now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler.tick: %w", err)
	}
	return nil
}

func (a *App) startChat() {
	a.sup.GoRestart("chat.source", func(c context.Context) error {
		err := a.src.Run(c, a.lines)
		if errors.Is(err, chat.ErrClosed) {
			a.log.Info("chat stream closed", logx.String("source", a.src.Name()))
			a.closeOnce.Do(func() { close(a.closed) })
			return nil
		}
		return err
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))

	a.sup.Go0("chat.dispatch", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case ln := <-a.lines:
				a.bot.OnLine(c, ln.Text)
			}
		}
	})
}

// startReload fans committed config changes out to every live service.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.apply(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs, events := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	has := make(map[string]bool, len(sections))
	for _, s := range sections {
		has[s] = true
	}

	if has["discord"] {
		dopts, err := mapDiscordOptions(next)
		if err != nil {
			a.log.Warn("invalid discord config; keeping previous", logx.Err(err))
		} else {
			a.dc = discord.New(dopts, a.log.With(logx.String("comp", "discord")))
			a.notif.SetSender(a.dc)
		}
	}
	if has["logging"] || has["discord"] {
		a.logs.SetRemoteSink(remoteSink(next, a.dc))
		a.logs.Apply(mapLogConfig(next))
	}

	if has["notifier"] {
		wasEnabled := a.notif.Enabled()
		ncfg, err := mapNotifierConfig(next)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
			switch {
			case wasEnabled && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !wasEnabled && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if has["scheduler"] {
		a.sched.Apply(mapSchedulerConfig(next))
	}

	if has["events"] || has["scheduler"] || has["discord"] {
		rules, err := bot.Compile(next)
		if err != nil {
			a.log.Warn("invalid event rules; keeping previous", logx.Err(err))
		} else {
			a.bot.Apply(rules)
			if rules.Tick() != a.tick {
				if err := a.addTick(rules.Tick()); err != nil {
					a.log.Warn("tick schedule rejected", logx.Err(err))
				} else {
					a.tick = rules.Tick()
				}
			}
			if len(events) > 0 {
				a.log.Info("event rules updated", logx.String("events", strings.Join(events, ",")))
			}
		}
	}

	if has["metrics"] {
		ocfg, err := mapObservabilityConfig(next)
		if err != nil {
			a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
		} else {
			a.obs.Reconfigure(ctx, ocfg)
		}
	}

	if has["chat"] {
		a.log.Warn("chat config changed; restart required for changes to take effect")
	}
	if has["systemd"] {
		a.log.Warn("systemd config changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifySystemd(sdStopping)

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			// respect the caller's deadline; never extend it
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Scheduler first so no tick queues work into a stopping notifier.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// Workers run under the app context, so the queue drains before Cancel.
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	a.sup.Cancel()

	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
