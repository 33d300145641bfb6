package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"manabot/internal/config"
	"manabot/internal/discord"
	"manabot/internal/eventbus"
	"manabot/internal/notifier"
	"manabot/internal/ping"
	"manabot/internal/scheduler"
	logx "manabot/pkg/logx"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kiltonLine = "[KILTON SR.] Alice contributed $500 towards summoning Kilton Sr. $19,500,000 Left (/warp kiltonsr)"

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notifier.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) all() []notifier.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.Notification(nil), f.sent...)
}

type fakeCommands struct {
	mu   sync.Mutex
	cmds []string
}

func (f *fakeCommands) SendCommand(_ context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeCommands) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

type onceCall struct {
	name string
	at   time.Time
	job  scheduler.Job
}

type fakeOnce struct{ calls []onceCall }

func (f *fakeOnce) AddOnce(name string, at time.Time, _ time.Duration, job scheduler.Job) (string, error) {
	f.calls = append(f.calls, onceCall{name: name, at: at, job: job})
	return name, nil
}

func (f *fakeOnce) named(name string) []onceCall {
	var out []onceCall
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	bot   *Bot
	notes *fakeNotifier
	cmds  *fakeCommands
	once  *fakeOnce
	bus   eventbus.Bus
	clock *clock
}

func newHarness(t *testing.T, cfg *config.Config, start time.Time) *harness {
	t.Helper()
	rules, err := Compile(cfg)
	require.NoError(t, err)
	h := &harness{
		notes: &fakeNotifier{},
		cmds:  &fakeCommands{},
		once:  &fakeOnce{},
		bus:   eventbus.New(),
		clock: &clock{now: start},
	}
	h.bot = New(rules, Options{
		Notifier: h.notes,
		Commands: h.cmds,
		Timers:   h.once,
		Bus:      h.bus,
		Now:      h.clock.Now,
	}, logx.Nop())
	return h
}

func kiltonConfig() *config.Config {
	return &config.Config{
		Discord: config.DiscordConfig{BotToken: "tok"},
		Events: config.EventsConfig{
			Kilton: config.KiltonConfig{
				Enabled:         true,
				Destination:     config.Destination{ChannelID: "42"},
				PingTarget:      "role:123",
				NotifyThreshold: "20000000",
			},
		},
	}
}

func TestKiltonEndToEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t, kiltonConfig(), time.Now())

	h.bot.OnLine(context.Background(), kiltonLine)

	sent := h.notes.all()
	require.Len(t, sent, 1)
	n := sent[0]
	assert.Equal(t, "kilton", n.Kind)
	assert.Equal(t, discord.BotChannel("42", "tok"), n.Target)
	assert.Equal(t, ping.Target{Kind: ping.Role, ID: "123"}, n.Mention)
	assert.Equal(t, "**Kilton Sr. is (almost) ready to be summoned!** ($19,500,000 left!) (/warp kiltonsr)", n.Body)

	p := discord.New(discord.Options{}, logx.Nop()).BuildPayload(n.Target, n.Body, n.Mention)
	assert.True(t, strings.HasPrefix(p.Content, "<@&123> "), p.Content)
	require.NotNil(t, p.AllowedMentions)
	assert.Equal(t, []string{"123"}, p.AllowedMentions.Roles)
}

func TestKiltonAboveNotifyThreshold(t *testing.T) {
	t.Parallel()
	h := newHarness(t, kiltonConfig(), time.Now())
	h.bot.OnLine(context.Background(), strings.Replace(kiltonLine, "$19,500,000", "$20,000,001", 1))
	assert.Empty(t, h.notes.all())

	h.bot.OnLine(context.Background(), strings.Replace(kiltonLine, "$19,500,000", "$20,000,000", 1))
	assert.Len(t, h.notes.all(), 1)
}

func TestKiltonPingThresholdSuppressesMentionOnly(t *testing.T) {
	t.Parallel()
	cfg := kiltonConfig()
	cfg.Events.Kilton.PingThreshold = "10,000,000"
	h := newHarness(t, cfg, time.Now())

	h.bot.OnLine(context.Background(), kiltonLine)
	sent := h.notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, ping.None, sent[0].Mention.Kind)
}

func TestKiltonInvalidPingThresholdStillSends(t *testing.T) {
	t.Parallel()
	cfg := kiltonConfig()
	cfg.Events.Kilton.PingThreshold = "lots"
	h := newHarness(t, cfg, time.Now())
	require.NotEmpty(t, h.bot.Rules().Warnings)

	h.bot.OnLine(context.Background(), kiltonLine)
	sent := h.notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, ping.None, sent[0].Mention.Kind)
}

func TestKiltonCooldownKey(t *testing.T) {
	t.Parallel()
	cfg := kiltonConfig()
	cfg.Events.Kilton.Cooldown = "10m"
	h := newHarness(t, cfg, time.Now())
	h.bot.OnLine(context.Background(), kiltonLine)
	sent := h.notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "kilton", sent[0].Key)
	assert.Equal(t, 10*time.Minute, sent[0].Cooldown)
}

func TestWebhookWinsOverChannel(t *testing.T) {
	t.Parallel()
	cfg := kiltonConfig()
	cfg.Events.Kilton.WebhookURL = "https://discord.com/api/webhooks/1/abc"
	h := newHarness(t, cfg, time.Now())
	h.bot.OnLine(context.Background(), kiltonLine)
	sent := h.notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, discord.KindWebhook, sent[0].Target.Kind)
}

func TestMissingDestinationIsWarning(t *testing.T) {
	t.Parallel()
	cfg := kiltonConfig()
	cfg.Events.Kilton.Destination = config.Destination{}
	rules, err := Compile(cfg)
	require.NoError(t, err)
	require.Len(t, rules.Warnings, 1)
	assert.Contains(t, rules.Warnings[0], "events.kilton")
}

func TestNonMatchingLinesAreIgnored(t *testing.T) {
	t.Parallel()
	cfg := kiltonConfig()
	cfg.Events.ManaPay = config.ManaPayConfig{Enabled: true, TargetPlayer: "bob"}
	h := newHarness(t, cfg, time.Now())
	for _, line := range []string{"", "hello", "[KILTON SR.] Alice contributed", "Mana: "} {
		h.bot.OnLine(context.Background(), line)
	}
	assert.Empty(t, h.notes.all())
	assert.Empty(t, h.cmds.all())
}

func manaConfig(player string) *config.Config {
	return &config.Config{
		Events: config.EventsConfig{
			ManaPay: config.ManaPayConfig{
				Enabled:      true,
				TargetPlayer: player,
				Interval:     "6h",
				Warmup:       "10s",
				Settle:       "5s",
			},
		},
	}
}

func TestProbeEndToEnd(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, manaConfig("bob"), start)
	ctx := context.Background()

	h.bot.OnStart(ctx)
	assert.Empty(t, h.cmds.all(), "warm-up must delay the first probe")

	first := start.Add(10 * time.Second)
	h.bot.OnTick(ctx, first)
	require.Equal(t, []string{"/stats"}, h.cmds.all())

	for at := first.Add(time.Minute); at.Before(start.Add(6*time.Hour - 10*time.Second)); at = at.Add(time.Minute) {
		h.bot.OnTick(ctx, at)
	}
	assert.Len(t, h.cmds.all(), 1)

	h.bot.OnTick(ctx, first.Add(6*time.Hour))
	assert.Len(t, h.cmds.all(), 2)
}

func TestWarmupTimerSendsFirstProbe(t *testing.T) {
	t.Parallel()
	// Off the minute boundary, so the minute tick would be 20s late.
	start := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
	h := newHarness(t, manaConfig("bob"), start)
	ctx := context.Background()

	h.bot.OnStart(ctx)
	assert.Empty(t, h.cmds.all())

	warmups := h.once.named(warmupJob)
	require.Len(t, warmups, 1)
	assert.Equal(t, start.Add(10*time.Second), warmups[0].at)

	h.clock.Set(warmups[0].at)
	require.NoError(t, warmups[0].job(ctx))
	assert.Equal(t, []string{"/stats"}, h.cmds.all())

	// The next minute tick does not probe again.
	h.bot.OnTick(ctx, time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC))
	assert.Len(t, h.cmds.all(), 1)
}

func TestWarmupTimerNotArmedWithoutProbe(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pondConfig(), time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC))
	h.bot.OnStart(context.Background())
	assert.Empty(t, h.once.named(warmupJob))
}

func TestProbeSettleUnconfirmed(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, manaConfig("bob"), start)
	probes, unsub := h.bus.Subscribe(8, EventProbe)
	defer unsub()

	h.bot.OnStart(context.Background())
	h.bot.OnTick(context.Background(), start.Add(10*time.Second))
	settles := h.once.named(settleJob)
	require.Len(t, settles, 1)
	call := settles[0]
	assert.Equal(t, start.Add(15*time.Second), call.at)

	h.clock.Set(call.at)
	require.NoError(t, call.job(context.Background()))

	var outcomes []string
	for len(probes) > 0 {
		outcomes = append(outcomes, (<-probes).Data.(ProbeEvent).Outcome)
	}
	assert.Equal(t, []string{ProbeSent, ProbeUnconfirmed}, outcomes)
}

func TestManaReplyPaysOut(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, manaConfig("bob"), start)
	probes, unsub := h.bus.Subscribe(8, EventProbe)
	defer unsub()
	ctx := context.Background()

	h.bot.OnStart(ctx)
	h.bot.OnTick(ctx, start.Add(10*time.Second))
	h.clock.Set(start.Add(12 * time.Second))
	h.bot.OnLine(ctx, "§6Mana: §e12.345")
	h.bot.OnTick(ctx, start.Add(70*time.Second))

	assert.Equal(t, []string{"/stats", "/mana pay bob 12345"}, h.cmds.all())
	var outcomes []string
	for len(probes) > 0 {
		outcomes = append(outcomes, (<-probes).Data.(ProbeEvent).Outcome)
	}
	assert.Equal(t, []string{ProbeSent, ProbeConfirmed}, outcomes)
}

func TestManaReplyBelowMinimum(t *testing.T) {
	t.Parallel()
	h := newHarness(t, manaConfig("bob"), time.Now())
	h.bot.OnLine(context.Background(), "Mana: 999")
	assert.Empty(t, h.cmds.all())
}

func TestManaPlaceholderPlayerDisablesPayout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, manaConfig("player1"), time.Now())
	assert.NotEmpty(t, h.bot.Rules().Warnings)
	h.bot.OnLine(context.Background(), "Mana: 50,000")
	assert.Empty(t, h.cmds.all())
}

func pondConfig() *config.Config {
	return &config.Config{
		Discord: config.DiscordConfig{BotToken: "tok"},
		Events: config.EventsConfig{
			MagicPond: config.MagicPondConfig{
				Enabled:     true,
				Destination: config.Destination{ChannelID: "77"},
				PingTarget:  "everyone",
				Timezone:    "UTC",
				Slots:       []string{"15:00"},
				LeadTime:    "5m",
			},
		},
	}
}

func TestPredictionFiresOnce(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, pondConfig(), day.Add(10*time.Hour))
	ctx := context.Background()

	h.bot.OnTick(ctx, day.Add(14*time.Hour+55*time.Minute+10*time.Second))
	h.bot.OnTick(ctx, day.Add(14*time.Hour+55*time.Minute+50*time.Second))
	h.bot.OnTick(ctx, day.Add(14*time.Hour+56*time.Minute))

	sent := h.notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, KindMagicPond, sent[0].Kind)
	assert.Equal(t, "Magic Pond event starting in 5 minutes! (at 3:00 PM UTC)", sent[0].Body)
	assert.Equal(t, ping.Everyone, sent[0].Mention.Kind)
	assert.Equal(t, discord.BotChannel("77", "tok"), sent[0].Target)
}

func TestPredictionNotRetroactive(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, pondConfig(), day)
	h.bot.OnTick(context.Background(), day.Add(14*time.Hour+57*time.Minute))
	assert.Empty(t, h.notes.all())
}

func TestApplyKeepsPredictionState(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, pondConfig(), day)
	ctx := context.Background()

	h.bot.OnTick(ctx, day.Add(14*time.Hour+55*time.Minute))
	rules, err := Compile(pondConfig())
	require.NoError(t, err)
	h.bot.Apply(rules)
	h.bot.OnTick(ctx, day.Add(14*time.Hour+55*time.Minute+30*time.Second))

	assert.Len(t, h.notes.all(), 1)
}

func TestPredictionWithIrregularTick(t *testing.T) {
	t.Parallel()
	cfg := pondConfig()
	cfg.Scheduler.Tick = "0,1 * * * *"
	cfg.Events.MagicPond.LeadTime = "70m"
	h := newHarness(t, cfg, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	sched, err := cron.ParseStandard(cfg.Scheduler.Tick)
	require.NoError(t, err)
	end := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	ticks := 0
	for at := sched.Next(time.Date(2024, 4, 30, 23, 59, 0, 0, time.UTC)); at.Before(end); at = sched.Next(at) {
		h.bot.OnTick(context.Background(), at)
		ticks++
	}

	assert.Equal(t, 48, ticks)
	sent := h.notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "Magic Pond event starting in 70 minutes! (at 3:00 PM UTC)", sent[0].Body)
}

func TestIrregularTickRejectsShortLead(t *testing.T) {
	t.Parallel()
	cfg := pondConfig()
	cfg.Scheduler.Tick = "0,1 * * * *"
	_, err := Compile(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events.magic_pond.lead_time")
}

func customConfig() *config.Config {
	return &config.Config{
		Events: config.EventsConfig{
			Custom: []config.CustomEventConfig{{
				Name:            "boss",
				Pattern:         `(?P<boss>\w+) has spawned with (?P<hp>\S+) HP`,
				Destination:     config.Destination{WebhookURL: "https://discord.com/api/webhooks/1/abc"},
				ThresholdField:  "hp",
				NotifyThreshold: "1,000,000",
				Template:        "{{ .boss }} spawned ({{ comma .hp }} HP)",
			}},
		},
	}
}

func TestCustomRule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, customConfig(), time.Now())
	ctx := context.Background()

	h.bot.OnLine(ctx, "Wither has spawned with 500000 HP")
	h.bot.OnLine(ctx, "Dragon has spawned with 2,000,000 HP")

	sent := h.notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "boss", sent[0].Kind)
	assert.Equal(t, "Wither spawned (500,000 HP)", sent[0].Body)
	assert.Equal(t, []string{"boss"}, h.bot.Rules().Kinds())
}

func TestCustomRuleMatchFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, customConfig(), time.Now())
	failures, unsub := h.bus.Subscribe(4, EventMatchFailed)
	defer unsub()

	h.bot.OnLine(context.Background(), "Wither has spawned with lots HP")
	assert.Empty(t, h.notes.all())
	require.Len(t, failures, 1)
	ev := (<-failures).Data.(MatchFailedEvent)
	assert.Equal(t, "boss", ev.Kind)
	assert.Equal(t, "hp", ev.Field)
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "lead shorter than tick",
			mutate: func(c *config.Config) { c.Events.MagicPond = config.MagicPondConfig{Enabled: true, LeadTime: "30s"} },
			want:   "events.magic_pond.lead_time",
		},
		{
			name: "bad slot",
			mutate: func(c *config.Config) {
				c.Events.MagicPond = config.MagicPondConfig{Enabled: true, Slots: []string{"25:00"}}
			},
			want: "events.magic_pond.slots",
		},
		{
			name: "missing threshold group",
			mutate: func(c *config.Config) {
				c.Events.Custom = []config.CustomEventConfig{{Name: "x", Pattern: "foo", ThresholdField: "n", Template: "t"}}
			},
			want: "events.custom[0].pattern",
		},
		{
			name: "threshold without field",
			mutate: func(c *config.Config) {
				c.Events.Custom = []config.CustomEventConfig{{Name: "x", Pattern: "foo", NotifyThreshold: "5", Template: "t"}}
			},
			want: "events.custom[0].threshold_field",
		},
		{
			name: "reserved name",
			mutate: func(c *config.Config) {
				c.Events.Custom = []config.CustomEventConfig{{Name: "kilton", Pattern: "foo", Template: "t"}}
			},
			want: "reserved",
		},
		{
			name:   "bad tick",
			mutate: func(c *config.Config) { c.Scheduler.Tick = "every so often" },
			want:   "scheduler.tick",
		},
		{
			name:   "bad template",
			mutate: func(c *config.Config) { c.Events.Kilton = config.KiltonConfig{Enabled: true, Template: "{{ .x "} },
			want:   "events.kilton.template",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			tt.mutate(cfg)
			_, err := Compile(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	rules, err := Compile(pondConfig())
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)
	occ := rules.Upcoming(now, 2)
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC), occ[0].At)
	assert.Equal(t, time.Date(2024, 5, 3, 14, 55, 0, 0, time.UTC), occ[1].NotifyAt)
}
