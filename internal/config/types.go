package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "5s", "6h"). Unknown fields are
// rejected so typos surface at load/reload time.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Discord   DiscordConfig   `json:"discord"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Chat      ChatConfig      `json:"chat"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`
	Events    EventsConfig    `json:"events"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Remote  LoggingRemote `json:"remote,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRemote forwards warnings and errors to a Discord webhook.
type LoggingRemote struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url,omitempty"` // secret; never logged
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type DiscordConfig struct {
	BotToken string `json:"bot_token,omitempty"` // secret; never logged
	APIBase  string `json:"api_base,omitempty"`  // default: https://discord.com/api/v10
	Username string `json:"username,omitempty"`  // webhook display name
	Timeout  string `json:"timeout,omitempty"`   // per request, default 10s
}

// NotifierConfig controls the async delivery pipeline.
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

const (
	ChatSourceStdio     = "stdio"
	ChatSourceWebSocket = "websocket"
)

type ChatConfig struct {
	Source       string            `json:"source"` // stdio | websocket
	URL          string            `json:"url,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"` // values never logged
	PingInterval string            `json:"ping_interval,omitempty"`
}

type SchedulerConfig struct {
	// Timezone for cron triggers. Prediction slots use their own zone.
	Timezone string `json:"timezone,omitempty"`
	// Tick is the cadence driving probe and prediction checks. It is also the
	// notification window for predictions. Default "* * * * *" (every minute).
	Tick string `json:"tick,omitempty"`
}

// MetricsConfig controls the observability HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9310").
//   - A non-loopback address requires a token or allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token; never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: /debug/pprof/

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING to systemd when NOTIFY_SOCKET is set.
	Notify bool `json:"notify,omitempty"`
	// Watchdog pings systemd at half of WATCHDOG_USEC when enabled.
	Watchdog bool `json:"watchdog,omitempty"`
}

type EventsConfig struct {
	Kilton    KiltonConfig        `json:"kilton"`
	ManaPay   ManaPayConfig       `json:"mana_pay"`
	MagicPond MagicPondConfig     `json:"magic_pond"`
	Custom    []CustomEventConfig `json:"custom,omitempty"`
}

// Destination selects webhook delivery (webhook_url) or bot delivery
// (channel_id + discord.bot_token). webhook_url wins when both are set.
type Destination struct {
	WebhookURL string `json:"webhook_url,omitempty"` // secret; never logged
	ChannelID  string `json:"channel_id,omitempty"`
}

type KiltonConfig struct {
	Enabled bool `json:"enabled"`
	Destination
	// PingTarget: none | everyone | role:<id> | user:<id> | <snowflake> | literal text.
	PingTarget string `json:"ping_target,omitempty"`
	// NotifyThreshold gates dispatch on amountLeft (default 20,000,000).
	// Use "0" to never notify, leave empty for the default.
	NotifyThreshold string `json:"notify_threshold,omitempty"`
	// PingThreshold gates the mention only. Empty pings whenever a message is sent.
	PingThreshold string `json:"ping_threshold,omitempty"`
	Cooldown      string `json:"cooldown,omitempty"`
	Template      string `json:"template,omitempty"`
	Pattern       string `json:"pattern,omitempty"`
}

type ManaPayConfig struct {
	Enabled      bool   `json:"enabled"`
	TargetPlayer string `json:"target_player"`
	Command      string `json:"command,omitempty"`  // default /stats
	Interval     string `json:"interval,omitempty"` // default 6h
	Settle       string `json:"settle,omitempty"`   // default 5s
	Warmup       string `json:"warmup,omitempty"`   // default 10s
	MinAmount    int64  `json:"min_amount,omitempty"`
	// PayTemplate renders the payout command, default "/mana pay {{ .player }} {{ .amount }}".
	PayTemplate string `json:"pay_template,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
}

type MagicPondConfig struct {
	Enabled bool `json:"enabled"`
	Destination
	PingTarget     string   `json:"ping_target,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`        // default America/New_York
	FallbackOffset string   `json:"fallback_offset,omitempty"` // default -05:00
	FallbackName   string   `json:"fallback_name,omitempty"`   // default EST
	Slots          []string `json:"slots,omitempty"`
	LeadTime       string   `json:"lead_time,omitempty"` // default 5m
	Template       string   `json:"template,omitempty"`
}

type CustomEventConfig struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled,omitempty"` // default true
	Pattern string `json:"pattern"`
	Destination
	PingTarget      string `json:"ping_target,omitempty"`
	ThresholdField  string `json:"threshold_field,omitempty"`
	NotifyThreshold string `json:"notify_threshold,omitempty"`
	PingThreshold   string `json:"ping_threshold,omitempty"`
	Cooldown        string `json:"cooldown,omitempty"`
	Template        string `json:"template"`
}

func (c CustomEventConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }
