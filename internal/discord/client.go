package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"manabot/internal/ping"
	logx "manabot/pkg/logx"
)

const (
	DefaultAPIBase = "https://discord.com/api/v10"

	// Discord rejects content longer than this many characters.
	MaxContentRunes = 2000

	maxErrorBody = 512
)

type Options struct {
	APIBase  string
	Username string
	Timeout  time.Duration
	// UserAgent is sent on every request.
	UserAgent string
}

// Ack is returned for a successful delivery.
type Ack struct {
	StatusCode int
	// MessageID is set when Discord echoes the created message (bot channels,
	// or webhooks called with ?wait=true).
	MessageID string
}

// Payload is the JSON body shared by both destination shapes.
type Payload struct {
	Content         string                `json:"content"`
	Username        string                `json:"username,omitempty"`
	AllowedMentions *ping.AllowedMentions `json:"allowed_mentions,omitempty"`
}

// Client is safe for concurrent use.
type Client struct {
	http *http.Client
	opts Options
	log  logx.Logger
}

func New(opts Options, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(opts.APIBase) == "" {
		opts.APIBase = DefaultAPIBase
	}
	opts.APIBase = strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "DiscordBot (manabot, 1.0)"
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &loggingRoundTripper{next: http.DefaultTransport, log: log},
		},
		opts: opts,
		log:  log,
	}
}

// BuildPayload renders the request body for target. Username is only sent to
// webhooks. Content is truncated to MaxContentRunes.
func (c *Client) BuildPayload(target Target, body string, mention ping.Target) Payload {
	prefix, clause := ping.Resolve(mention)
	p := Payload{
		Content:         truncateRunes(prefix+body, MaxContentRunes),
		AllowedMentions: clause,
	}
	if target.Kind == KindWebhook {
		p.Username = strings.TrimSpace(c.opts.Username)
	}
	return p
}

// Send performs exactly one delivery attempt.
func (c *Client) Send(ctx context.Context, target Target, body string, mention ping.Target) (Ack, error) {
	if err := target.Validate(); err != nil {
		return Ack{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	raw, err := encodePayload(c.BuildPayload(target, body, mention))
	if err != nil {
		return Ack{}, fmt.Errorf("encode payload: %w", err)
	}

	endpoint := target.URL
	if target.Kind == KindBotChannel {
		endpoint = c.opts.APIBase + "/channels/" + target.ChannelID + "/messages"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return Ack{}, fmt.Errorf("discord %s: build request: %w", target, redactURLError(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if target.Kind == KindBotChannel {
		req.Header.Set("Authorization", "Bot "+target.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("discord %s: %w", target, redactURLError(err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Ack{StatusCode: resp.StatusCode}, &DeliveryError{
			Target:     target.String(),
			StatusCode: resp.StatusCode,
			Body:       truncateRunes(strings.TrimSpace(string(data)), maxErrorBody),
		}
	}

	ack := Ack{StatusCode: resp.StatusCode}
	if len(data) > 0 {
		var msg struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(data, &msg) == nil {
			ack.MessageID = msg.ID
		}
	}
	return ack, nil
}

// redactURLError strips the webhook token from the URL net/http embeds in
// request errors. The error ends up in logs, history and the bus.
func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactWebhook(ue.URL)
	}
	return err
}

// encodePayload keeps <, > and & literal so mention markup stays readable on
// the wire; quotes, backslashes and control characters are still escaped.
func encodePayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n < 4 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

type loggingRoundTripper struct {
	next http.RoundTripper
	log  logx.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if !t.log.Enabled(logx.LevelDebug) {
		return resp, err
	}
	fields := []logx.Field{
		logx.String("method", req.Method),
		logx.String("host", req.URL.Host),
		logx.Duration("took", time.Since(start)),
	}
	if resp != nil {
		fields = append(fields, logx.Int("status", resp.StatusCode))
	}
	if err != nil {
		fields = append(fields, logx.Err(err))
	}
	t.log.Debug("discord request", fields...)
	return resp, err
}
