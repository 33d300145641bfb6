package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"manabot/internal/bot"
	"manabot/internal/chat"
	"manabot/internal/config"
	"manabot/internal/discord"
	"manabot/internal/notifier"
	logx "manabot/pkg/logx"
)

type ReplayStats struct {
	Lines         int
	Notifications int
	Commands      int
}

// Replay feeds every line of r through the rules compiled from cfg. Nothing
// leaves the process: rendered notifications and chat commands are written
// to w instead.
func Replay(ctx context.Context, cfg *config.Config, r io.Reader, w io.Writer, log logx.Logger) (ReplayStats, error) {
	if err := validate(ctx, cfg); err != nil {
		return ReplayStats{}, err
	}
	rules, err := bot.Compile(cfg)
	if err != nil {
		return ReplayStats{}, err
	}
	dopts, err := mapDiscordOptions(cfg)
	if err != nil {
		return ReplayStats{}, err
	}

	p := &printer{w: w, dc: discord.New(dopts, log)}
	b := bot.New(rules, bot.Options{Notifier: p, Commands: p}, log.With(logx.String("comp", "bot")))

	lines := make(chan chat.Line)
	errc := make(chan error, 1)
	go func() {
		errc <- chat.NewStdio(r, nil).Run(ctx, lines)
		close(lines)
	}()

	var stats ReplayStats
	for ln := range lines {
		stats.Lines++
		b.OnLine(ctx, ln.Text)
	}
	if err := <-errc; !errors.Is(err, chat.ErrClosed) {
		return stats, err
	}

	p.mu.Lock()
	stats.Notifications, stats.Commands = p.notes, p.cmds
	p.mu.Unlock()
	return stats, nil
}

// printer stands in for both the notifier and the chat transport.
type printer struct {
	w  io.Writer
	dc *discord.Client

	mu    sync.Mutex
	notes int
	cmds  int
}

func (p *printer) Notify(_ context.Context, n notifier.Notification) error {
	if err := n.Target.Validate(); err != nil {
		return err
	}
	payload := p.dc.BuildPayload(n.Target, n.Body, n.Mention)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.notes++
	_, err := fmt.Fprintf(p.w, "notify kind=%s target=%s\n  %s\n", n.Kind, n.Target, payload.Content)
	return err
}

func (p *printer) SendCommand(_ context.Context, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmds++
	_, err := fmt.Fprintf(p.w, "command %s\n", cmd)
	return err
}
