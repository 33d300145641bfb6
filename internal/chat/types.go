// Package chat connects manabot to a game-chat relay.
//
// A Source delivers decoded chat lines in order and accepts literal commands
// to inject back into the same chat. Connection lifecycle beyond a simple
// reconnect loop belongs to the relay, not to manabot.
package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConnected = errors.New("chat: not connected")
	ErrClosed       = errors.New("chat: source closed")
)

// Line is one decoded chat line.
type Line struct {
	Text string
	At   time.Time
}

// Source is a chat relay. Run blocks, pushing lines to out in arrival order,
// until ctx is done or the connection fails.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Line) error
	SendCommand(ctx context.Context, cmd string) error
}
